package clientapp

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/identity"
	"github.com/expressiv/approvaldesk/internal/upstream"
)

func (s *server) loginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessionFromRequest(r); err == nil {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	data := pageData{
		Error:          r.URL.Query().Get("error"),
		SuccessMessage: r.URL.Query().Get("message"),
		ReturnPath:     safeReturnPath(r.URL.Query().Get("next")),
	}
	s.render(w, s.loginTmpl, "login.html", data)
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=Invalid+form+submission", http.StatusFound)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	next := safeReturnPath(r.FormValue("next"))
	if username == "" || password == "" {
		http.Redirect(w, r, "/login?error=Username+and+password+are+required", http.StatusFound)
		return
	}

	token, err := s.api.Login(r.Context(), username, password)
	if err != nil {
		var apiErr *upstream.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
			redirectWith(w, r, "/login", "error", apiErr.Error())
		default:
			s.logger.Warn("login failed", zap.String("username", username), zap.Error(err))
			http.Redirect(w, r, "/login?error=Authentication+service+unavailable", http.StatusFound)
		}
		return
	}

	claims, err := identity.FromToken(token, s.now())
	if err != nil {
		s.logger.Warn("login returned unusable token", zap.Error(err))
		http.Redirect(w, r, "/login?error=Unable+to+authenticate", http.StatusFound)
		return
	}

	s.setTokenCookie(w, token, claims.ExpiresAt)
	s.logger.Info("signed in", zap.String("user_id", claims.UserID))
	http.Redirect(w, r, next, http.StatusFound)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	s.clearTokenCookie(w)
	http.Redirect(w, r, "/login?message=Signed+out", http.StatusFound)
}

func (s *server) setTokenCookie(w http.ResponseWriter, token string, expires time.Time) {
	c := &http.Cookie{
		Name:     tokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if !expires.IsZero() {
		c.Expires = expires
	}
	http.SetCookie(w, c)
}

func (s *server) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *server) sessionFromRequest(r *http.Request) (identity.Session, error) {
	c, err := r.Cookie(tokenCookieName)
	if err != nil {
		return identity.Session{}, identity.ErrNoToken
	}
	claims, err := identity.FromToken(c.Value, s.now())
	if err != nil {
		return identity.Session{}, err
	}
	return identity.Session{Token: c.Value, Claims: claims}, nil
}

func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessionFromRequest(r)
		if err != nil {
			if !errors.Is(err, identity.ErrNoToken) {
				s.clearTokenCookie(w)
			}
			target := "/login?error=" + loginErrorParam(err)
			if r.Method == http.MethodGet && r.URL.Path != "/" {
				target += "&next=" + url.QueryEscape(r.URL.RequestURI())
			}
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithSession(r.Context(), sess)))
	})
}

func loginErrorParam(err error) string {
	switch {
	case errors.Is(err, identity.ErrNoToken):
		return "Please+sign+in"
	case errors.Is(err, identity.ErrExpired):
		return "Session+expired"
	}
	return "Session+invalid"
}

// expireSession handles a 401 from upstream in the middle of a page.
func (s *server) expireSession(w http.ResponseWriter, r *http.Request) {
	s.clearTokenCookie(w)
	http.Redirect(w, r, "/login?error=Session+expired", http.StatusFound)
}

// safeReturnPath only allows local absolute paths so the login form cannot redirect off-site.
func safeReturnPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/dashboard"
	}
	return raw
}
