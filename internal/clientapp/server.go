package clientapp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/identity"
	"github.com/expressiv/approvaldesk/internal/lookupcache"
	"github.com/expressiv/approvaldesk/internal/middleware"
	"github.com/expressiv/approvaldesk/internal/upstream"
)

const tokenCookieName = "approvaldesk_token"

//go:embed templates/*.html assets/app.css
var templatesFS embed.FS

type Config struct {
	Addr               string
	APIBaseURL         string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	UpstreamTimeout    time.Duration
	CookieSecure       bool
	PageSize           int
	LookupTTL          time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Deps are the collaborators Run does not build itself.
type Deps struct {
	Logger  *zap.Logger
	Catalog *docflow.Holder
	Cache   lookupcache.Cache
	Now     func() time.Time
}

type server struct {
	cfg     Config
	api     *upstream.Client
	catalog *docflow.Holder
	cache   lookupcache.Cache
	logger  *zap.Logger
	now     func() time.Time

	loginTmpl     *template.Template
	dashboardTmpl *template.Template
	listTmpl      *template.Template
	documentTmpl  *template.Template
	printTmpl     *template.Template

	newDocumentTmpl *template.Template
}

type pageData struct {
	Error          string
	SuccessMessage string
	User           identity.Claims
	UserName       string

	Role     docflow.Role
	Kind     *docflow.KindSpec
	Tab      string
	Tabs     []tabLink
	Search   string
	Page     int
	HasPrev  bool
	HasNext  bool
	PrevPage int
	NextPage int

	TotalCount int
	Rows       []documentRow
	Roles      []roleSection
	Creatable  []*docflow.KindSpec

	Document      *documentView
	CanAct        bool
	Decisions     []docflow.Decision
	RemarksPrefix string
	ReturnPath    string
	PrintedAt     string

	NewDocument *newDocumentForm
}

type tabLink struct {
	Name   string
	Label  string
	Active bool
}

type roleSection struct {
	Role  docflow.Role
	Kinds []*docflow.KindSpec
}

func parseTemplate(names ...string) *template.Template {
	paths := make([]string, 0, len(names)+1)
	paths = append(paths, "templates/layout.html")
	for _, n := range names {
		paths = append(paths, "templates/"+n)
	}
	return template.Must(template.New("").Funcs(templateFuncs).ParseFS(templatesFS, paths...))
}

var templateFuncs = template.FuncMap{
	"pathEscape":  url.PathEscape,
	"queryEscape": url.QueryEscape,
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

func newServer(cfg Config, deps Deps) (*server, error) {
	if deps.Catalog == nil || deps.Catalog.Catalog() == nil {
		return nil, errors.New("clientapp: catalog is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = lookupcache.NewMemory()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 10 * time.Second
	}
	return &server{
		cfg:           cfg,
		api:           upstream.New(cfg.APIBaseURL, cfg.UpstreamTimeout, deps.Logger.Named("upstream")),
		catalog:       deps.Catalog,
		cache:         deps.Cache,
		logger:        deps.Logger,
		now:           deps.Now,
		loginTmpl:     parseTemplate("login.html"),
		dashboardTmpl: parseTemplate("dashboard.html"),
		listTmpl:      parseTemplate("list.html"),
		documentTmpl:  parseTemplate("document.html"),
		printTmpl:     template.Must(template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/print.html")),

		newDocumentTmpl: parseTemplate("new.html"),
	}, nil
}

// NewHandler builds the portal's HTTP handler with every middleware applied.
func NewHandler(cfg Config, deps Deps) (http.Handler, error) {
	s, err := newServer(cfg, deps)
	if err != nil {
		return nil, err
	}
	return s.routes(), nil
}

func (s *server) routes() http.Handler {
	limiter := middleware.NewRateLimiter(s.cfg.RateLimitPerMinute, s.cfg.RateLimitBurst, sessionKey)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/assets/app.css", s.appCSSFile)
	r.Get("/login", s.loginPage)
	r.With(limiter.Middleware).Post("/login", s.login)
	r.Post("/logout", s.logout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession, limiter.Middleware)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/dashboard", http.StatusFound)
		})
		r.Get("/dashboard", s.dashboardPage)
		r.Get("/dashboard/{role}/{kind}", s.listPage)
		r.Get("/dashboard/{role}/{kind}/export.xlsx", s.exportList)
		r.Get("/documents/new/{kind}", s.newDocumentPage)
		r.Post("/documents/new/{kind}", s.createDocument)
		r.Get("/documents/{role}/{kind}/{id}", s.documentPage)
		r.Get("/documents/{role}/{kind}/{id}/print", s.printPage)
		r.Post("/documents/{role}/{kind}/{id}/actions", s.submitAction)
	})

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"script-src 'self' 'unsafe-inline'",
		"connect-src 'self'",
		"form-action 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		r,
		middleware.RequestID,
		middleware.AccessLog(s.logger.Named("http")),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
		middleware.NoCache,
		sameOriginPosts,
	)
}

func Run(ctx context.Context, cfg Config, deps Deps) error {
	handler, err := NewHandler(cfg, deps)
	if err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("portal listening", zap.String("addr", cfg.Addr), zap.String("api", cfg.APIBaseURL))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) appCSSFile(w http.ResponseWriter, r *http.Request) {
	css, err := templatesFS.ReadFile("assets/app.css")
	if err != nil {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write(css)
}

// sameOriginPosts rejects cross-site form posts. Browsers send Origin on POST; requests
// without it (curl, tests) are let through and rely on the SameSite cookie.
func sameOriginPosts(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
				u, err := url.Parse(origin)
				if err != nil || !strings.EqualFold(u.Host, r.Host) {
					http.Error(w, "cross-origin request rejected", http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// sessionKey keys the rate limiter by session so users behind one NAT do not share a bucket.
func sessionKey(r *http.Request) string {
	if c, err := r.Cookie(tokenCookieName); err == nil && c.Value != "" {
		sum := sha256.Sum256([]byte(c.Value))
		return "s:" + hex.EncodeToString(sum[:8])
	}
	return "ip:" + middleware.ClientIP(r)
}

func renderHTMLTemplate(w http.ResponseWriter, tmpl *template.Template, name string, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}

func (s *server) render(w http.ResponseWriter, tmpl *template.Template, name string, data pageData) {
	if err := renderHTMLTemplate(w, tmpl, name, data); err != nil {
		http.Error(w, "template render failed", http.StatusInternalServerError)
		s.logger.Error("template render failed", zap.String("template", name), zap.Error(err))
	}
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func redirectWith(w http.ResponseWriter, r *http.Request, path, key, msg string) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	http.Redirect(w, r, path+sep+key+"="+url.QueryEscape(msg), http.StatusFound)
}
