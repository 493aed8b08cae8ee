// Package mockapi is a development stand-in for the document backend. It serves the endpoints
// the portal calls, keeps documents in SQLite and records status changes as they are sent.
// It enforces no workflow rules of its own.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/identity"
	"github.com/expressiv/approvaldesk/internal/middleware"
	"github.com/expressiv/approvaldesk/internal/security"
)

type Config struct {
	Addr         string
	DBPath       string
	JWTSecret    string
	TokenTTL     time.Duration
	Demo         bool
	DemoPassword string
}

type contextKey string

const userContextKey contextKey = "user"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type server struct {
	store   *sqliteStore
	catalog *docflow.Catalog
	secret  []byte
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func newServer(store *sqliteStore, catalog *docflow.Catalog, cfg Config, logger *zap.Logger) (*server, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("MOCKAPI_JWT_SECRET is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{
		store:   store,
		catalog: catalog,
		secret:  []byte(cfg.JWTSecret),
		ttl:     cfg.TokenTTL,
		logger:  logger,
		now:     store.now,
	}, nil
}

func Run(ctx context.Context, cfg Config, catalog *docflow.Catalog, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.Demo {
		res, seeded, err := seedDemo(ctx, store, catalog, cfg.DemoPassword)
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		if seeded {
			logger.Info("demo data loaded",
				zap.Int("users", res.Users),
				zap.Int("documents", res.Documents),
				zap.Int("departments", res.Departments),
			)
		}
	}

	s, err := newServer(store, catalog, cfg, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock api listening", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBPath))
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

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.Get("/api/health", s.health)
	r.Post("/api/authentication/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/api/users", s.listUsers)
		r.Get("/api/users/{id}", s.getUser)
		r.Get("/api/department", s.listDepartments)
		for _, spec := range s.catalog.Kinds() {
			s.mountKind(r, spec)
		}
	})

	return middleware.Chain(
		r,
		middleware.RequestID,
		middleware.AccessLog(s.logger.Named("http")),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{}),
	)
}

// mountKind registers the detail, dashboard and action endpoints a catalogue entry describes.
// Catalogue paths use {id}, {type} and the dashboard placeholders, which are chi route
// parameters as they stand.
func (s *server) mountKind(r chi.Router, spec *docflow.KindSpec) {
	r.Get(spec.DetailPath, s.documentDetail(spec))

	switch spec.Dashboard.Mode {
	case docflow.DashboardApproval:
		base := strings.TrimRight(spec.Dashboard.BasePath, "/")
		r.Get(base+"/approval", s.dashboard(spec, ""))
		r.Get(base+"/rejected", s.dashboard(spec, docflow.TabRejected))
		r.Get(base+"/closed", s.dashboard(spec, docflow.TabClosed))
	case docflow.DashboardAssigned:
		r.Get(spec.Dashboard.ListPath, s.assignedList(spec))
	case docflow.DashboardList:
		r.Get(spec.Dashboard.ListPath, s.documentList(spec))
	}

	if spec.Create != nil {
		r.Post(spec.Create.Path, s.createDocument(spec))
	}

	switch spec.Protocol {
	case docflow.ProtocolStatusPost:
		r.Post(spec.StatusPath, s.statusPost(spec))
	case docflow.ProtocolRoleEndpoint:
		base := strings.TrimRight(spec.ActionBase, "/")
		r.Patch(base+"/prepared/{id}", s.roleEndpoint(spec, docflow.RoleRevise))
		r.Patch(base+"/{actor}/{id}/{verb}", s.roleEndpoint(spec, ""))
	case docflow.ProtocolApprovalSummary:
		r.Method(spec.ApprovalMethod, spec.ApprovalPath, s.approvalSummary(spec))
	}
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.store.lookupUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		s.logger.Error("user lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	if !security.VerifyPassword(req.Password, user.passwordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, expires, err := s.issueToken(user)
	if err != nil {
		s.logger.Error("sign token failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"accessToken": token,
		"expiresAt":   expires.Format(time.RFC3339),
		"user":        user,
	})
}

// issueToken signs the claims the real backend puts in its tokens.
func (s *server) issueToken(u userRecord) (string, time.Time, error) {
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	name := u.FullName
	if name == "" {
		name = u.Username
	}
	claims := jwt.MapClaims{
		identity.ClaimUserID: u.ID,
		identity.ClaimName:   name,
		identity.ClaimRole:   u.Roles,
		"iat":                now.Unix(),
		"exp":                expires.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return signed, expires, err
}

func (s *server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(raw, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(raw, "Bearer "), claims, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, _ := claims[identity.ClaimUserID].(string)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, userID)))
	})
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userContextKey).(string)
	return id
}

func (s *server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.listUsers(r.Context())
	if err != nil {
		s.internalError(w, "list users", err)
		return
	}
	writeData(w, http.StatusOK, users)
}

func (s *server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.getUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		s.internalError(w, "get user", err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (s *server) listDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := s.store.listDepartments(r.Context())
	if err != nil {
		s.internalError(w, "list departments", err)
		return
	}
	writeData(w, http.StatusOK, departments)
}

func (s *server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"status":  true,
		"code":    status,
		"message": http.StatusText(status),
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"status":  false,
		"code":    status,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
