package clientapp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/identity"
	"github.com/expressiv/approvaldesk/internal/lookupcache"
)

func (s *server) fetchUsers(ctx context.Context, token string) ([]userLookup, error) {
	return lookupcache.Fetch(ctx, s.cache, "users", s.cfg.LookupTTL, func(ctx context.Context) ([]userLookup, error) {
		var raw json.RawMessage
		if err := s.api.GetData(ctx, token, "/api/users", nil, &raw); err != nil {
			return nil, err
		}
		records, err := decodeRecords(raw)
		if err != nil {
			return nil, err
		}
		out := make([]userLookup, 0, len(records))
		for _, r := range records {
			out = append(out, userLookup{
				ID:               r.str("id"),
				FullName:         r.str("fullName", "name", "username"),
				EmployeeID:       r.str("employeeId"),
				KansaiEmployeeID: r.str("kansaiEmployeeId"),
				Department:       r.str("department", "departmentName"),
			})
		}
		return out, nil
	})
}

func (s *server) fetchDepartments(ctx context.Context, token string) ([]departmentLookup, error) {
	return lookupcache.Fetch(ctx, s.cache, "departments", s.cfg.LookupTTL, func(ctx context.Context) ([]departmentLookup, error) {
		var raw json.RawMessage
		if err := s.api.GetData(ctx, token, "/api/department", nil, &raw); err != nil {
			return nil, err
		}
		records, err := decodeRecords(raw)
		if err != nil {
			return nil, err
		}
		out := make([]departmentLookup, 0, len(records))
		for _, r := range records {
			out = append(out, departmentLookup{ID: r.str("id"), Name: r.str("name", "departmentName")})
		}
		return out, nil
	})
}

// loadLookups fetches both lists in parallel. Lookups only decorate the page, so failures are
// logged and an empty list is used.
func (s *server) loadLookups(ctx context.Context, token string) lookups {
	var l lookups
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := s.fetchUsers(gctx, token)
		if err != nil {
			s.logger.Warn("user lookup failed", zap.Error(err))
			return nil
		}
		l.Users = users
		return nil
	})
	g.Go(func() error {
		departments, err := s.fetchDepartments(gctx, token)
		if err != nil {
			s.logger.Warn("department lookup failed", zap.Error(err))
			return nil
		}
		l.Departments = departments
		return nil
	})
	_ = g.Wait()
	return l
}

func actorFor(sess identity.Session, l lookups) docflow.Actor {
	actor := docflow.Actor{ID: sess.Claims.UserID, Name: sess.Claims.Username}
	if u, ok := l.user(sess.Claims.UserID); ok {
		if u.FullName != "" {
			actor.Name = u.FullName
		}
		actor.EmployeeID = u.KansaiEmployeeID
		if actor.EmployeeID == "" {
			actor.EmployeeID = u.EmployeeID
		}
	}
	return actor
}

// routeTarget resolves the {role} and {kind} URL params against the live catalogue.
func (s *server) routeTarget(w http.ResponseWriter, r *http.Request) (docflow.Role, *docflow.KindSpec, bool) {
	role, err := docflow.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		http.Error(w, "unknown role", http.StatusNotFound)
		return "", nil, false
	}
	spec, ok := s.catalog.Catalog().Kind(docflow.Kind(strings.ToLower(chi.URLParam(r, "kind"))))
	if !ok || !spec.HasRole(role) {
		http.Error(w, "unknown document kind", http.StatusNotFound)
		return "", nil, false
	}
	return role, spec, true
}

func mustSession(r *http.Request) identity.Session {
	sess, _ := identity.SessionFrom(r.Context())
	return sess
}
