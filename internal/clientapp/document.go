package clientapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/identity"
	"github.com/expressiv/approvaldesk/internal/upstream"
)

type loadedDocument struct {
	raw     record
	view    documentView
	lookups lookups
}

// loadDocument fetches the document and the lookup lists at the same time.
func (s *server) loadDocument(ctx context.Context, sess identity.Session, spec *docflow.KindSpec, id, subtype string) (*loadedDocument, error) {
	var (
		raw json.RawMessage
		l   lookups
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.api.GetData(gctx, sess.Token, spec.DetailURL(id, subtype), nil, &raw)
	})
	g.Go(func() error {
		l = s.loadLookups(gctx, sess.Token)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, upstream.ErrNotFound
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	view := normalizeDocument(rec, l)
	if view.ID == "" {
		view.ID = id
	}
	if view.Subtype == "" {
		view.Subtype = spec.Subtype(subtype)
	}
	return &loadedDocument{raw: rec, view: view, lookups: l}, nil
}

func (s *server) handleLoadError(w http.ResponseWriter, r *http.Request, spec *docflow.KindSpec, id string, err error) {
	switch {
	case errors.Is(err, upstream.ErrUnauthorized):
		s.expireSession(w, r)
	case errors.Is(err, upstream.ErrNotFound):
		http.Error(w, spec.Name+" not found", http.StatusNotFound)
	default:
		s.logger.Warn("document fetch failed", zap.String("kind", string(spec.Kind)), zap.String("id", id), zap.Error(err))
		http.Error(w, "unable to load document", http.StatusBadGateway)
	}
}

func (s *server) documentPage(w http.ResponseWriter, r *http.Request) {
	role, spec, ok := s.routeTarget(w, r)
	if !ok {
		return
	}
	sess := mustSession(r)
	id := chi.URLParam(r, "id")
	query := r.URL.Query()
	tab := docflow.ParseTab(query.Get("tab"))

	doc, err := s.loadDocument(r.Context(), sess, spec, id, query.Get("type"))
	if err != nil {
		s.handleLoadError(w, r, spec, id, err)
		return
	}

	actor := actorFor(sess, doc.lookups)
	var summary docflow.ApprovalSummary
	if spec.Protocol == docflow.ProtocolApprovalSummary {
		summary = approvalSummaryFrom(doc.raw, id)
	}
	data := pageData{
		Error:          query.Get("error"),
		SuccessMessage: query.Get("message"),
		User:           sess.Claims,
		UserName:       actor.Name,
		Role:           role,
		Kind:           spec,
		Tab:            tab,
		Document:       &doc.view,
		CanAct:         docflow.CanAct(spec, role, doc.view.Status, query.Get("tab"), summary, actor),
		Decisions:      docflow.Decisions(spec, role),
		RemarksPrefix:  docflow.RemarksPrefix(actor.Name, role),
		ReturnPath:     dashboardPath(role, spec, tab),
	}
	s.render(w, s.documentTmpl, "document.html", data)
}

func (s *server) printPage(w http.ResponseWriter, r *http.Request) {
	role, spec, ok := s.routeTarget(w, r)
	if !ok {
		return
	}
	sess := mustSession(r)
	id := chi.URLParam(r, "id")

	doc, err := s.loadDocument(r.Context(), sess, spec, id, r.URL.Query().Get("type"))
	if err != nil {
		s.handleLoadError(w, r, spec, id, err)
		return
	}
	data := pageData{
		User:      sess.Claims,
		UserName:  actorFor(sess, doc.lookups).Name,
		Role:      role,
		Kind:      spec,
		Document:  &doc.view,
		PrintedAt: s.now().Format("02 Jan 2006 15:04"),
	}
	s.render(w, s.printTmpl, "print.html", data)
}

func dashboardPath(role docflow.Role, spec *docflow.KindSpec, tab string) string {
	return "/dashboard/" + string(role) + "/" + string(spec.Kind) + "?tab=" + url.QueryEscape(tab)
}

func documentPath(role docflow.Role, spec *docflow.KindSpec, id, subtype, tab string) string {
	q := url.Values{}
	if tab != "" {
		q.Set("tab", tab)
	}
	if strings.TrimSpace(subtype) != "" {
		q.Set("type", subtype)
	}
	path := "/documents/" + string(role) + "/" + string(spec.Kind) + "/" + url.PathEscape(id)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return path
}
