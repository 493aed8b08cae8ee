package clientapp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/upstream"
)

// submitAction sends one decision upstream. The document is re-read first so the status and
// approval block sent back are the backend's current ones, not what the form was rendered with.
func (s *server) submitAction(w http.ResponseWriter, r *http.Request) {
	role, spec, ok := s.routeTarget(w, r)
	if !ok {
		return
	}
	sess := mustSession(r)
	id := chi.URLParam(r, "id")

	if err := r.ParseForm(); err != nil {
		redirectWith(w, r, documentPath(role, spec, id, "", ""), "error", "Invalid form submission")
		return
	}
	subtype := strings.TrimSpace(r.FormValue("type"))
	tab := docflow.ParseTab(r.FormValue("tab"))
	back := documentPath(role, spec, id, subtype, tab)

	decision, err := docflow.ParseDecision(r.FormValue("decision"))
	if err != nil {
		redirectWith(w, r, back, "error", "Choose an action")
		return
	}

	doc, err := s.loadDocument(r.Context(), sess, spec, id, subtype)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			s.expireSession(w, r)
			return
		}
		redirectWith(w, r, back, "error", "Unable to load document: "+err.Error())
		return
	}
	actor := actorFor(sess, doc.lookups)
	var summary docflow.ApprovalSummary
	if spec.Protocol == docflow.ProtocolApprovalSummary {
		summary = approvalSummaryFrom(doc.raw, id)
	}
	if !docflow.CanAct(spec, role, doc.view.Status, tab, summary, actor) {
		msg := "This document is " + string(doc.view.Status) + " and cannot be " + strings.ToLower(role.PastTense()) + " now"
		if err := summary.CheckStep(role, actor); summary != nil && err != nil {
			msg = actionErrorMessage(err)
		}
		redirectWith(w, r, back, "error", msg)
		return
	}

	in := docflow.ActionInput{
		DocumentID:    id,
		Subtype:       subtype,
		Role:          role,
		Decision:      decision,
		Remarks:       r.FormValue("remarks"),
		RemarksPrefix: docflow.RemarksPrefix(actor.Name, role),
		Actor:         actor,
		Summary:       summary,
		Now:           s.now(),
	}

	req, err := docflow.BuildRequest(spec, in)
	if err != nil {
		redirectWith(w, r, back, "error", actionErrorMessage(err))
		return
	}

	if _, err := s.api.Send(r.Context(), sess.Token, req.Method, req.Path, req.Body); err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			s.expireSession(w, r)
			return
		}
		s.logger.Warn("document action failed",
			zap.String("kind", string(spec.Kind)),
			zap.String("id", id),
			zap.String("role", string(role)),
			zap.String("decision", string(decision)),
			zap.Error(err),
		)
		redirectWith(w, r, back, "error", actionErrorMessage(err))
		return
	}

	s.logger.Info("document action sent",
		zap.String("kind", string(spec.Kind)),
		zap.String("id", id),
		zap.String("role", string(role)),
		zap.String("decision", string(decision)),
		zap.String("user_id", actor.ID),
	)
	redirectWith(w, r, dashboardPath(role, spec, tab), "message", successMessage(spec, doc.view.Number, role, decision))
}

func actionErrorMessage(err error) string {
	var apiErr *upstream.APIError
	switch {
	case errors.Is(err, docflow.ErrMissingRemarks):
		return "Please enter remarks before rejecting or asking for revision"
	case errors.As(err, &apiErr):
		return apiErr.Error()
	}
	msg := err.Error()
	if msg == "" {
		return "Action failed"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func successMessage(spec *docflow.KindSpec, number string, role docflow.Role, decision docflow.Decision) string {
	var verb string
	switch decision {
	case docflow.DecisionReject:
		verb = "rejected"
	case docflow.DecisionRevise:
		verb = "sent back for revision"
	default:
		verb = strings.ToLower(role.PastTense())
	}
	if number == "" {
		return spec.Name + " " + verb
	}
	return spec.Name + " " + number + " " + verb
}
