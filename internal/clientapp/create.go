package clientapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/upstream"
)

// draftLineSlots is how many blank line rows the creation form offers.
const draftLineSlots = 5

type newDocumentForm struct {
	Steps       []docflow.Role
	Users       []userLookup
	Departments []departmentLookup
	LineSlots   []int
}

func (s *server) creatableKind(w http.ResponseWriter, r *http.Request) (*docflow.KindSpec, bool) {
	spec, ok := s.catalog.Catalog().Kind(docflow.Kind(strings.ToLower(chi.URLParam(r, "kind"))))
	if !ok || spec.Create == nil {
		http.Error(w, "unknown document kind", http.StatusNotFound)
		return nil, false
	}
	return spec, true
}

func newDocumentPath(spec *docflow.KindSpec) string {
	return "/documents/new/" + string(spec.Kind)
}

func (s *server) newDocumentPage(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.creatableKind(w, r)
	if !ok {
		return
	}
	sess := mustSession(r)
	l := s.loadLookups(r.Context(), sess.Token)

	form := &newDocumentForm{
		Steps:       docflow.AssignableRoles(spec),
		Users:       l.Users,
		Departments: l.Departments,
	}
	for i := 1; i <= draftLineSlots; i++ {
		form.LineSlots = append(form.LineSlots, i)
	}
	data := pageData{
		Error:          r.URL.Query().Get("error"),
		SuccessMessage: r.URL.Query().Get("message"),
		User:           sess.Claims,
		UserName:       sess.Claims.Username,
		Role:           docflow.RoleRevise,
		Kind:           spec,
		NewDocument:    form,
	}
	s.render(w, s.newDocumentTmpl, "new.html", data)
}

// createDocument posts a preparer's draft upstream and opens the created document.
func (s *server) createDocument(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.creatableKind(w, r)
	if !ok {
		return
	}
	sess := mustSession(r)
	back := newDocumentPath(spec)
	if err := r.ParseForm(); err != nil {
		redirectWith(w, r, back, "error", "Invalid form submission")
		return
	}

	draft := docflow.Draft{
		Subtype:      r.FormValue("type"),
		Purpose:      r.FormValue("purpose"),
		Currency:     r.FormValue("currency"),
		DepartmentID: r.FormValue("department"),
		Remarks:      r.FormValue("remarks"),
		Assignees:    map[docflow.Role]string{},
		Submit:       r.FormValue("submit") == "submit",
		Preparer:     actorFor(sess, s.loadLookups(r.Context(), sess.Token)),
		Now:          s.now(),
	}
	amounts := r.Form["line_amount"]
	for i, desc := range r.Form["line_description"] {
		line := docflow.DraftLine{Description: desc}
		if i < len(amounts) {
			line.Amount = amounts[i]
		}
		draft.Lines = append(draft.Lines, line)
	}
	for _, role := range docflow.AssignableRoles(spec) {
		draft.Assignees[role] = r.FormValue("assignee_" + string(role))
	}

	req, err := docflow.BuildCreateRequest(spec, draft)
	if err != nil {
		redirectWith(w, r, back, "error", actionErrorMessage(err))
		return
	}
	env, err := s.api.Send(r.Context(), sess.Token, req.Method, req.Path, req.Body)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			s.expireSession(w, r)
			return
		}
		s.logger.Warn("document create failed", zap.String("kind", string(spec.Kind)), zap.Error(err))
		redirectWith(w, r, back, "error", actionErrorMessage(err))
		return
	}

	var created record
	if env != nil && len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &created)
	}
	verb := "saved as draft"
	if draft.Submit {
		verb = "submitted"
	}
	msg := strings.TrimSpace(spec.Name + " " + created.str(numberKeys...))
	id := created.str("id", "stagingID")
	s.logger.Info("document created", zap.String("kind", string(spec.Kind)), zap.String("id", id), zap.Bool("submitted", draft.Submit))
	if id == "" || !spec.HasRole(docflow.RoleRevise) {
		redirectWith(w, r, back, "message", msg+" "+verb)
		return
	}
	redirectWith(w, r, documentPath(docflow.RoleRevise, spec, id, spec.Subtype(draft.Subtype), ""), "message", msg+" "+verb)
}
