package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/docflow"
)

var errBadAction = errors.New("bad action")

// stepPrefix is the field prefix a role's stamp uses inside an approval block.
var stepPrefix = map[docflow.Role]string{
	docflow.RoleCheck:       "checked",
	docflow.RoleAcknowledge: "acknowledged",
	docflow.RoleApprove:     "approved",
	docflow.RoleReceive:     "received",
	docflow.RoleClose:       "closed",
	docflow.RoleRevise:      "prepared",
}

var summaryFields = []string{"arInvoiceApprovalSummary", "approvalSummary", "approval"}

// documentStatus reads the status the same way the portal does: a top level field first,
// then the approval block.
func documentStatus(body map[string]any) docflow.Status {
	for _, k := range []string{"status", "approvalStatus"} {
		if v, ok := body[k].(string); ok && strings.TrimSpace(v) != "" {
			return docflow.NormalizeStatus(v)
		}
	}
	if summary, _ := summaryBlock(body, false); summary != nil {
		if v, ok := summary["approvalStatus"].(string); ok {
			return docflow.NormalizeStatus(v)
		}
	}
	return ""
}

func summaryBlock(body map[string]any, create bool) (map[string]any, string) {
	for _, k := range summaryFields {
		if m, ok := body[k].(map[string]any); ok {
			return m, k
		}
	}
	if !create {
		return nil, ""
	}
	m := map[string]any{}
	body["approvalSummary"] = m
	return m, "approvalSummary"
}

// setStatus writes status wherever the document already keeps it.
func setStatus(body map[string]any, status docflow.Status) {
	wrote := false
	for _, k := range []string{"status", "approvalStatus"} {
		if _, ok := body[k]; ok {
			body[k] = string(status)
			wrote = true
		}
	}
	if summary, _ := summaryBlock(body, false); summary != nil {
		summary["approvalStatus"] = string(status)
		wrote = true
	}
	if !wrote {
		body["status"] = string(status)
	}
}

func stamp(body map[string]any, role docflow.Role, user userRecord, at time.Time) {
	summary, _ := summaryBlock(body, true)
	prefix := stepPrefix[role]
	summary[prefix+"By"] = user.ID
	summary[prefix+"ByName"] = user.FullName
	summary[prefix+"Date"] = at.UTC().Format(time.RFC3339)
	summary[prefix+"ByKansaiId"] = user.kansaiID()
}

// assignees lists whoever the document names for role's step: the top level xxBy field,
// then the approval block's xxByKansaiId and xxBy.
func assignees(body map[string]any, role docflow.Role) []string {
	prefix, ok := stepPrefix[role]
	if !ok {
		return nil
	}
	var out []string
	add := func(v any) {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	add(body[prefix+"By"])
	if summary, _ := summaryBlock(body, false); summary != nil {
		add(summary[prefix+"ByKansaiId"])
		add(summary[prefix+"By"])
	}
	return out
}

func assignedTo(body map[string]any, role docflow.Role, ids []string) bool {
	for _, a := range assignees(body, role) {
		for _, id := range ids {
			if id != "" && a == id {
				return true
			}
		}
	}
	return false
}

// identities is every id a user may be named by: the one given plus, when it is a known
// user id, their employee ids.
func (s *server) identities(ctx context.Context, id string) []string {
	ids := []string{id}
	if u, err := s.store.getUser(ctx, id); err == nil {
		ids = append(ids, u.EmployeeID, u.KansaiEmployeeID)
	}
	return ids
}

func (s *server) actingUser(r *http.Request) userRecord {
	id := userIDFrom(r.Context())
	u, err := s.store.getUser(r.Context(), id)
	if err != nil {
		return userRecord{ID: id}
	}
	return u
}

func (s *server) documentDetail(spec *docflow.KindSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.store.getDocument(r.Context(), string(spec.Kind), chi.URLParam(r, "id"))
		if err == nil && doc.Subtype != "" {
			if want := chi.URLParam(r, "type"); want != "" && spec.Subtype(want) != doc.Subtype {
				err = errNotFound
			}
		}
		if err != nil {
			if errors.Is(err, errNotFound) {
				writeError(w, http.StatusNotFound, spec.Name+" not found")
				return
			}
			s.internalError(w, "get document", err)
			return
		}
		writeData(w, http.StatusOK, doc.Body)
	}
}

func (s *server) documentList(spec *docflow.KindSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := s.store.listDocuments(r.Context(), string(spec.Kind))
		if err != nil {
			s.internalError(w, "list documents", err)
			return
		}
		out := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			out = append(out, d.Body)
		}
		writeData(w, http.StatusOK, out)
	}
}

// assignedList answers the per-user list endpoints. The role comes from {actor} or
// {dashboardRole} and the user from {userId} or {kansaiId}; only documents naming that user
// for the step are returned, whatever their status.
func (s *server) assignedList(spec *docflow.KindSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			role docflow.Role
			ok   bool
		)
		if actor := chi.URLParam(r, "actor"); actor != "" {
			for _, candidate := range docflow.Roles() {
				if candidate.Actor() == actor {
					role, ok = candidate, true
				}
			}
		} else {
			role, ok = roleForDashboard(chi.URLParam(r, "dashboardRole"))
		}
		if !ok || !spec.HasRole(role) {
			writeError(w, http.StatusNotFound, "Endpoint not found")
			return
		}
		who := chi.URLParam(r, "userId")
		if who == "" {
			who = chi.URLParam(r, "kansaiId")
		}

		docs, err := s.store.listDocuments(r.Context(), string(spec.Kind))
		if err != nil {
			s.internalError(w, "list documents", err)
			return
		}
		ids := s.identities(r.Context(), who)
		out := []map[string]any{}
		for _, d := range docs {
			if assignedTo(d.Body, role, ids) {
				out = append(out, d.Body)
			}
		}
		writeData(w, http.StatusOK, out)
	}
}

// dashboard answers the approval-mode dashboard queries. tab is fixed for the rejected and
// closed endpoints; the approval endpoint picks pending or done from isApproved. ApproverId
// narrows the rows to documents assigned to that user.
func (s *server) dashboard(spec *docflow.KindSpec, tab string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		role, ok := roleForDashboard(query.Get("ApproverRole"))
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown ApproverRole")
			return
		}
		want := tab
		if want == "" {
			want = docflow.TabPending
			if approved, _ := strconv.ParseBool(query.Get("isApproved")); approved {
				want = docflow.TabDone
			}
		}

		docs, err := s.store.listDocuments(r.Context(), string(spec.Kind))
		if err != nil {
			s.internalError(w, "list documents", err)
			return
		}
		var ids []string
		if approver := strings.TrimSpace(query.Get("ApproverId")); approver != "" {
			ids = s.identities(r.Context(), approver)
		}
		out := []map[string]any{}
		for _, d := range docs {
			// Documents that name nobody for the step stay visible to every approver.
			if ids != nil && len(assignees(d.Body, role)) > 0 && !assignedTo(d.Body, role, ids) {
				continue
			}
			status := documentStatus(d.Body)
			switch want {
			case docflow.TabRejected:
				if status != docflow.StatusRejected {
					continue
				}
			case docflow.TabClosed:
				if status != docflow.StatusClosed {
					continue
				}
			default:
				if docflow.TabFor(role, status) != want {
					continue
				}
			}
			out = append(out, d.Body)
		}
		writeData(w, http.StatusOK, out)
	}
}

func roleForDashboard(raw string) (docflow.Role, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, role := range docflow.Roles() {
		if role.DashboardRole() == raw || string(role) == raw {
			return role, true
		}
	}
	return "", false
}

// numberPrefix starts the numbers the mock hands out to created documents.
var numberPrefix = map[docflow.Kind]string{
	docflow.KindPurchaseRequest: "PR",
	docflow.KindCashAdvance:     "CA",
	docflow.KindSettlement:      "ST",
	docflow.KindReimbursement:   "RB",
}

// createDocument stores a new document as posted, filling in the id, number and preparer.
func (s *server) createDocument(spec *docflow.KindSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil || body == nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if purpose, _ := body["purpose"].(string); strings.TrimSpace(purpose) == "" {
			writeError(w, http.StatusBadRequest, "purpose is required")
			return
		}
		user := s.actingUser(r)
		existing, err := s.store.listDocuments(r.Context(), string(spec.Kind))
		if err != nil {
			s.internalError(w, "list documents", err)
			return
		}

		now := s.now()
		id := uuid.NewString()
		subtype := ""
		if len(spec.Subtypes) > 0 {
			subtype = spec.Subtype(chi.URLParam(r, "type"))
			body["type"] = subtype
		}
		body["id"] = id
		if n, _ := body[numberField[spec.Kind]].(string); n == "" {
			body[numberField[spec.Kind]] = fmt.Sprintf("%s-%s-%04d", numberPrefix[spec.Kind], now.Format("2006"), len(existing)+1)
		}
		status := docflow.StatusDraft
		if submit, _ := body["isSubmit"].(bool); submit {
			status = docflow.StatusPrepared
		}
		body["status"] = string(status)
		body["preparedBy"] = user.ID
		body["preparedByName"] = user.FullName
		if name, _ := body["requesterName"].(string); name == "" {
			body["requesterName"] = user.FullName
		}

		doc := document{Kind: string(spec.Kind), ID: id, Subtype: subtype, Body: body}
		if err := s.store.putDocument(r.Context(), doc); err != nil {
			s.internalError(w, "create document", err)
			return
		}
		s.logger.Info("document created", zap.String("kind", string(spec.Kind)), zap.String("id", id), zap.String("status", string(status)))
		writeData(w, http.StatusCreated, body)
	}
}

type statusRequest struct {
	ID       json.RawMessage `json:"id"`
	UserID   string          `json:"UserId"`
	StatusAt string          `json:"StatusAt"`
	Action   string          `json:"Action"`
	Remarks  string          `json:"Remarks"`
}

func (s *server) statusPost(spec *docflow.KindSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id := strings.Trim(strings.TrimSpace(string(req.ID)), `"`)
		if id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		var role docflow.Role
		for _, candidate := range docflow.Roles() {
			if strings.EqualFold(candidate.StatusAt(), req.StatusAt) {
				role = candidate
			}
		}
		if role == "" {
			writeError(w, http.StatusBadRequest, "unknown StatusAt "+strconv.Quote(req.StatusAt))
			return
		}
		user := s.actingUser(r)
		if req.UserID != "" && req.UserID != user.ID {
			writeError(w, http.StatusForbidden, "UserId does not match the token")
			return
		}
		s.applyDecision(w, r, spec, id, role, strings.ToLower(strings.TrimSpace(req.Action)), req.Remarks, user)
	}
}

type remarksRequest struct {
	Remarks string `json:"remarks"`
}

// roleEndpoint handles {base}/{actor}/{id}/{approve|reject}. fixed is set for the
// resubmission route, which carries no actor or verb.
func (s *server) roleEndpoint(spec *docflow.KindSpec, fixed docflow.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remarksRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		role, action := fixed, "approve"
		if role == "" {
			actor := chi.URLParam(r, "actor")
			for _, candidate := range docflow.Roles() {
				if candidate.Actor() == actor {
					role = candidate
				}
			}
			if role == "" {
				writeError(w, http.StatusNotFound, "Endpoint not found")
				return
			}
			action = chi.URLParam(r, "verb")
		}
		s.applyDecision(w, r, spec, chi.URLParam(r, "id"), role, action, req.Remarks, s.actingUser(r))
	}
}

func (s *server) applyDecision(w http.ResponseWriter, r *http.Request, spec *docflow.KindSpec, id string, role docflow.Role, action, remarks string, user userRecord) {
	if !spec.HasRole(role) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s has no %s step", spec.Name, role))
		return
	}
	now := s.now()
	doc, err := s.store.updateDocument(r.Context(), string(spec.Kind), id, actionRecord{
		Step:    role.StatusAt(),
		Action:  action,
		UserID:  user.ID,
		Remarks: remarks,
	}, func(body map[string]any) error {
		switch action {
		case "approve", "close":
			if action == "close" && role != docflow.RoleClose {
				return fmt.Errorf("%w: close is only valid for the close step", errBadAction)
			}
			setStatus(body, docflow.ResultStatus(role, docflow.DecisionApprove))
			stamp(body, role, user, now)
		case "reject":
			setStatus(body, docflow.StatusRejected)
			summary, _ := summaryBlock(body, true)
			summary["rejectedBy"] = user.ID
			summary["rejectedByName"] = user.FullName
			summary["rejectedDate"] = now.UTC().Format(time.RFC3339)
			body["rejectedRemarks"] = remarks
		case "revise":
			setStatus(body, docflow.StatusRevision)
			revisions, _ := body["revisions"].([]any)
			body["revisions"] = append(revisions, map[string]any{
				"remarks":   remarks,
				"createdAt": now.UTC().Format(time.RFC3339),
			})
		default:
			return fmt.Errorf("%w: unknown action %q", errBadAction, action)
		}
		return nil
	})
	s.writeUpdate(w, spec, doc, err)
}

// approvalSummary stores the approval block the portal sends back as the new state.
func (s *server) approvalSummary(spec *docflow.KindSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		status, _ := payload["approvalStatus"].(string)
		if strings.TrimSpace(status) == "" {
			writeError(w, http.StatusBadRequest, "approvalStatus is required")
			return
		}
		remarks, _ := payload["rejectionRemarks"].(string)
		user := s.actingUser(r)

		doc, err := s.store.updateDocument(r.Context(), string(spec.Kind), chi.URLParam(r, "id"), actionRecord{
			Step:    status,
			Action:  strings.ToLower(r.Method),
			UserID:  user.ID,
			Remarks: remarks,
		}, func(body map[string]any) error {
			_, key := summaryBlock(body, false)
			if key == "" {
				key = "approval"
			}
			body[key] = payload
			setStatus(body, docflow.NormalizeStatus(status))
			return nil
		})
		s.writeUpdate(w, spec, doc, err)
	}
}

func (s *server) writeUpdate(w http.ResponseWriter, spec *docflow.KindSpec, doc document, err error) {
	switch {
	case err == nil:
		writeData(w, http.StatusOK, doc.Body)
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, spec.Name+" not found")
	case errors.Is(err, errBadAction):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.internalError(w, "update document", err)
	}
}
