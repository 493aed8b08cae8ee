package docflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingDocument = errors.New("document id is required")
	ErrMissingActor    = errors.New("acting user is unknown, please sign in again")
	ErrMissingRemarks  = errors.New("remarks are required")
	ErrRoleNotAllowed  = errors.New("role cannot act on this document")
	ErrPreviousStep    = errors.New("previous approval step has not been completed")
	ErrStepDone        = errors.New("approval step is completed")
	ErrNotAssigned     = errors.New("this approval step is assigned to someone else")
)

type Actor struct {
	ID         string
	Name       string
	EmployeeID string
}

// ApprovalSummary is the approval block of AR invoices and outgoing payments as the backend
// returned it. It is sent back whole, so keys the portal does not know about are kept.
type ApprovalSummary map[string]any

// summaryFields are always present in the block sent back; absent ones go out as null.
var summaryFields = []string{
	"createdAt", "updatedAt", "approvalStatus",
	"preparedBy", "preparedByName", "preparedDate", "preparedByKansaiId",
	"checkedBy", "checkedByName", "checkedDate", "checkedByKansaiId",
	"acknowledgedBy", "acknowledgedByName", "acknowledgedDate", "acknowledgedByKansaiId",
	"approvedBy", "approvedByName", "approvedDate", "approvedByKansaiId",
	"receivedBy", "receivedByName", "receivedDate", "receivedByKansaiId",
	"rejectedBy", "rejectedByName", "rejectedDate", "rejectionRemarks",
	"revisionNumber", "revisionDate", "revisionRemarks",
}

// stepPrefix is the key prefix of the block fields a role stamps.
var stepPrefix = map[Role]string{
	RoleRevise:      "prepared",
	RoleCheck:       "checked",
	RoleAcknowledge: "acknowledged",
	RoleApprove:     "approved",
	RoleReceive:     "received",
	RoleClose:       "closed",
}

// Str returns the value under key as trimmed text. Missing and null values are "".
func (s ApprovalSummary) Str(key string) string {
	switch v := s[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// StepDate returns the stamped date for the step completed by role, if any.
func (s ApprovalSummary) StepDate(role Role) string {
	prefix, ok := stepPrefix[role]
	if !ok {
		return ""
	}
	return s.Str(prefix + "Date")
}

// Assignee is the Kansai employee id the step is assigned to, falling back to the plain By field.
func (s ApprovalSummary) Assignee(role Role) string {
	prefix, ok := stepPrefix[role]
	if !ok {
		return ""
	}
	if id := s.Str(prefix + "ByKansaiId"); id != "" {
		return id
	}
	return s.Str(prefix + "By")
}

// Clone copies the top level. Nested values are shared and must not be modified.
func (s ApprovalSummary) Clone() ApprovalSummary {
	out := make(ApprovalSummary, len(s)+len(summaryFields))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CheckStep returns nil when actor may take role's step: the previous step is stamped, this
// one is not, and the step is assigned to the actor's employee id.
func (s ApprovalSummary) CheckStep(role Role, actor Actor) error {
	if prev, ok := previousStep[role]; ok && s.StepDate(prev) == "" {
		return fmt.Errorf("%w: %s is not stamped", ErrPreviousStep, prev.PastTense())
	}
	if s.StepDate(role) != "" {
		return fmt.Errorf("%w: already %s", ErrStepDone, strings.ToLower(role.PastTense()))
	}
	assignee := s.Assignee(role)
	if assignee == "" || assignee != strings.TrimSpace(actor.EmployeeID) {
		return ErrNotAssigned
	}
	return nil
}

// previousStep is the role whose date must be stamped before role may act.
var previousStep = map[Role]Role{
	RoleCheck:       RoleRevise,
	RoleAcknowledge: RoleCheck,
	RoleApprove:     RoleAcknowledge,
	RoleReceive:     RoleApprove,
}

type ActionInput struct {
	DocumentID    string
	Subtype       string
	Role          Role
	Decision      Decision
	Remarks       string
	RemarksPrefix string
	Actor         Actor
	Summary       ApprovalSummary
	Now           time.Time
}

type Request struct {
	Method string
	Path   string
	Body   any
}

// ValidateAction runs the checks the form would run before sending. The backend still decides.
func ValidateAction(spec *KindSpec, in ActionInput) error {
	if strings.TrimSpace(in.DocumentID) == "" {
		return ErrMissingDocument
	}
	if strings.TrimSpace(in.Actor.ID) == "" {
		return ErrMissingActor
	}
	if spec == nil || !spec.HasRole(in.Role) {
		return ErrRoleNotAllowed
	}
	allowed := false
	for _, d := range Decisions(spec, in.Role) {
		if d == in.Decision {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("decision %q is not available for %s", in.Decision, in.Role)
	}
	if in.Decision == DecisionReject || in.Decision == DecisionRevise {
		body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(in.Remarks), strings.TrimSpace(in.RemarksPrefix)))
		if body == "" {
			return ErrMissingRemarks
		}
	}
	if spec.Protocol == ProtocolApprovalSummary {
		return in.Summary.CheckStep(in.Role, in.Actor)
	}
	return nil
}

// FullRemarks prepends the author prefix unless the user already typed it.
func (in ActionInput) FullRemarks() string {
	remarks := strings.TrimSpace(in.Remarks)
	if remarks == "" || in.RemarksPrefix == "" || strings.HasPrefix(remarks, strings.TrimSpace(in.RemarksPrefix)) {
		return remarks
	}
	return in.RemarksPrefix + remarks
}

type statusPostBody struct {
	ID       string `json:"id"`
	UserID   string `json:"UserId"`
	StatusAt string `json:"StatusAt"`
	Action   string `json:"Action"`
	Remarks  string `json:"Remarks"`
}

type remarksBody struct {
	Remarks string `json:"remarks"`
}

func BuildRequest(spec *KindSpec, in ActionInput) (Request, error) {
	if err := ValidateAction(spec, in); err != nil {
		return Request{}, err
	}
	subtype := spec.Subtype(in.Subtype)
	switch spec.Protocol {
	case ProtocolStatusPost:
		action := string(in.Decision)
		if in.Role == RoleClose && in.Decision == DecisionApprove {
			action = "close"
		}
		return Request{
			Method: http.MethodPost,
			Path:   expandPath(spec.StatusPath, in.DocumentID, subtype),
			Body: statusPostBody{
				ID:       in.DocumentID,
				UserID:   in.Actor.ID,
				StatusAt: in.Role.StatusAt(),
				Action:   action,
				Remarks:  in.FullRemarks(),
			},
		}, nil
	case ProtocolRoleEndpoint:
		base := strings.TrimRight(spec.ActionBase, "/")
		id := expandPath("{id}", in.DocumentID, "")
		if in.Role == RoleRevise {
			return Request{
				Method: http.MethodPatch,
				Path:   base + "/prepared/" + id,
				Body:   remarksBody{Remarks: in.FullRemarks()},
			}, nil
		}
		verb := "approve"
		if in.Decision == DecisionReject {
			verb = "reject"
		}
		return Request{
			Method: http.MethodPatch,
			Path:   fmt.Sprintf("%s/%s/%s/%s", base, in.Role.Actor(), id, verb),
			Body:   remarksBody{Remarks: in.FullRemarks()},
		}, nil
	case ProtocolApprovalSummary:
		return Request{
			Method: spec.ApprovalMethod,
			Path:   expandPath(spec.ApprovalPath, in.DocumentID, subtype),
			Body:   stampSummary(in),
		}, nil
	}
	return Request{}, fmt.Errorf("kind %s: unknown protocol %q", spec.Kind, spec.Protocol)
}

// stampSummary works on a copy; the caller's summary is left as it was.
func stampSummary(in ActionInput) ApprovalSummary {
	out := in.Summary.Clone()
	for _, k := range summaryFields {
		if _, ok := out[k]; !ok {
			out[k] = nil
		}
	}
	if out.Str("stagingID") == "" {
		out["stagingID"] = in.DocumentID
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	stamp := now.UTC().Format(time.RFC3339)
	by := in.Actor.EmployeeID
	if by == "" {
		by = in.Actor.ID
	}
	out["updatedAt"] = stamp

	if in.Decision == DecisionReject {
		out["approvalStatus"] = string(StatusRejected)
		out["rejectedBy"] = by
		out["rejectedByName"] = in.Actor.Name
		out["rejectedDate"] = stamp
		out["rejectionRemarks"] = in.FullRemarks()
		return out
	}

	out["approvalStatus"] = string(ResultStatus(in.Role, in.Decision))
	if prefix, ok := stepPrefix[in.Role]; ok {
		out[prefix+"By"] = by
		out[prefix+"ByName"] = in.Actor.Name
		out[prefix+"Date"] = stamp
		out[prefix+"ByKansaiId"] = by
	}
	return out
}
