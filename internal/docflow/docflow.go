// Package docflow describes the financial document kinds the portal can show, the roles that
// act on them and how a decision is turned into an upstream request. Nothing here is
// authoritative: the backend owns the workflow and the portal only mirrors it for display.
package docflow

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindPurchaseRequest Kind = "purchase-request"
	KindCashAdvance     Kind = "cash-advance"
	KindSettlement      Kind = "settlement"
	KindReimbursement   Kind = "reimbursement"
	KindARInvoice       Kind = "ar-invoice"
	KindOutgoingPayment Kind = "outgoing-payment"
)

type Role string

const (
	RoleCheck       Role = "check"
	RoleAcknowledge Role = "acknowledge"
	RoleApprove     Role = "approve"
	RoleReceive     Role = "receive"
	RoleClose       Role = "close"
	RoleRevise      Role = "revise"
)

type Status string

const (
	StatusDraft        Status = "Draft"
	StatusPrepared     Status = "Prepared"
	StatusChecked      Status = "Checked"
	StatusAcknowledged Status = "Acknowledged"
	StatusApproved     Status = "Approved"
	StatusReceived     Status = "Received"
	StatusClosed       Status = "Closed"
	StatusRejected     Status = "Rejected"
	StatusRevision     Status = "Revision"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRevise  Decision = "revise"
)

type roleInfo struct {
	actor         string
	dashboardRole string
	statusAt      string
	label         string
	verb          string
	expected      []Status
	result        Status
}

var roles = map[Role]roleInfo{
	RoleCheck: {
		actor: "checker", dashboardRole: "checked", statusAt: "Check",
		label: "Check", verb: "Checked",
		expected: []Status{StatusPrepared, StatusDraft}, result: StatusChecked,
	},
	RoleAcknowledge: {
		actor: "acknowledger", dashboardRole: "acknowledged", statusAt: "Acknowledge",
		label: "Acknowledge", verb: "Acknowledged",
		expected: []Status{StatusChecked}, result: StatusAcknowledged,
	},
	RoleApprove: {
		actor: "approver", dashboardRole: "approved", statusAt: "Approve",
		label: "Approve", verb: "Approved",
		expected: []Status{StatusAcknowledged}, result: StatusApproved,
	},
	RoleReceive: {
		actor: "receiver", dashboardRole: "received", statusAt: "Receive",
		label: "Receive", verb: "Received",
		expected: []Status{StatusApproved}, result: StatusReceived,
	},
	RoleClose: {
		actor: "closer", dashboardRole: "closer", statusAt: "Close",
		label: "Close", verb: "Closed",
		expected: []Status{StatusReceived}, result: StatusClosed,
	},
	RoleRevise: {
		actor: "preparer", dashboardRole: "prepared", statusAt: "Revise",
		label: "Revise", verb: "Resubmitted",
		expected: []Status{StatusRevision, StatusRejected}, result: StatusPrepared,
	},
}

var roleOrder = []Role{RoleCheck, RoleAcknowledge, RoleApprove, RoleReceive, RoleClose, RoleRevise}

// Roles lists every role in workflow order.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roles[role]; !ok {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(raw))); d {
	case DecisionApprove, DecisionReject, DecisionRevise:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", raw)
	}
}

func (r Role) Valid() bool {
	_, ok := roles[r]
	return ok
}

// Actor is the noun the backend uses for the person holding the role ("checker").
func (r Role) Actor() string { return roles[r].actor }

// DashboardRole is the ApproverRole query value used by dashboard endpoints.
func (r Role) DashboardRole() string { return roles[r].dashboardRole }

// StatusAt is the step name sent with status-post transitions.
func (r Role) StatusAt() string { return roles[r].statusAt }

func (r Role) Label() string { return roles[r].label }

// PastTense is used in confirmation messages ("Document checked").
func (r Role) PastTense() string { return roles[r].verb }

// ExpectedStatus is the status a document normally has when this role picks it up.
func ExpectedStatus(role Role) Status {
	info, ok := roles[role]
	if !ok || len(info.expected) == 0 {
		return ""
	}
	return info.expected[0]
}

// ResultStatus is the status the backend is expected to report after the decision.
// It is only used for messages; the page always re-reads the real status.
func ResultStatus(role Role, decision Decision) Status {
	switch decision {
	case DecisionReject:
		return StatusRejected
	case DecisionRevise:
		return StatusRevision
	}
	return roles[role].result
}

// NormalizeStatus maps the spellings seen across backends onto the canonical enum.
// Unknown values are returned trimmed but otherwise untouched.
func NormalizeStatus(raw string) Status {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToLower(trimmed) {
	case "draft":
		return StatusDraft
	case "prepared", "open", "submitted":
		return StatusPrepared
	case "checked":
		return StatusChecked
	case "acknowledged", "acknowledge":
		return StatusAcknowledged
	case "approved":
		return StatusApproved
	case "received":
		return StatusReceived
	case "closed", "close":
		return StatusClosed
	case "rejected", "reject":
		return StatusRejected
	case "revision", "revised", "revise":
		return StatusRevision
	}
	return Status(trimmed)
}

func (s Status) Known() bool {
	switch s {
	case StatusDraft, StatusPrepared, StatusChecked, StatusAcknowledged, StatusApproved,
		StatusReceived, StatusClosed, StatusRejected, StatusRevision:
		return true
	}
	return false
}

// Final reports statuses after which no role acts any more.
func (s Status) Final() bool {
	return s == StatusClosed || s == StatusRejected
}

// CanAct decides whether the action form is rendered. Tabs that list finished work never
// show actions. An empty or unrecognised status defers to the backend and shows them.
// Approval-summary kinds also need the step to be open and assigned to actor.
func CanAct(spec *KindSpec, role Role, status Status, tab string, summary ApprovalSummary, actor Actor) bool {
	if spec == nil || !spec.HasRole(role) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(tab)) {
	case "done", "approved", "rejected", "closed":
		return false
	}
	if spec.Protocol == ProtocolApprovalSummary && summary.CheckStep(role, actor) != nil {
		return false
	}
	if status == "" || !status.Known() {
		return true
	}
	for _, expected := range roles[role].expected {
		if status == expected {
			return true
		}
	}
	return false
}

// Decisions lists what the role may choose on the action form for a kind.
func Decisions(spec *KindSpec, role Role) []Decision {
	if spec == nil || !spec.HasRole(role) {
		return nil
	}
	if role == RoleRevise {
		return []Decision{DecisionApprove}
	}
	out := []Decision{DecisionApprove, DecisionReject}
	if spec.Protocol == ProtocolStatusPost {
		out = append(out, DecisionRevise)
	}
	return out
}

// RemarksPrefix is prepended to rejection remarks so the trail shows who wrote them.
func RemarksPrefix(name string, role Role) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("[%s - %s]: ", name, role.Label())
}

// Dashboard tabs.
const (
	TabPending  = "pending"
	TabDone     = "done"
	TabRejected = "rejected"
	TabClosed   = "closed"
)

func ParseTab(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case TabDone, "approved":
		return TabDone
	case TabRejected:
		return TabRejected
	case TabClosed:
		return TabClosed
	}
	return TabPending
}

var statusRank = map[Status]int{
	StatusDraft:        0,
	StatusPrepared:     0,
	StatusRevision:     0,
	StatusChecked:      1,
	StatusAcknowledged: 2,
	StatusApproved:     3,
	StatusReceived:     4,
	StatusClosed:       5,
}

// TabFor sorts a listed document into a dashboard tab for role. Used by kinds whose backend
// only offers a plain list. Unknown statuses land in pending so they stay visible.
func TabFor(role Role, status Status) string {
	switch status {
	case StatusRejected:
		return TabRejected
	case StatusClosed:
		if role == RoleClose {
			return TabDone
		}
		return TabClosed
	}
	if !status.Known() {
		return TabPending
	}
	for _, expected := range roles[role].expected {
		if status == expected {
			return TabPending
		}
	}
	if statusRank[status] >= statusRank[roles[role].result] {
		return TabDone
	}
	return ""
}
