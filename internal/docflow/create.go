package docflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotCreatable = errors.New("this document type cannot be created here")
	ErrNoPurpose    = errors.New("purpose is required")
	ErrNoLines      = errors.New("add at least one line")
	ErrBadLine      = errors.New("each line needs a description and an amount above zero")
)

// CreateSpec says where a preparer posts a new document. LinesField may contain {type}, so
// purchase requests land in itemDetails or serviceDetails.
type CreateSpec struct {
	Path       string `yaml:"path"`
	LinesField string `yaml:"linesField"`
}

// DraftLine is one row of the creation form. Amount is kept as typed until validation.
type DraftLine struct {
	Description string
	Amount      string
}

// Draft is a new document as the preparer filled it in.
type Draft struct {
	Subtype      string
	Purpose      string
	Currency     string
	DepartmentID string
	Remarks      string
	Lines        []DraftLine
	// Assignees maps each approval step to the user id picked for it.
	Assignees map[Role]string
	Submit    bool
	Preparer  Actor
	Now       time.Time
}

// AssignableRoles lists the steps a preparer picks people for, in workflow order.
func AssignableRoles(spec *KindSpec) []Role {
	var out []Role
	for _, role := range Roles() {
		if role != RoleRevise && spec.HasRole(role) {
			out = append(out, role)
		}
	}
	return out
}

// BuildCreateRequest turns a draft into the backend's create call. Blank lines are skipped;
// the total is the exact sum of the remaining amounts.
func BuildCreateRequest(spec *KindSpec, d Draft) (Request, error) {
	if spec.Create == nil {
		return Request{}, ErrNotCreatable
	}
	if strings.TrimSpace(d.Purpose) == "" {
		return Request{}, ErrNoPurpose
	}

	var (
		lines []map[string]any
		total decimal.Decimal
	)
	for i, l := range d.Lines {
		desc := strings.TrimSpace(l.Description)
		raw := strings.ReplaceAll(strings.TrimSpace(l.Amount), ",", "")
		if desc == "" && raw == "" {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if desc == "" || err != nil || !amount.IsPositive() {
			return Request{}, fmt.Errorf("line %d: %w", i+1, ErrBadLine)
		}
		total = total.Add(amount)
		lines = append(lines, map[string]any{
			"description": desc,
			"amount":      json.Number(amount.String()),
		})
	}
	if len(lines) == 0 {
		return Request{}, ErrNoLines
	}

	subtype := spec.Subtype(d.Subtype)
	currency := strings.ToUpper(strings.TrimSpace(d.Currency))
	if currency == "" {
		currency = "IDR"
	}
	status := StatusDraft
	if d.Submit {
		status = StatusPrepared
	}
	body := map[string]any{
		"requesterId":    d.Preparer.ID,
		"requesterName":  d.Preparer.Name,
		"purpose":        strings.TrimSpace(d.Purpose),
		"currency":       currency,
		"remarks":        strings.TrimSpace(d.Remarks),
		"submissionDate": d.Now.Format("2006-01-02"),
		"totalAmount":    json.Number(total.String()),
		"status":         string(status),
		"isSubmit":       d.Submit,
		"preparedBy":     d.Preparer.ID,
		strings.ReplaceAll(spec.Create.LinesField, "{type}", subtype): lines,
	}
	if d.Preparer.EmployeeID != "" {
		body["kansaiEmployeeId"] = d.Preparer.EmployeeID
	}
	if dept := strings.TrimSpace(d.DepartmentID); dept != "" {
		body["departmentId"] = dept
	}
	if subtype != "" {
		body["type"] = subtype
	}
	for _, role := range AssignableRoles(spec) {
		if id := strings.TrimSpace(d.Assignees[role]); id != "" {
			body[stepPrefix[role]+"By"] = id
		}
	}

	return Request{
		Method: http.MethodPost,
		Path:   strings.ReplaceAll(spec.Create.Path, "{type}", subtype),
		Body:   body,
	}, nil
}
