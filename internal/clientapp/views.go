package clientapp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/expressiv/approvaldesk/internal/docflow"
)

// Backends for the different kinds name the same concept differently; each list is tried
// in order and the first non-empty value wins.
var (
	idKeys          = []string{"id", "stagingID", "stagingId", "docEntry"}
	numberKeys      = []string{"purchaseRequestNo", "cashAdvanceNo", "cashAdvanceNumber", "settlementNumber", "settlementNo", "voucherNo", "reimbursementNo", "invoiceNo", "docNum", "counterRef", "referenceNo", "numAtCard", "stagingID"}
	requesterKeys   = []string{"requesterName", "employeeName", "payToName", "cardName", "requester", "preparedByName", "preparedName"}
	departmentKeys  = []string{"departmentName", "department"}
	dateKeys        = []string{"submissionDate", "docDate", "postingDate", "trsfrDate", "createdAt"}
	dueDateKeys     = []string{"requiredDate", "docDueDate", "dueDate"}
	statusKeys      = []string{"status", "approvalStatus"}
	purposeKeys     = []string{"purpose", "typeOfTransaction", "comments", "jrnlMemo", "remarks"}
	currencyKeys    = []string{"currency", "docCur", "docCurr"}
	totalKeys       = []string{"totalAmount", "docTotal", "grandTotal", "trsfrSum", "amount"}
	subtypeKeys     = []string{"type", "prType", "invoiceType"}
	summaryKeys     = []string{"arInvoiceApprovalSummary", "approvalSummary", "approval"}
	rejectedKeys    = []string{"rejectedRemarks", "rejectionRemarks", "rejectRemarks"}
	lineKeys        = []string{"itemDetails", "serviceDetails", "cashAdvanceDetails", "reimbursementDetails", "settlementItems", "arInvoiceDetails", "lines"}
	attachmentKeys  = []string{"attachments", "reimbursementAttachments"}
	lineDescKeys    = []string{"description", "itemName", "itemDescription", "accountName", "acctName", "name"}
	lineCodeKeys    = []string{"itemCode", "itemNo", "glAccount", "acctCode", "category"}
	lineQtyKeys     = []string{"quantity", "qty"}
	lineAmountKeys  = []string{"amount", "lineTotal", "totalAmount", "netPriceAfterDiscount", "price", "sumApplied"}
	attachNameKeys  = []string{"fileName", "name", "originalName"}
	attachURLKeys   = []string{"fileUrl", "filePath", "url", "path"}
	revisionRemarks = []string{"remarks", "revisionRemarks"}
	revisionDates   = []string{"createdAt", "revisionDate", "date"}
)

type record map[string]any

func decodeRecord(raw []byte) (record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out record
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeRecords accepts a list or an object wrapping one (items, data, results).
func decodeRecords(raw []byte) ([]record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var anyValue any
	if err := dec.Decode(&anyValue); err != nil {
		return nil, err
	}
	switch v := anyValue.(type) {
	case []any:
		return toRecords(v), nil
	case map[string]any:
		for _, key := range []string{"items", "data", "results", "documents"} {
			if list, ok := v[key].([]any); ok {
				return toRecords(list), nil
			}
		}
		return nil, errors.New("list response has no items")
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected list payload %T", anyValue)
}

func toRecords(list []any) []record {
	out := make([]record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, record(m))
		}
	}
	return out
}

func (r record) str(keys ...string) string {
	for _, k := range keys {
		if s := scalarString(r[k]); s != "" {
			return s
		}
	}
	return ""
}

func (r record) object(keys ...string) record {
	for _, k := range keys {
		if m, ok := r[k].(map[string]any); ok {
			return record(m)
		}
	}
	return nil
}

func (r record) list(keys ...string) []record {
	for _, k := range keys {
		if l, ok := r[k].([]any); ok && len(l) > 0 {
			return toRecords(l)
		}
	}
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

type userLookup struct {
	ID               string `json:"id"`
	FullName         string `json:"fullName"`
	EmployeeID       string `json:"employeeId"`
	KansaiEmployeeID string `json:"kansaiEmployeeId"`
	Department       string `json:"department"`
}

type departmentLookup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type lookups struct {
	Users       []userLookup
	Departments []departmentLookup
}

// userName resolves an id, employee id or kansai id to a display name.
func (l lookups) userName(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	for _, u := range l.Users {
		if u.ID == ref || u.EmployeeID == ref || u.KansaiEmployeeID == ref {
			if u.FullName != "" {
				return u.FullName
			}
		}
	}
	return ""
}

func (l lookups) user(id string) (userLookup, bool) {
	for _, u := range l.Users {
		if u.ID == id {
			return u, true
		}
	}
	return userLookup{}, false
}

func (l lookups) departmentName(ref string) string {
	for _, d := range l.Departments {
		if d.ID == ref {
			return d.Name
		}
	}
	return ref
}

type documentRow struct {
	ID         string
	Subtype    string
	Number     string
	Requester  string
	Department string
	Date       string
	Status     docflow.Status
	Total      string
	TotalValue decimal.Decimal
	Currency   string
	rawDate    time.Time
}

type lineView struct {
	No          int
	Code        string
	Description string
	Quantity    string
	Amount      string
}

type attachmentView struct {
	Name string
	URL  string
}

type trailStep struct {
	Label string
	By    string
	Date  string
	Done  bool
}

type revisionView struct {
	Remarks string
	Date    string
}

type documentView struct {
	documentRow
	DueDate          string
	Purpose          string
	Lines            []lineView
	Attachments      []attachmentView
	Trail            []trailStep
	RejectionRemarks string
	Revisions        []revisionView
}

func normalizeRow(r record, l lookups) documentRow {
	row := documentRow{
		ID:         r.str(idKeys...),
		Subtype:    strings.ToLower(r.str(subtypeKeys...)),
		Number:     r.str(numberKeys...),
		Requester:  r.str(requesterKeys...),
		Department: r.str(departmentKeys...),
		Currency:   r.str(currencyKeys...),
	}
	if row.Number == "" {
		row.Number = row.ID
	}
	if row.Department == "" {
		if id := r.str("departmentId"); id != "" {
			row.Department = l.departmentName(id)
		}
	}
	rawDate := r.str(dateKeys...)
	row.rawDate = parseDisplayTime(rawDate)
	row.Date = formatDateDisplay(rawDate)

	status := r.str(statusKeys...)
	if status == "" {
		status = r.object(summaryKeys...).str("approvalStatus")
	}
	row.Status = docflow.NormalizeStatus(status)

	if total, ok := parseAmount(r[firstKey(r, totalKeys)]); ok {
		row.TotalValue = total
		row.Total = formatAmount(total)
	}
	return row
}

func normalizeDocument(r record, l lookups) documentView {
	doc := documentView{
		documentRow:      normalizeRow(r, l),
		DueDate:          formatDateDisplay(r.str(dueDateKeys...)),
		Purpose:          r.str(purposeKeys...),
		RejectionRemarks: r.str(rejectedKeys...),
	}

	sum := decimal.Zero
	for i, line := range r.list(lineKeys...) {
		lv := lineView{
			No:          i + 1,
			Code:        line.str(lineCodeKeys...),
			Description: line.str(lineDescKeys...),
			Quantity:    line.str(lineQtyKeys...),
		}
		if amt, ok := parseAmount(line[firstKey(line, lineAmountKeys)]); ok {
			lv.Amount = formatAmount(amt)
			sum = sum.Add(amt)
		}
		doc.Lines = append(doc.Lines, lv)
	}
	if doc.Total == "" && len(doc.Lines) > 0 {
		doc.TotalValue = sum
		doc.Total = formatAmount(sum)
	}

	for _, a := range r.list(attachmentKeys...) {
		name := a.str(attachNameKeys...)
		link := a.str(attachURLKeys...)
		if name == "" {
			name = link
		}
		if name == "" {
			continue
		}
		doc.Attachments = append(doc.Attachments, attachmentView{Name: name, URL: safeAttachmentURL(link)})
	}

	summary := r.object(summaryKeys...)
	if summary == nil {
		summary = r
	}
	if doc.RejectionRemarks == "" {
		doc.RejectionRemarks = summary.str(rejectedKeys...)
	}
	doc.Trail = approvalTrail(summary, l)

	for _, rev := range r.list("revisions") {
		doc.Revisions = append(doc.Revisions, revisionView{
			Remarks: rev.str(revisionRemarks...),
			Date:    formatDateTimeDisplay(rev.str(revisionDates...)),
		})
	}
	return doc
}

func approvalTrail(summary record, l lookups) []trailStep {
	steps := []struct {
		label  string
		prefix string
	}{
		{"Prepared", "prepared"},
		{"Checked", "checked"},
		{"Acknowledged", "acknowledged"},
		{"Approved", "approved"},
		{"Received", "received"},
		{"Closed", "closed"},
	}
	var out []trailStep
	for _, s := range steps {
		ref := summary.str(s.prefix+"By", s.prefix+"ById")
		name := summary.str(s.prefix+"ByName", s.prefix+"Name")
		if name == "" {
			name = l.userName(ref)
		}
		if name == "" {
			name = ref
		}
		date := summary.str(s.prefix + "Date")
		if s.prefix == "closed" && name == "" && date == "" {
			continue
		}
		out = append(out, trailStep{
			Label: s.label,
			By:    name,
			Date:  formatDateTimeDisplay(date),
			Done:  date != "",
		})
	}
	if by := summary.str("rejectedByName", "rejectedBy"); by != "" {
		if name := l.userName(by); name != "" {
			by = name
		}
		date := summary.str("rejectedDate")
		out = append(out, trailStep{Label: "Rejected", By: by, Date: formatDateTimeDisplay(date), Done: true})
	}
	return out
}

// approvalSummaryFrom copies the approval block the backend expects back on approval-summary
// kinds. Values keep the type they were decoded with.
func approvalSummaryFrom(r record, id string) docflow.ApprovalSummary {
	out := docflow.ApprovalSummary{}
	for k, v := range r.object(summaryKeys...) {
		out[k] = v
	}
	if out.Str("stagingID") == "" {
		out["stagingID"] = id
	}
	return out
}

func firstKey(r record, keys []string) string {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil && scalarString(v) != "" {
			return k
		}
	}
	return ""
}

func parseAmount(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if cleaned == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(cleaned)
		return d, err == nil
	}
	return decimal.Zero, false
}

// formatAmount renders two decimals with comma thousands separators.
func formatAmount(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := b.String() + "." + frac
	if d.IsNegative() {
		return "-" + out
	}
	return out
}

func safeAttachmentURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") || strings.HasPrefix(raw, "/") {
		return raw
	}
	return ""
}

var dateOnlyLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"2-1-2006",
	"02-01-2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func parseDisplayTime(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}
	}
	if serial, err := strconv.ParseFloat(trimmed, 64); err == nil {
		if serial >= 20000 && serial <= 80000 {
			if parsed, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return parsed
			}
		}
		return time.Time{}
	}
	for _, layout := range dateTimeLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed
		}
	}
	for _, layout := range dateOnlyLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// formatDateDisplay keeps the calendar date only. Excel serial numbers from imported sheets
// are accepted as well.
func formatDateDisplay(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if parsed := parseDisplayTime(trimmed); !parsed.IsZero() {
		return parsed.Format("02 Jan 2006")
	}
	return trimmed
}

func formatDateTimeDisplay(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	for _, layout := range dateOnlyLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.Format("02 Jan 2006")
		}
	}
	for _, layout := range dateTimeLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.Local().Format("02 Jan 2006 15:04")
		}
	}
	return trimmed
}

func filterRows(rows []documentRow, search string) []documentRow {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return rows
	}
	out := rows[:0:0]
	for _, row := range rows {
		if strings.Contains(strings.ToLower(row.Number), search) ||
			strings.Contains(strings.ToLower(row.Requester), search) ||
			strings.Contains(strings.ToLower(row.Department), search) {
			out = append(out, row)
		}
	}
	return out
}

// sortRowsNewestFirst orders by document date; rows without a date keep their order at the end.
func sortRowsNewestFirst(rows []documentRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].rawDate, rows[j].rawDate
		if a.IsZero() != b.IsZero() {
			return !a.IsZero()
		}
		return a.After(b)
	})
}
