package mockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/extrame/xls"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/expressiv/approvaldesk/internal/docflow"
)

// Per-kind field names, matching what each backend returns.
var (
	numberField = map[docflow.Kind]string{
		docflow.KindPurchaseRequest: "purchaseRequestNo",
		docflow.KindCashAdvance:     "cashAdvanceNo",
		docflow.KindSettlement:      "settlementNumber",
		docflow.KindReimbursement:   "voucherNo",
		docflow.KindARInvoice:       "invoiceNo",
		docflow.KindOutgoingPayment: "counterRef",
	}
	linesField = map[docflow.Kind]string{
		docflow.KindCashAdvance:     "cashAdvanceDetails",
		docflow.KindSettlement:      "settlementItems",
		docflow.KindReimbursement:   "reimbursementDetails",
		docflow.KindARInvoice:       "arInvoiceDetails",
		docflow.KindOutgoingPayment: "lines",
	}
	summaryField = map[docflow.Kind]string{
		docflow.KindARInvoice:       "arInvoiceApprovalSummary",
		docflow.KindOutgoingPayment: "approval",
	}
)

// SeedResult counts what a seed file contributed.
type SeedResult struct {
	Users       int
	Documents   int
	Departments int
}

// SeedFiles imports users and documents from spreadsheets into the database at dbPath. Each
// file holds one sheet; its header row decides whether it lists users (has "username") or
// documents (has "kind").
func SeedFiles(ctx context.Context, dbPath string, catalog *docflow.Catalog, paths ...string) (SeedResult, error) {
	store, err := openStore(ctx, dbPath)
	if err != nil {
		return SeedResult{}, err
	}
	defer func() { _ = store.Close() }()

	var total SeedResult
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return total, err
		}
		rows, err := readRowsFromSpreadsheet(f, filepath.Base(path))
		_ = f.Close()
		if err != nil {
			return total, fmt.Errorf("%s: %w", path, err)
		}
		res, err := seedRows(ctx, store, catalog, rows)
		if err != nil {
			return total, fmt.Errorf("%s: %w", path, err)
		}
		total.Users += res.Users
		total.Documents += res.Documents
		total.Departments += res.Departments
	}
	return total, nil
}

func seedRows(ctx context.Context, store *sqliteStore, catalog *docflow.Catalog, rows [][]string) (SeedResult, error) {
	if len(rows) < 2 {
		return SeedResult{}, errors.New("sheet has no data rows")
	}
	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		header[normalizeHeader(h)] = i
	}
	switch {
	case hasColumn(header, "username"):
		return seedUsers(ctx, store, header, rows[1:])
	case hasColumn(header, "kind"):
		return seedDocuments(ctx, store, catalog, header, rows[1:])
	}
	return SeedResult{}, errors.New(`header row needs a "username" or "kind" column`)
}

func seedUsers(ctx context.Context, store *sqliteStore, header map[string]int, rows [][]string) (SeedResult, error) {
	var res SeedResult
	departments := map[string]struct{}{}
	for n, row := range rows {
		get := func(col string) string { return cellValue(row, columnIndex(header, col)) }
		username := get("username")
		if username == "" {
			continue
		}
		u := userRecord{
			ID:               get("id"),
			Username:         username,
			FullName:         get("full name"),
			EmployeeID:       get("employee id"),
			KansaiEmployeeID: get("kansai employee id"),
			Department:       get("department"),
			Roles:            splitList(get("roles")),
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if err := store.ensureUser(ctx, u, get("password")); err != nil {
			return res, fmt.Errorf("row %d: %w", n+2, err)
		}
		if u.Department != "" {
			departments[u.Department] = struct{}{}
		}
		res.Users++
	}
	added, err := ensureDepartments(ctx, store, departments)
	res.Departments = added
	return res, err
}

func seedDocuments(ctx context.Context, store *sqliteStore, catalog *docflow.Catalog, header map[string]int, rows [][]string) (SeedResult, error) {
	var (
		res         SeedResult
		order       []string
		docs        = map[string]*document{}
		departments = map[string]struct{}{}
	)
	for n, row := range rows {
		get := func(col string) string { return cellValue(row, columnIndex(header, col)) }
		kindRaw := strings.ToLower(get("kind"))
		if kindRaw == "" {
			continue
		}
		spec, ok := catalog.Kind(docflow.Kind(kindRaw))
		if !ok {
			return res, fmt.Errorf("row %d: unknown kind %q", n+2, kindRaw)
		}
		id := get("id")
		if id == "" {
			return res, fmt.Errorf("row %d: id is required", n+2)
		}

		key := string(spec.Kind) + "/" + id
		doc, seen := docs[key]
		if !seen {
			var err error
			doc, err = newSeedDocument(spec, id, get)
			if err == nil {
				err = assignSeedDocument(ctx, store, spec, doc, get)
			}
			if err != nil {
				return res, fmt.Errorf("row %d: %w", n+2, err)
			}
			docs[key] = doc
			order = append(order, key)
			if dept := get("department"); dept != "" {
				departments[dept] = struct{}{}
			}
		}
		if err := addSeedLine(spec, doc, get); err != nil {
			return res, fmt.Errorf("row %d: %w", n+2, err)
		}
	}

	for _, key := range order {
		if err := store.putDocument(ctx, *docs[key]); err != nil {
			return res, err
		}
		res.Documents++
	}
	added, err := ensureDepartments(ctx, store, departments)
	res.Departments = added
	return res, err
}

func newSeedDocument(spec *docflow.KindSpec, id string, get func(string) string) (*document, error) {
	subtype := ""
	if len(spec.Subtypes) > 0 {
		subtype = spec.Subtype(get("type"))
	}
	status := docflow.NormalizeStatus(get("status"))
	if status == "" {
		status = docflow.StatusPrepared
	}

	body := map[string]any{
		numberField[spec.Kind]: get("number"),
		"requesterName":        get("requester"),
		"departmentName":       get("department"),
		"submissionDate":       get("date"),
		"currency":             get("currency"),
		"purpose":              get("purpose"),
	}
	if subtype != "" {
		body["type"] = subtype
	}
	if total := get("total"); total != "" {
		amount, err := parseSeedAmount(total)
		if err != nil {
			return nil, fmt.Errorf("total: %w", err)
		}
		body["totalAmount"] = amount
	}
	if field, ok := summaryField[spec.Kind]; ok {
		body["stagingID"] = id
		body[field] = map[string]any{"approvalStatus": string(status), "preparedByName": get("requester")}
	} else {
		body["id"] = id
		body["status"] = string(status)
	}
	return &document{Kind: string(spec.Kind), ID: id, Subtype: subtype, Body: body}, nil
}

// assignSeedDocument reads the per-step assignee columns, named after each role's actor
// ("checker", "approver"), which hold usernames. Status-post and role-endpoint documents get
// a top level xxBy user id; approval blocks get the Kansai employee id plus the dates of the
// steps the status says are done.
func assignSeedDocument(ctx context.Context, store *sqliteStore, spec *docflow.KindSpec, doc *document, get func(string) string) error {
	field, hasSummary := summaryField[spec.Kind]
	var summary map[string]any
	if hasSummary {
		summary, _ = doc.Body[field].(map[string]any)
		date := get("date")
		summary["preparedDate"] = date
		status := documentStatus(doc.Body)
		for _, role := range spec.Roles {
			if docflow.TabFor(role, status) == docflow.TabDone {
				summary[stepPrefix[role]+"Date"] = date
			}
		}
	}

	for _, role := range spec.Roles {
		username := get(role.Actor())
		if username == "" {
			continue
		}
		u, err := store.lookupUserByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, errNotFound) {
				return fmt.Errorf("%s: no user %q", role.Actor(), username)
			}
			return err
		}
		prefix := stepPrefix[role]
		if hasSummary {
			summary[prefix+"By"] = u.kansaiID()
			summary[prefix+"ByKansaiId"] = u.kansaiID()
			summary[prefix+"ByName"] = u.FullName
			continue
		}
		doc.Body[prefix+"By"] = u.ID
		doc.Body[prefix+"ByName"] = u.FullName
	}
	return nil
}

func addSeedLine(spec *docflow.KindSpec, doc *document, get func(string) string) error {
	desc := get("line description")
	amountRaw := get("line amount")
	if desc == "" && amountRaw == "" {
		return nil
	}
	line := map[string]any{
		"itemCode":    get("line code"),
		"description": desc,
	}
	if qty := get("line qty"); qty != "" {
		line["quantity"] = qty
	}
	if amountRaw != "" {
		amount, err := parseSeedAmount(amountRaw)
		if err != nil {
			return fmt.Errorf("line amount: %w", err)
		}
		line["amount"] = amount
	}

	field := linesField[spec.Kind]
	if spec.Kind == docflow.KindPurchaseRequest {
		field = "itemDetails"
		if doc.Subtype == "service" {
			field = "serviceDetails"
		}
	}
	lines, _ := doc.Body[field].([]any)
	doc.Body[field] = append(lines, line)
	return nil
}

// parseSeedAmount keeps amounts exact; sheets often carry thousands separators.
func parseSeedAmount(raw string) (json.Number, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""))
	if err != nil {
		return "", err
	}
	return json.Number(d.String()), nil
}

// ensureDepartments adds names not yet known, numbering them after the current highest id.
func ensureDepartments(ctx context.Context, store *sqliteStore, names map[string]struct{}) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	existing, err := store.listDepartments(ctx)
	if err != nil {
		return 0, err
	}
	known := map[string]struct{}{}
	var next int64
	for _, d := range existing {
		known[strings.ToLower(d.Name)] = struct{}{}
		if d.ID > next {
			next = d.ID
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	added := 0
	for _, name := range sorted {
		if _, ok := known[strings.ToLower(name)]; ok {
			continue
		}
		next++
		if err := store.upsertDepartment(ctx, department{ID: next, Name: name}); err != nil {
			return added, err
		}
		known[strings.ToLower(name)] = struct{}{}
		added++
	}
	return added, nil
}

// readRowsFromSpreadsheet returns every row of a seed file's only sheet. .xls files go
// through the legacy reader; everything else is opened as .xlsx.
func readRowsFromSpreadsheet(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var rows [][]string
	if strings.EqualFold(filepath.Ext(filename), ".xls") {
		rows, err = xlsRows(data)
	} else {
		rows, err = xlsxRows(data)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("seed sheet is empty")
	}
	return rows, nil
}

func xlsRows(data []byte) ([][]string, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls seed file: %w", err)
	}
	if err := checkSeedSheets(workbook.NumSheets()); err != nil {
		return nil, err
	}
	return workbook.ReadAllCells(100000), nil
}

func xlsxRows(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx seed file: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheets := file.GetSheetList()
	if err := checkSeedSheets(len(sheets)); err != nil {
		return nil, err
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// checkSeedSheets enforces one sheet per seed file, since the header row decides what the
// file holds.
func checkSeedSheets(n int) error {
	switch {
	case n == 0:
		return errors.New("seed file has no sheets")
	case n > 1:
		return fmt.Errorf("seed file has %d sheets; keep users and documents in separate files", n)
	}
	return nil
}

// normalizeHeader lowercases and treats "_" and "-" as spaces, so "Full_Name" and
// "full name" match.
func normalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

func hasColumn(header map[string]int, name string) bool {
	_, ok := header[name]
	return ok
}

func columnIndex(header map[string]int, name string) int {
	if idx, ok := header[name]; ok {
		return idx
	}
	return -1
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
