package mockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/security"
)

func writeSheet(t *testing.T, name string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestSeedFilesImportsUsersAndDocuments(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "seed.db")
	catalog, err := docflow.DefaultCatalog()
	require.NoError(t, err)

	users := writeSheet(t, "users.xlsx", [][]any{
		{"Username", "Full_Name", "Employee ID", "Department", "Roles", "Password"},
		{"gita", "Gita Permata", "E010", "Procurement", "Checker, Approver", "gita-password-1"},
	})
	docs := writeSheet(t, "docs.xlsx", [][]any{
		{"Kind", "ID", "Type", "Number", "Requester", "Department", "Status", "Line Description", "Line Amount"},
		{"purchase-request", "900", "S", "PR-900", "Gita Permata", "Procurement", "open", "Cleaning", "1,000.50"},
		{"purchase-request", "900", "", "", "", "", "", "Pest control", "2000"},
		{"cash-advance", "901", "", "CA-901", "Gita Permata", "Legal", "", "Court fee", "300000"},
	})

	res, err := SeedFiles(ctx, dbPath, catalog, users, docs)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Users: 1, Documents: 2, Departments: 2}, res)

	store, err := openStore(ctx, dbPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	u, err := store.lookupUserByUsername(ctx, "GITA")
	require.NoError(t, err)
	assert.Equal(t, []string{"Checker", "Approver"}, u.Roles)
	assert.True(t, security.VerifyPassword("gita-password-1", u.passwordHash))

	pr, err := store.getDocument(ctx, "purchase-request", "900")
	require.NoError(t, err)
	assert.Equal(t, "service", pr.Subtype)
	assert.Equal(t, "Prepared", pr.Body["status"])
	lines := pr.Body["serviceDetails"].([]any)
	require.Len(t, lines, 2)
	assert.Equal(t, json.Number("1000.5"), lines[0].(map[string]any)["amount"])

	ca, err := store.getDocument(ctx, "cash-advance", "901")
	require.NoError(t, err)
	assert.Len(t, ca.Body["cashAdvanceDetails"], 1)

	departments, err := store.listDepartments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []department{{ID: 1, Name: "Procurement"}, {ID: 2, Name: "Legal"}}, departments)
}

func TestSeedRowsRejectsBadSheets(t *testing.T) {
	ctx := context.Background()
	store, err := openStore(ctx, "")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	catalog, err := docflow.DefaultCatalog()
	require.NoError(t, err)

	_, err = seedRows(ctx, store, catalog, [][]string{{"kind", "id"}})
	assert.ErrorContains(t, err, "no data rows")

	_, err = seedRows(ctx, store, catalog, [][]string{{"name"}, {"x"}})
	assert.ErrorContains(t, err, `"username" or "kind"`)

	_, err = seedRows(ctx, store, catalog, [][]string{{"kind", "id"}, {"invoice", "1"}})
	assert.ErrorContains(t, err, `row 2: unknown kind "invoice"`)

	_, err = seedRows(ctx, store, catalog, [][]string{{"kind", "id", "total"}, {"settlement", "1", "lots"}})
	assert.ErrorContains(t, err, "total")

	_, err = seedRows(ctx, store, catalog, [][]string{{"username", "password"}, {"short", "abc"}})
	assert.ErrorIs(t, err, security.ErrPasswordTooShort)
}

func TestSeedDemoOnlyFillsEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	store, err := openStore(ctx, "")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	catalog, err := docflow.DefaultCatalog()
	require.NoError(t, err)

	res, seeded, err := seedDemo(ctx, store, catalog, demoPassword)
	require.NoError(t, err)
	require.True(t, seeded)
	assert.Equal(t, len(demoUsers), res.Users)
	assert.Equal(t, 14, res.Documents)

	for _, spec := range catalog.Kinds() {
		docs, err := store.listDocuments(ctx, string(spec.Kind))
		require.NoError(t, err)
		assert.NotEmpty(t, docs, spec.Kind)
	}

	op, err := store.getDocument(ctx, "outgoing-payment", "S-602")
	require.NoError(t, err)
	assert.Equal(t, docflow.StatusAcknowledged, documentStatus(op.Body))
	assert.Equal(t, "S-602", op.Body["stagingID"])

	pr, err := store.getDocument(ctx, "purchase-request", "101")
	require.NoError(t, err)
	assert.Equal(t, "u-3", pr.Body["checkedBy"])
	assert.Equal(t, "Eko Prasetyo", pr.Body["approvedByName"])

	ar, err := store.getDocument(ctx, "ar-invoice", "S-502")
	require.NoError(t, err)
	summary := docflow.ApprovalSummary(ar.Body["arInvoiceApprovalSummary"].(map[string]any))
	assert.Equal(t, "2026-02-26", summary.StepDate(docflow.RoleCheck))
	assert.Empty(t, summary.StepDate(docflow.RoleAcknowledge))
	assert.Equal(t, "K004", summary.Assignee(docflow.RoleAcknowledge))
	assert.NoError(t, summary.CheckStep(docflow.RoleAcknowledge, docflow.Actor{EmployeeID: "K004"}))
	assert.ErrorIs(t, summary.CheckStep(docflow.RoleCheck, docflow.Actor{EmployeeID: "K003"}), docflow.ErrStepDone)

	_, seeded, err = seedDemo(ctx, store, catalog, demoPassword)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestReadRowsFromSpreadsheetRejectsGarbage(t *testing.T) {
	_, err := readRowsFromSpreadsheet(strings.NewReader("not a workbook"), "users.xlsx")
	assert.Error(t, err)
	_, err = readRowsFromSpreadsheet(strings.NewReader("not a workbook"), "users.xls")
	assert.Error(t, err)
}

func TestSeedRowsResolvesAssignees(t *testing.T) {
	ctx := context.Background()
	store, err := openStore(ctx, "")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	catalog, err := docflow.DefaultCatalog()
	require.NoError(t, err)

	_, err = seedRows(ctx, store, catalog, [][]string{
		{"username", "full name", "employee id", "password"},
		{"hadi", "Hadi Wijaya", "E020", "hadi-password-1"},
	})
	require.NoError(t, err)

	_, err = seedRows(ctx, store, catalog, [][]string{
		{"kind", "id", "date", "status", "checker", "approver"},
		{"outgoing-payment", "S-9", "2026-01-05", "Checked", "", "hadi"},
	})
	require.NoError(t, err)
	op, err := store.getDocument(ctx, "outgoing-payment", "S-9")
	require.NoError(t, err)
	approval := op.Body["approval"].(map[string]any)
	assert.Equal(t, "E020", approval["approvedByKansaiId"], "employee id stands in for a missing Kansai id")
	assert.Equal(t, "Hadi Wijaya", approval["approvedByName"])
	assert.Equal(t, "2026-01-05", approval["checkedDate"])
	assert.NotContains(t, approval, "checkedByKansaiId")
	assert.NotContains(t, approval, "approvedDate")

	_, err = seedRows(ctx, store, catalog, [][]string{
		{"kind", "id", "receiver"},
		{"settlement", "7", "nobody"},
	})
	assert.ErrorContains(t, err, `row 2: receiver: no user "nobody"`)
}

func TestReadRowsFromSpreadsheetWantsOneSheet(t *testing.T) {
	f := excelize.NewFile()
	_, err := f.NewSheet("Second")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	_ = f.Close()
	_, err = readRowsFromSpreadsheet(&buf, "two.xlsx")
	assert.ErrorContains(t, err, "seed file has 2 sheets")

	empty := excelize.NewFile()
	buf.Reset()
	require.NoError(t, empty.Write(&buf))
	_ = empty.Close()
	_, err = readRowsFromSpreadsheet(&buf, "empty.XLSX")
	assert.EqualError(t, err, "seed sheet is empty")
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "full name", normalizeHeader("  Full_Name "))
	assert.Equal(t, "line amount", normalizeHeader("LINE-AMOUNT"))
	assert.Equal(t, []string{"a", "b", "c"}, splitList("a, b;c|"))
}
