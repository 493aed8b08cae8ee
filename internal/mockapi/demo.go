package mockapi

import (
	"context"

	"github.com/expressiv/approvaldesk/internal/docflow"
)

var demoUserHeader = []string{"id", "username", "full_name", "employee_id", "kansai_employee_id", "department", "roles", "password"}

var demoUsers = [][]string{
	{"u-1", "admin", "Demo Admin", "E000", "K000", "Finance", "Administrator"},
	{"u-2", "budi", "Budi Santoso", "E002", "K002", "Operations", "Preparer"},
	{"u-3", "citra", "Citra Lestari", "E003", "K003", "Finance", "Checker"},
	{"u-4", "dewi", "Dewi Anggraini", "E004", "K004", "Finance", "Acknowledger"},
	{"u-5", "eko", "Eko Prasetyo", "E005", "K005", "Management", "Approver"},
	{"u-6", "fajar", "Fajar Nugroho", "E006", "K006", "Treasury", "Receiver;Closer"},
}

var demoDocumentHeader = []string{
	"kind", "id", "type", "number", "requester", "department", "date", "currency", "purpose", "status", "total",
	"line code", "line description", "line qty", "line amount",
	"preparer", "checker", "acknowledger", "approver", "receiver", "closer",
}

// demoAssignees routes every demo document through the same people, in header order.
var demoAssignees = []string{"budi", "citra", "dewi", "eko", "fajar", "fajar"}

var demoDocuments = [][]string{
	{"purchase-request", "101", "item", "PR-2026-0101", "Budi Santoso", "Operations", "2026-03-02", "IDR", "Printer toner", "Prepared", "", "TN-01", "Toner cartridge", "4", "1,800,000"},
	{"purchase-request", "101", "", "", "", "", "", "", "", "", "", "PP-02", "A4 paper", "10", "550,000"},
	{"purchase-request", "102", "service", "PR-2026-0102", "Budi Santoso", "Operations", "2026-03-03", "IDR", "Aircon maintenance", "Checked", "", "SV-10", "Quarterly service", "1", "3,250,000"},
	{"purchase-request", "103", "item", "PR-2026-0103", "Citra Lestari", "Finance", "2026-02-20", "IDR", "Laptop", "Approved", "18,500,000", "LT-14", "Laptop 14 inch", "1", "18,500,000"},
	{"cash-advance", "201", "", "CA-2026-0201", "Budi Santoso", "Operations", "2026-03-01", "IDR", "Site visit Surabaya", "Prepared", "", "Travel", "Train tickets", "", "1,200,000"},
	{"cash-advance", "201", "", "", "", "", "", "", "", "", "", "Lodging", "Hotel two nights", "", "1,600,000"},
	{"cash-advance", "202", "", "CA-2026-0202", "Dewi Anggraini", "Finance", "2026-02-25", "IDR", "Vendor audit", "Acknowledged", "2,000,000", "Travel", "Flight", "", "2,000,000"},
	{"cash-advance", "203", "", "CA-2026-0203", "Fajar Nugroho", "Treasury", "2026-02-10", "IDR", "Bank visit", "Received", "450,000", "Transport", "Taxi", "", "450,000"},
	{"settlement", "301", "", "ST-2026-0301", "Budi Santoso", "Operations", "2026-03-04", "IDR", "Settlement CA-2026-0199", "Prepared", "", "Meals", "Client lunch", "", "725,000.50"},
	{"settlement", "302", "", "ST-2026-0302", "Citra Lestari", "Finance", "2026-02-28", "IDR", "Settlement CA-2026-0188", "Rejected", "310,000", "Transport", "Parking", "", "310,000"},
	{"reimbursement", "401", "", "RB-2026-0401", "Budi Santoso", "Operations", "2026-03-02", "IDR", "Medical claim", "Prepared", "", "Medical", "Clinic visit", "", "380,000"},
	{"reimbursement", "402", "", "RB-2026-0402", "Eko Prasetyo", "Management", "2026-02-27", "IDR", "Client entertainment", "Checked", "", "Meals", "Dinner", "", "1,450,000"},
	{"ar-invoice", "S-501", "item", "INV-2026-0501", "Citra Lestari", "Finance", "2026-03-01", "IDR", "March shipment", "Prepared", "", "FG-200", "Finished goods", "20", "42,000,000"},
	{"ar-invoice", "S-502", "service", "INV-2026-0502", "Citra Lestari", "Finance", "2026-02-26", "USD", "Consulting fee", "Checked", "", "SV-900", "Consulting February", "1", "3,500"},
	{"outgoing-payment", "S-601", "", "OP-2026-0601", "Dewi Anggraini", "Treasury", "2026-03-03", "IDR", "Supplier payment", "Prepared", "", "210100", "Trade payables", "", "27,750,000"},
	{"outgoing-payment", "S-602", "", "OP-2026-0602", "Dewi Anggraini", "Treasury", "2026-02-24", "IDR", "Utility bills", "Acknowledged", "", "610300", "Electricity", "", "8,125,000"},
}

// seedDemo loads the demo users and documents into an empty database. It reports whether
// anything was loaded; a database that already has users is left alone.
func seedDemo(ctx context.Context, store *sqliteStore, catalog *docflow.Catalog, password string) (SeedResult, bool, error) {
	n, err := store.countUsers(ctx)
	if err != nil || n > 0 {
		return SeedResult{}, false, err
	}

	users := [][]string{demoUserHeader}
	for _, row := range demoUsers {
		users = append(users, append(append([]string{}, row...), password))
	}
	res, err := seedRows(ctx, store, catalog, users)
	if err != nil {
		return res, false, err
	}

	docRows := [][]string{demoDocumentHeader}
	for _, row := range demoDocuments {
		row = append([]string{}, row...)
		if row[3] != "" {
			row = append(row, demoAssignees...)
		}
		docRows = append(docRows, row)
	}
	docs, err := seedRows(ctx, store, catalog, docRows)
	res.Documents = docs.Documents
	res.Departments += docs.Departments
	return res, err == nil, err
}
