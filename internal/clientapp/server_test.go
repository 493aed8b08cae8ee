package clientapp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/identity"
)

var testNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

type sentRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]any
}

// fakeBackend answers the upstream API calls the portal makes and records every request.
type fakeBackend struct {
	mux  *http.ServeMux
	srv  *httptest.Server
	mu   sync.Mutex
	sent []sentRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{mux: http.NewServeMux()}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := sentRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &rec.Body)
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))
		}
		b.mu.Lock()
		b.sent = append(b.sent, rec)
		b.mu.Unlock()
		b.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.srv.Close)

	b.mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]any{
			{"id": "u-1", "fullName": "Alice Tan", "employeeId": "E001"},
			{"id": "u-2", "fullName": "Budi Santoso", "employeeId": "E002"},
		})
	})
	b.mux.HandleFunc("GET /api/department", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]any{{"id": 3, "name": "Finance"}})
	})
	return b
}

func (b *fakeBackend) requests(method, path string) []sentRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentRequest
	for _, r := range b.sent {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func writeEnvelope(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  code < 400,
		"code":    code,
		"message": http.StatusText(code),
		"data":    data,
	})
}

func testToken(t *testing.T, userID, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		identity.ClaimUserID: userID,
		identity.ClaimName:   name,
		identity.ClaimRole:   "Staff",
		"exp":                testNow.Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func newTestPortal(t *testing.T, b *fakeBackend) http.Handler {
	t.Helper()
	catalog, err := docflow.DefaultCatalog()
	require.NoError(t, err)
	h, err := NewHandler(Config{
		APIBaseURL:         b.srv.URL,
		PageSize:           2,
		LookupTTL:          time.Minute,
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
	}, Deps{
		Catalog: docflow.NewHolder(catalog),
		Now:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return h
}

func authedRequest(t *testing.T, method, target string, form url.Values) *http.Request {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: testToken(t, "u-1", "alice")})
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLoginSetsCookieAndRedirects(t *testing.T) {
	b := newFakeBackend(t)
	token := testToken(t, "u-1", "alice")
	b.mux.HandleFunc("POST /api/authentication/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "alice" || body["password"] != "secret" {
			writeEnvelope(w, http.StatusUnauthorized, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]string{"accessToken": token})
	})
	h := newTestPortal(t, b)

	form := url.Values{"username": {"alice"}, "password": {"secret"}, "next": {"/dashboard/check/cash-advance"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(h, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard/check/cash-advance", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookieName, cookies[0].Name)
	assert.Equal(t, token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}

func TestLoginRejectedCredentialsShowMessage(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("POST /api/authentication/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":false,"code":401,"message":"Invalid username or password"}`))
	})
	h := newTestPortal(t, b)

	form := url.Values{"username": {"alice"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(h, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "Invalid username or password", loc.Query().Get("error"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestProtectedPagesRedirectToLogin(t *testing.T) {
	h := newTestPortal(t, newFakeBackend(t))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/dashboard/check/purchase-request?tab=done", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "/dashboard/check/purchase-request?tab=done", loc.Query().Get("next"))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: "garbage"})
	rec = serve(h, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "Session+invalid")
}

func TestDashboardListsKindsPerRole(t *testing.T) {
	h := newTestPortal(t, newFakeBackend(t))

	rec := serve(h, authedRequest(t, http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="/dashboard/check/purchase-request"`)
	assert.Contains(t, body, `href="/dashboard/close/cash-advance"`)
	assert.NotContains(t, body, `href="/dashboard/close/purchase-request"`)
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
}

func TestListApprovalModeQueriesDashboardAndPages(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/pr/dashboard/approval", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]any{
			{"id": 1, "purchaseRequestNo": "PR-0001", "requesterName": "Budi", "departmentName": "Finance", "submissionDate": "2026-01-05", "status": "Prepared", "type": "item", "totalAmount": 1500},
			{"id": 2, "purchaseRequestNo": "PR-0002", "requesterName": "Citra", "departmentName": "IT", "submissionDate": "2026-02-10", "status": "Prepared", "type": "service", "totalAmount": "250000.5"},
			{"id": 3, "purchaseRequestNo": "PR-0003", "requesterName": "Dewi", "departmentName": "IT", "submissionDate": "2026-03-01", "status": "Prepared", "type": "item"},
		})
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/purchase-request", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "PR-0003")
	assert.Contains(t, body, "PR-0002")
	assert.NotContains(t, body, "PR-0001")
	assert.Contains(t, body, "250,000.50")
	assert.Contains(t, body, "page=2")

	sent := b.requests(http.MethodGet, "/api/pr/dashboard/approval")
	require.NotEmpty(t, sent)
	assert.Equal(t, "u-1", sent[0].Query.Get("ApproverId"))
	assert.Equal(t, "checked", sent[0].Query.Get("ApproverRole"))
	assert.Equal(t, "false", sent[0].Query.Get("isApproved"))

	rec = serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/purchase-request?page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PR-0001")
	assert.NotContains(t, rec.Body.String(), "PR-0003")
}

func TestListApprovalModeTabsSelectEndpoint(t *testing.T) {
	b := newFakeBackend(t)
	empty := func(w http.ResponseWriter, r *http.Request) { writeEnvelope(w, http.StatusOK, []any{}) }
	b.mux.HandleFunc("GET /api/cash-advance/dashboard/approval", empty)
	b.mux.HandleFunc("GET /api/cash-advance/dashboard/rejected", empty)
	b.mux.HandleFunc("GET /api/cash-advance/dashboard/closed", empty)
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/dashboard/approve/cash-advance?tab=done", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	done := b.requests(http.MethodGet, "/api/cash-advance/dashboard/approval")
	require.Len(t, done, 1)
	assert.Equal(t, "true", done[0].Query.Get("isApproved"))
	assert.Equal(t, "approved", done[0].Query.Get("ApproverRole"))

	serve(h, authedRequest(t, http.MethodGet, "/dashboard/approve/cash-advance?tab=rejected", nil))
	require.Len(t, b.requests(http.MethodGet, "/api/cash-advance/dashboard/rejected"), 1)

	serve(h, authedRequest(t, http.MethodGet, "/dashboard/approve/cash-advance?tab=closed", nil))
	closed := b.requests(http.MethodGet, "/api/cash-advance/dashboard/closed")
	require.Len(t, closed, 1)
	assert.Equal(t, "closer", closed[0].Query.Get("ApproverRole"))
}

func TestAssignedModeSortsIntoTabsAndSearches(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/reimbursements/checker/u-1", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"items": []map[string]any{
			{"id": "r1", "voucherNo": "RB-001", "requesterName": "Budi", "departmentId": "3", "status": "Prepared", "submissionDate": "2026-02-01"},
			{"id": "r2", "voucherNo": "RB-002", "requesterName": "Citra", "departmentName": "IT", "status": "Checked", "submissionDate": "2026-02-02"},
			{"id": "r3", "voucherNo": "RB-003", "requesterName": "Dewi", "departmentName": "IT", "status": "Rejected", "submissionDate": "2026-02-03"},
			{"id": "r4", "voucherNo": "RB-004", "requesterName": "Eka", "departmentName": "HR", "status": "Draft", "submissionDate": "2026-02-04"},
		}})
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/reimbursement", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "RB-001")
	assert.Contains(t, body, "RB-004")
	assert.Contains(t, body, "Finance", "department id should resolve through the lookup")
	assert.NotContains(t, body, "RB-002")
	assert.NotContains(t, body, "RB-003")
	require.Len(t, b.requests(http.MethodGet, "/api/reimbursements/checker/u-1"), 1, "the list is scoped to the signed-in checker")

	rec = serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/reimbursement?tab=done", nil))
	assert.Contains(t, rec.Body.String(), "RB-002")
	assert.NotContains(t, rec.Body.String(), "RB-001")

	rec = serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/reimbursement?tab=rejected", nil))
	assert.Contains(t, rec.Body.String(), "RB-003")

	rec = serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/reimbursement?q=eka", nil))
	assert.Contains(t, rec.Body.String(), "RB-004")
	assert.NotContains(t, rec.Body.String(), "RB-001")
}

func TestUnknownRouteTargetsAreNotFound(t *testing.T) {
	h := newTestPortal(t, newFakeBackend(t))

	for _, target := range []string{
		"/dashboard/sign/purchase-request",
		"/dashboard/check/payroll",
		"/dashboard/close/purchase-request",
	} {
		rec := serve(h, authedRequest(t, http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestUpstreamUnauthorizedExpiresSession(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/settlements/dashboard/approval", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil)
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/settlement", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=Session+expired", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func prDetail(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{
			"id":                r.PathValue("id"),
			"purchaseRequestNo": "PR-0042",
			"requesterName":     "Budi",
			"departmentName":    "Finance",
			"submissionDate":    "2026-02-20",
			"status":            status,
			"purpose":           "Laptop refresh",
			"itemDetails": []map[string]any{
				{"itemCode": "LP-01", "description": "Laptop", "quantity": 2, "amount": 12000000},
				{"itemCode": "BG-01", "description": "Bag", "quantity": 2, "amount": 500000},
			},
			"attachments": []map[string]any{
				{"fileName": "quote.pdf", "fileUrl": "https://files.example.com/quote.pdf"},
				{"fileName": "evil", "fileUrl": "javascript:alert(1)"},
			},
		})
	}
}

func TestDocumentPageShowsActionsOnlyWhenPending(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/pr/item/{id}", prDetail("Prepared"))
	b.mux.HandleFunc("GET /api/pr/service/{id}", prDetail("Checked"))
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/documents/check/purchase-request/42?type=item", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "PR-0042")
	assert.Contains(t, body, "Laptop refresh")
	assert.Contains(t, body, "12,500,000.00")
	assert.Contains(t, body, `action="/documents/check/purchase-request/42/actions"`)
	assert.Contains(t, body, `value="reject"`)
	assert.Contains(t, body, `value="revise"`)
	assert.Contains(t, body, "[Alice Tan - Check]: ")
	assert.Contains(t, body, "https://files.example.com/quote.pdf")
	assert.NotContains(t, body, "javascript:")

	rec = serve(h, authedRequest(t, http.MethodGet, "/documents/check/purchase-request/42?type=service", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/actions")

	rec = serve(h, authedRequest(t, http.MethodGet, "/documents/check/purchase-request/42?type=item&tab=done", nil))
	assert.NotContains(t, rec.Body.String(), "/actions")
}

func TestDocumentNotFound(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/cash-advance/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, nil)
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/documents/check/cash-advance/9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cash Advance not found")
}

func TestSubmitStatusPostAction(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/pr/item/{id}", prDetail("Prepared"))
	b.mux.HandleFunc("POST /api/pr/item/status", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil)
	})
	h := newTestPortal(t, b)

	form := url.Values{"decision": {"reject"}, "remarks": {"Budget exceeded"}, "type": {"item"}, "tab": {"pending"}}
	rec := serve(h, authedRequest(t, http.MethodPost, "/documents/check/purchase-request/42/actions", form))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/dashboard/check/purchase-request", loc.Path)
	assert.Equal(t, "Purchase Request PR-0042 rejected", loc.Query().Get("message"))

	sent := b.requests(http.MethodPost, "/api/pr/item/status")
	require.Len(t, sent, 1)
	assert.Equal(t, map[string]any{
		"id":       "42",
		"UserId":   "u-1",
		"StatusAt": "Check",
		"Action":   "reject",
		"Remarks":  "[Alice Tan - Check]: Budget exceeded",
	}, sent[0].Body)
}

func TestSubmitActionRequiresRemarksForReject(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/pr/item/{id}", prDetail("Prepared"))
	h := newTestPortal(t, b)

	form := url.Values{"decision": {"reject"}, "remarks": {"[Alice Tan - Check]: "}, "type": {"item"}}
	rec := serve(h, authedRequest(t, http.MethodPost, "/documents/check/purchase-request/42/actions", form))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/documents/check/purchase-request/42", loc.Path)
	assert.Contains(t, loc.Query().Get("error"), "remarks")
	assert.Empty(t, b.requests(http.MethodPost, "/api/pr/item/status"))
}

func TestSubmitActionRefusedWhenStatusMoved(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/pr/item/{id}", prDetail("Approved"))
	h := newTestPortal(t, b)

	form := url.Values{"decision": {"approve"}, "type": {"item"}}
	rec := serve(h, authedRequest(t, http.MethodPost, "/documents/check/purchase-request/42/actions", form))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "error=")
	assert.Empty(t, b.requests(http.MethodPost, "/api/pr/item/status"))
}

func TestSubmitRoleEndpointAction(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/reimbursements/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"id": "r9", "voucherNo": "RB-009", "status": "Checked"})
	})
	b.mux.HandleFunc("PATCH /api/reimbursements/acknowledger/r9/approve", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil)
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodPost, "/documents/acknowledge/reimbursement/r9/actions", url.Values{"decision": {"approve"}}))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "Reimbursement RB-009 acknowledged", loc.Query().Get("message"))
	require.Len(t, b.requests(http.MethodPatch, "/api/reimbursements/acknowledger/r9/approve"), 1)
}

func TestSubmitApprovalSummaryAction(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/staging-outgoing-payments/headers/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{
			"stagingID":  "OP7",
			"counterRef": "OP-0007",
			"trsfrSum":   1000,
			"approval": map[string]any{
				"approvalStatus":     "Acknowledged",
				"preparedBy":         "E002",
				"preparedByName":     "Budi Santoso",
				"preparedDate":       "2026-03-01T01:00:00Z",
				"checkedBy":          "E003",
				"checkedByKansaiId":  "K003",
				"checkedDate":        "2026-03-02T01:00:00Z",
				"acknowledgedBy":     "E004",
				"acknowledgedByName": "Citra",
				"acknowledgedDate":   "2026-03-03T01:00:00Z",
				"approvedBy":         "Alice Tan",
				"approvedByKansaiId": "E001",
				"approvalLevel":      3,
			},
		})
	})
	b.mux.HandleFunc("PUT /api/staging-outgoing-payments/approvals/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil)
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodPost, "/documents/approve/outgoing-payment/OP7/actions", url.Values{"decision": {"approve"}}))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "message=")

	sent := b.requests(http.MethodPut, "/api/staging-outgoing-payments/approvals/OP7")
	require.Len(t, sent, 1)
	body := sent[0].Body
	assert.Equal(t, "Approved", body["approvalStatus"])
	assert.Equal(t, "E001", body["approvedBy"])
	assert.Equal(t, "Alice Tan", body["approvedByName"])
	assert.Equal(t, "2026-03-04T05:06:07Z", body["approvedDate"])
	assert.Equal(t, "2026-03-03T01:00:00Z", body["acknowledgedDate"])
	assert.Equal(t, "OP7", body["stagingID"])
	assert.Equal(t, "K003", body["checkedByKansaiId"])
	assert.Equal(t, "E001", body["approvedByKansaiId"])
	assert.Equal(t, float64(3), body["approvalLevel"])
}

func opDetail(approval map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"stagingID": "OP8", "counterRef": "OP-0008", "approval": approval})
	}
}

func TestSubmitApprovalSummaryActionRefusedForOtherAssignee(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/staging-outgoing-payments/headers/{id}", opDetail(map[string]any{
		"approvalStatus":     "Acknowledged",
		"acknowledgedDate":   "2026-03-03T01:00:00Z",
		"approvedByKansaiId": "E009",
	}))
	h := newTestPortal(t, b)

	for _, decision := range []string{"approve", "reject"} {
		form := url.Values{"decision": {decision}, "remarks": {"not mine"}}
		rec := serve(h, authedRequest(t, http.MethodPost, "/documents/approve/outgoing-payment/OP8/actions", form))
		require.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "This approval step is assigned to someone else", loc.Query().Get("error"), decision)
	}
	assert.Empty(t, b.requests(http.MethodPut, "/api/staging-outgoing-payments/approvals/OP8"))

	rec := serve(h, authedRequest(t, http.MethodGet, "/documents/approve/outgoing-payment/OP8", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `name="decision"`)
}

func TestSubmitApprovalSummaryActionWaitsForPreviousStep(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/staging-outgoing-payments/headers/{id}", opDetail(map[string]any{
		"approvalStatus":     "Checked",
		"checkedDate":        "2026-03-02T01:00:00Z",
		"approvedByKansaiId": "E001",
	}))
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodPost, "/documents/approve/outgoing-payment/OP8/actions", url.Values{"decision": {"approve"}}))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "error=")
	assert.Empty(t, b.requests(http.MethodPut, "/api/staging-outgoing-payments/approvals/OP8"))
}

func TestAssignedModeUsesEmployeeID(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/ar-invoices/by-checked/E001", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]any{
			{"stagingID": "S1", "invoiceNo": "INV-0001", "arInvoiceApprovalSummary": map[string]any{"approvalStatus": "Prepared"}},
		})
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/ar-invoice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "INV-0001")
	require.Len(t, b.requests(http.MethodGet, "/api/ar-invoices/by-checked/E001"), 1)

	// A user the lookup does not know has no employee id to ask for.
	req := httptest.NewRequest(http.MethodGet, "/dashboard/check/ar-invoice", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: testToken(t, "u-77", "ghost")})
	rec = serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "INV-0001")
	assert.Len(t, b.requests(http.MethodGet, "/api/ar-invoices/by-checked/E001"), 1)
}

func TestOutgoingPaymentDashboardUsesApprovalEndpoint(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/op-reim/dashboard/approval", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]any{
			{"stagingID": "S2", "counterRef": "OP-0002", "approval": map[string]any{"approvalStatus": "Acknowledged"}},
		})
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/dashboard/approve/outgoing-payment", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "OP-0002")
	sent := b.requests(http.MethodGet, "/api/op-reim/dashboard/approval")
	require.Len(t, sent, 1)
	assert.Equal(t, "u-1", sent[0].Query.Get("ApproverId"))
	assert.Equal(t, "approved", sent[0].Query.Get("ApproverRole"))
	assert.Equal(t, "false", sent[0].Query.Get("isApproved"))
}

func TestCrossOriginPostRejected(t *testing.T) {
	h := newTestPortal(t, newFakeBackend(t))

	req := authedRequest(t, http.MethodPost, "/documents/check/purchase-request/42/actions", url.Values{"decision": {"approve"}})
	req.Header.Set("Origin", "https://evil.example")
	rec := serve(h, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExportListWritesWorkbook(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("GET /api/pr/dashboard/approval", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]any{
			{"id": 1, "purchaseRequestNo": "PR-0001", "requesterName": "Budi", "submissionDate": "2026-01-05", "status": "Prepared", "totalAmount": 1500},
			{"id": 2, "purchaseRequestNo": "PR-0002", "requesterName": "Citra", "submissionDate": "2026-02-10", "status": "Prepared", "totalAmount": 20},
			{"id": 3, "purchaseRequestNo": "PR-0003", "requesterName": "Dewi", "submissionDate": "2026-03-01", "status": "Prepared", "totalAmount": 30},
		})
	})
	h := newTestPortal(t, b)

	rec := serve(h, authedRequest(t, http.MethodGet, "/dashboard/check/purchase-request/export.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "purchase-request-check-pending-20260304.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Purchase Request")
	require.NoError(t, err)
	require.Len(t, rows, 4, "export ignores paging")
	assert.Equal(t, exportHeaders, rows[0])
	assert.Equal(t, "PR-0003", rows[1][1])
	assert.Equal(t, "PR-0001", rows[3][1])
}

func TestNewDocumentFormOffersAssignees(t *testing.T) {
	h := newTestPortal(t, newFakeBackend(t))

	rec := serve(h, authedRequest(t, http.MethodGet, "/documents/new/cash-advance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="assignee_close"`)
	assert.Contains(t, body, `<option value="u-2">Budi Santoso</option>`)
	assert.Contains(t, body, `<option value="3">Finance</option>`)
	assert.Equal(t, draftLineSlots, strings.Count(body, `name="line_description"`))

	rec = serve(h, authedRequest(t, http.MethodGet, "/documents/new/ar-invoice", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, authedRequest(t, http.MethodGet, "/dashboard", nil))
	assert.Contains(t, rec.Body.String(), `href="/documents/new/reimbursement"`)
	assert.NotContains(t, rec.Body.String(), `href="/documents/new/outgoing-payment"`)
}

func TestCreateDocumentPostsDraftUpstream(t *testing.T) {
	b := newFakeBackend(t)
	b.mux.HandleFunc("POST /api/cash-advance", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusCreated, map[string]any{"id": "c-9", "cashAdvanceNo": "CA-0009"})
	})
	h := newTestPortal(t, b)

	form := url.Values{
		"purpose":          {"Site visit"},
		"department":       {"3"},
		"line_description": {"Train", "", "Hotel"},
		"line_amount":      {"1,000", "", "500.25"},
		"assignee_check":   {"u-2"},
		"submit":           {"submit"},
	}
	rec := serve(h, authedRequest(t, http.MethodPost, "/documents/new/cash-advance", form))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/documents/revise/cash-advance/c-9", loc.Path)
	assert.Equal(t, "Cash Advance CA-0009 submitted", loc.Query().Get("message"))

	sent := b.requests(http.MethodPost, "/api/cash-advance")
	require.Len(t, sent, 1)
	body := sent[0].Body
	assert.Equal(t, "u-1", body["requesterId"])
	assert.Equal(t, "Alice Tan", body["requesterName"])
	assert.Equal(t, "E001", body["kansaiEmployeeId"])
	assert.Equal(t, "u-2", body["checkedBy"])
	assert.Equal(t, "Prepared", body["status"])
	assert.Equal(t, "2026-03-04", body["submissionDate"])
	assert.Equal(t, 1500.25, body["totalAmount"])
	assert.Len(t, body["cashAdvanceDetails"], 2)
	assert.NotContains(t, body, "approvedBy")
}

func TestCreateDocumentRejectsIncompleteDraft(t *testing.T) {
	b := newFakeBackend(t)
	h := newTestPortal(t, b)

	form := url.Values{"purpose": {"Site visit"}, "line_description": {"Train"}, "line_amount": {"-1"}}
	rec := serve(h, authedRequest(t, http.MethodPost, "/documents/new/cash-advance", form))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/documents/new/cash-advance", loc.Path)
	assert.Equal(t, "Line 1: each line needs a description and an amount above zero", loc.Query().Get("error"))
	assert.Empty(t, b.requests(http.MethodPost, "/api/cash-advance"))
}
