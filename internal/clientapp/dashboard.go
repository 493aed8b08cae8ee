package clientapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/identity"
	"github.com/expressiv/approvaldesk/internal/upstream"
)

func (s *server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	catalog := s.catalog.Catalog()

	var sections []roleSection
	for _, role := range docflow.Roles() {
		kinds := catalog.KindsForRole(role)
		if len(kinds) == 0 {
			continue
		}
		sections = append(sections, roleSection{Role: role, Kinds: kinds})
	}

	data := pageData{
		Error:          r.URL.Query().Get("error"),
		SuccessMessage: r.URL.Query().Get("message"),
		User:           sess.Claims,
		UserName:       sess.Claims.Username,
		Roles:          sections,
		Creatable:      catalog.Creatable(),
	}
	s.render(w, s.dashboardTmpl, "dashboard.html", data)
}

func tabsFor(role docflow.Role, spec *docflow.KindSpec, active string) []tabLink {
	tabs := []tabLink{
		{Name: docflow.TabPending, Label: "Pending"},
		{Name: docflow.TabDone, Label: role.PastTense()},
		{Name: docflow.TabRejected, Label: "Rejected"},
	}
	if spec.HasRole(docflow.RoleClose) && role != docflow.RoleClose {
		tabs = append(tabs, tabLink{Name: docflow.TabClosed, Label: "Closed"})
	}
	for i := range tabs {
		tabs[i].Active = tabs[i].Name == active
	}
	return tabs
}

func (s *server) listPage(w http.ResponseWriter, r *http.Request) {
	role, spec, ok := s.routeTarget(w, r)
	if !ok {
		return
	}
	sess := mustSession(r)
	query := r.URL.Query()
	tab := docflow.ParseTab(query.Get("tab"))
	search := strings.TrimSpace(query.Get("q"))
	page := parsePositiveInt(query.Get("page"), 1)

	rows, err := s.fetchDashboardRows(r.Context(), sess, role, spec, tab)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			s.expireSession(w, r)
			return
		}
		s.logger.Warn("dashboard fetch failed", zap.String("kind", string(spec.Kind)), zap.String("role", string(role)), zap.Error(err))
		http.Error(w, "unable to load documents", http.StatusBadGateway)
		return
	}
	rows = filterRows(rows, search)

	perPage := s.cfg.PageSize
	total := len(rows)
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * perPage
	end := start + perPage
	if end > total {
		end = total
	}

	data := pageData{
		Error:          query.Get("error"),
		SuccessMessage: query.Get("message"),
		User:           sess.Claims,
		UserName:       sess.Claims.Username,
		Role:           role,
		Kind:           spec,
		Tab:            tab,
		Tabs:           tabsFor(role, spec, tab),
		Search:         search,
		Page:           page,
		HasPrev:        page > 1,
		HasNext:        page < totalPages,
		PrevPage:       page - 1,
		NextPage:       page + 1,
		TotalCount:     total,
		Rows:           rows[start:end],
	}
	s.render(w, s.listTmpl, "list.html", data)
}

// fetchDashboardRows returns every row for a tab, newest first. Paging and search happen here
// rather than upstream since the list endpoints do not page consistently.
func (s *server) fetchDashboardRows(ctx context.Context, sess identity.Session, role docflow.Role, spec *docflow.KindSpec, tab string) ([]documentRow, error) {
	var (
		path  string
		query = url.Values{}
	)
	switch spec.Dashboard.Mode {
	case docflow.DashboardApproval:
		base := strings.TrimRight(spec.Dashboard.BasePath, "/")
		query.Set("ApproverId", sess.Claims.UserID)
		query.Set("ApproverRole", role.DashboardRole())
		switch tab {
		case docflow.TabDone:
			path = base + "/approval"
			query.Set("isApproved", "true")
		case docflow.TabRejected:
			path = base + "/rejected"
		case docflow.TabClosed:
			path = base + "/closed"
			query.Set("ApproverRole", docflow.RoleClose.DashboardRole())
		default:
			path = base + "/approval"
			query.Set("isApproved", "false")
		}
	case docflow.DashboardAssigned:
		kansaiID := ""
		if spec.Dashboard.NeedsKansaiID() {
			kansaiID = actorFor(sess, s.loadLookups(ctx, sess.Token)).EmployeeID
			if kansaiID == "" {
				s.logger.Warn("no employee id for assigned dashboard", zap.String("kind", string(spec.Kind)), zap.String("user_id", sess.Claims.UserID))
				return nil, nil
			}
		}
		path = spec.Dashboard.AssignedPath(role, sess.Claims.UserID, kansaiID)
	default:
		path = spec.Dashboard.ListPath
	}

	var raw json.RawMessage
	if err := s.api.GetData(ctx, sess.Token, path, query, &raw); err != nil {
		return nil, err
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, err
	}

	l := lookups{}
	if needsDepartmentLookup(records) {
		l = s.loadLookups(ctx, sess.Token)
	}
	rows := make([]documentRow, 0, len(records))
	for _, rec := range records {
		row := normalizeRow(rec, l)
		if row.ID == "" {
			continue
		}
		if spec.Dashboard.Mode != docflow.DashboardApproval && docflow.TabFor(role, row.Status) != tab {
			continue
		}
		rows = append(rows, row)
	}
	sortRowsNewestFirst(rows)
	return rows, nil
}

func needsDepartmentLookup(records []record) bool {
	for _, r := range records {
		if r.str(departmentKeys...) == "" && r.str("departmentId") != "" {
			return true
		}
	}
	return false
}
