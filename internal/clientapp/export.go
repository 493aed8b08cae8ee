package clientapp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/upstream"
)

var exportHeaders = []string{"No", "Document No", "Requester", "Department", "Date", "Status", "Currency", "Total"}

// exportList writes the current tab (search applied, no paging) as a workbook.
func (s *server) exportList(w http.ResponseWriter, r *http.Request) {
	role, spec, ok := s.routeTarget(w, r)
	if !ok {
		return
	}
	sess := mustSession(r)
	tab := docflow.ParseTab(r.URL.Query().Get("tab"))

	rows, err := s.fetchDashboardRows(r.Context(), sess, role, spec, tab)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			s.expireSession(w, r)
			return
		}
		s.logger.Warn("export fetch failed", zap.String("kind", string(spec.Kind)), zap.Error(err))
		http.Error(w, "unable to load documents", http.StatusBadGateway)
		return
	}
	rows = filterRows(rows, r.URL.Query().Get("q"))

	filename := fmt.Sprintf("%s-%s-%s-%s.xlsx", spec.Kind, role, tab, s.now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := writeRowsWorkbook(w, spec.Name, rows); err != nil {
		s.logger.Error("export write failed", zap.Error(err))
	}
}

func writeRowsWorkbook(out io.Writer, title string, rows []documentRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sheetName(title)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}

	header := make([]any, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, row := range rows {
		total, _ := row.TotalValue.Float64()
		cells := []any{
			i + 1,
			row.Number,
			row.Requester,
			row.Department,
			row.Date,
			string(row.Status),
			row.Currency,
			excelize.Cell{StyleID: amountStyle, Value: total},
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(out)
}

// sheetName trims to Excel's 31 character limit and drops characters it rejects.
func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "Documents"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
