// Package report renders approval data as XLSX workbooks.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Sheet names
const (
	SheetRequest  = "Request"
	SheetTasks    = "Tasks"
	SheetHistory  = "History"
	SheetSummary  = "Summary"
	SheetRequests = "Requests"
)

const timeLayout = "2006-01-02 15:04:05"

var requestHeader = []interface{}{
	"Request ID", "Expense ID", "Submitter", "Status", "Priority",
	"Amount", "Currency", "Rule", "Current Sequence", "Due", "Created", "Resolved",
}

// XLSXExporter implements port.ReportWriter with excelize
type XLSXExporter struct {
	logger *zap.Logger
}

var _ port.ReportWriter = (*XLSXExporter)(nil)

// NewXLSXExporter creates a new exporter
func NewXLSXExporter(logger *zap.Logger) *XLSXExporter {
	return &XLSXExporter{logger: logger}
}

// WriteRequest implements port.ReportWriter
func (e *XLSXExporter) WriteRequest(req *entity.ApprovalRequest, tasks []*entity.ApprovalTask, history []*entity.ApprovalHistory) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetRequest); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	w := &sheetWriter{f: f, sheet: SheetRequest, bold: bold}
	w.header(requestHeader)
	w.row(requestRow(req))

	w.newSheet(SheetTasks)
	w.header([]interface{}{
		"Task ID", "Sequence", "Approver", "Required", "Status", "Decision",
		"Delegated From", "Escalated From", "Due", "Completed", "Comments",
	})
	for _, t := range tasks {
		w.row([]interface{}{
			t.ID, t.Sequence, t.ApproverID, t.IsRequired, string(t.Status), string(t.Decision),
			t.DelegatedFrom, t.EscalatedFrom, formatTime(t.DueDate), formatTime(t.CompletedAt), t.Comments,
		})
	}

	w.newSheet(SheetHistory)
	w.header([]interface{}{"#", "Time", "Action", "Actor", "Actor Type", "From", "To", "Task", "Comments"})
	for _, h := range history {
		w.row([]interface{}{
			h.Seq, h.CreatedAt.UTC().Format(timeLayout), string(h.Action), h.ActorID, string(h.ActorType),
			string(h.FromStatus), string(h.ToStatus), h.TaskID, h.Comments,
		})
	}

	if w.err != nil {
		return nil, w.err
	}
	return e.finish(f, zap.String("request_id", req.ID), zap.Int("history_count", len(history)))
}

// WriteStats implements port.ReportWriter
func (e *XLSXExporter) WriteStats(stats *port.RequestStats, requests []*entity.ApprovalRequest) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	w := &sheetWriter{f: f, sheet: SheetSummary, bold: bold}
	w.header([]interface{}{"Metric", "Value"})
	w.row([]interface{}{"Organization", stats.OrgID})
	w.row([]interface{}{"Total requests", stats.Total})
	for _, status := range sortedKeys(stats.ByStatus) {
		w.row([]interface{}{"Status " + status, stats.ByStatus[entity.RequestStatus(status)]})
	}
	for _, priority := range sortedKeys(stats.ByPriority) {
		w.row([]interface{}{"Priority " + priority, stats.ByPriority[entity.Priority(priority)]})
	}
	w.row([]interface{}{"Average approval hours", roundHours(stats.AverageApprovalDuration)})

	w.newSheet(SheetRequests)
	w.header(requestHeader)
	for _, r := range requests {
		w.row(requestRow(r))
	}

	if w.err != nil {
		return nil, w.err
	}
	return e.finish(f, zap.String("org_id", stats.OrgID), zap.Int("request_count", len(requests)))
}

func (e *XLSXExporter) finish(f *excelize.File, fields ...zap.Field) ([]byte, error) {
	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	e.logger.Info("Report generated", append(fields, zap.Int("bytes", buf.Len()))...)
	return buf.Bytes(), nil
}

// sheetWriter appends rows to the current sheet and keeps the first error
type sheetWriter struct {
	f     *excelize.File
	sheet string
	bold  int
	next  int
	err   error
}

func (w *sheetWriter) newSheet(name string) {
	if w.err != nil {
		return
	}
	if _, err := w.f.NewSheet(name); err != nil {
		w.err = fmt.Errorf("failed to create sheet %s: %w", name, err)
		return
	}
	w.sheet = name
	w.next = 0
}

func (w *sheetWriter) header(cols []interface{}) {
	w.row(cols)
	if w.err == nil {
		w.err = w.f.SetRowStyle(w.sheet, w.next, w.next, w.bold)
	}
	if w.err == nil {
		last, err := excelize.ColumnNumberToName(len(cols))
		if err != nil {
			w.err = err
			return
		}
		w.err = w.f.SetColWidth(w.sheet, "A", last, 18)
	}
}

func (w *sheetWriter) row(values []interface{}) {
	if w.err != nil {
		return
	}
	w.next++
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(w.sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("failed to write %s row %d: %w", w.sheet, w.next, err)
	}
}

func requestRow(r *entity.ApprovalRequest) []interface{} {
	return []interface{}{
		r.ID, r.ExpenseID, r.SubmitterID, string(r.Status), string(r.Priority),
		r.TotalAmount.InexactFloat64(), r.Currency, r.RuleID, r.CurrentSequence,
		formatTime(r.DueDate), r.CreatedAt.UTC().Format(timeLayout), formatTime(r.ResolvedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func roundHours(d time.Duration) float64 {
	return float64(d.Round(time.Minute)) / float64(time.Hour)
}

func sortedKeys[K ~string, V any](m map[K]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// Filename builds a download name such as "request-<id>.xlsx"
func Filename(kind, id string) string {
	id = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '"' {
			return '_'
		}
		return r
	}, id)
	return kind + "-" + id + ".xlsx"
}
