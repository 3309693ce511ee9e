package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "carewatch-cloud/internal/alerts/domain"
	"carewatch-cloud/internal/auth"
)

// ArchiveReader loads archived alerts for export.
type ArchiveReader interface {
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]alerts.Alert, error)
}

// ExportHandler serves alert history exports from the archive.
type ExportHandler struct {
	archive ArchiveReader
}

// NewExportHandler constructs an export handler.
func NewExportHandler(archive ArchiveReader) (*ExportHandler, error) {
	if archive == nil {
		return nil, errors.New("export handler: nil archive")
	}
	return &ExportHandler{archive: archive}, nil
}

// ServeHTTP handles GET /api/v1/alerts/export.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if auth.RoleFromContext(r.Context()) == auth.RolePatient && auth.UserIDFromContext(r.Context()) != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	to := time.Now().UTC()
	from := to.Add(-30 * 24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
		to = parsed
	}

	history, err := h.archive.ListByUser(r.Context(), userID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch r.URL.Query().Get("format") {
	case "pdf":
		payload, err := BuildHistoryPDF(userID, history)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=alerts-%s.pdf", userID))
		_, _ = w.Write(payload)
	case "", "xlsx":
		payload, err := BuildHistoryXLSX(userID, history)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=alerts-%s.xlsx", userID))
		_, _ = w.Write(payload)
	default:
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
	}
}

// BuildHistoryPDF renders a minimal PDF for an alert history.
func BuildHistoryPDF(userID string, history []alerts.Alert) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Patient: %s", userID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Raised", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Rule", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(18, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Resolved", "1", 0, "C", false, 0, "")
	pdf.CellFormat(90, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, alert := range history {
		resolvedAt := ""
		if alert.Resolution != nil && !alert.Resolution.At.IsZero() {
			resolvedAt = alert.Resolution.At.Format(time.RFC3339)
		}
		pdf.CellFormat(40, 6, alert.CreatedAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, alert.RuleID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 6, alert.Severity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(18, 6, fmt.Sprintf("%d", alert.EscalationLevel), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, resolvedAt, "1", 0, "C", false, 0, "")
		pdf.CellFormat(90, 6, alert.Message, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryXLSX renders a minimal XLSX for an alert history.
func BuildHistoryXLSX(userID string, history []alerts.Alert) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	alertsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(alertsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Alert History")
	_ = f.SetCellValue(summarySheet, "A3", "Patient")
	_ = f.SetCellValue(summarySheet, "B3", userID)
	_ = f.SetCellValue(summarySheet, "A4", "Alerts")
	_ = f.SetCellValue(summarySheet, "B4", len(history))
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", time.Now().UTC().Format(time.RFC3339))

	_ = f.SetCellValue(alertsSheet, "A1", "Raised")
	_ = f.SetCellValue(alertsSheet, "B1", "Rule")
	_ = f.SetCellValue(alertsSheet, "C1", "Severity")
	_ = f.SetCellValue(alertsSheet, "D1", "Escalation Level")
	_ = f.SetCellValue(alertsSheet, "E1", "Resolved By")
	_ = f.SetCellValue(alertsSheet, "F1", "Resolved At")
	_ = f.SetCellValue(alertsSheet, "G1", "Message")
	for i, alert := range history {
		row := i + 2
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("A%d", row), alert.CreatedAt.Format(time.RFC3339))
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("B%d", row), alert.RuleID)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("C%d", row), alert.Severity)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("D%d", row), alert.EscalationLevel)
		if alert.Resolution != nil {
			_ = f.SetCellValue(alertsSheet, fmt.Sprintf("E%d", row), alert.Resolution.By)
			_ = f.SetCellValue(alertsSheet, fmt.Sprintf("F%d", row), alert.Resolution.At.Format(time.RFC3339))
		}
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("G%d", row), alert.Message)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
