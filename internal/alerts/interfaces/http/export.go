package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "homewatch-cloud/internal/alerts/domain"
)

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "pdf" {
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
		return
	}

	query, err := exportQueryFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := h.service.Search(r.Context(), query)
	if err != nil {
		h.respondError(w, err)
		return
	}

	var (
		payload     []byte
		contentType string
		filename    string
	)
	switch format {
	case "pdf":
		payload, err = BuildAlertsPDF(items, time.Now().UTC())
		contentType = "application/pdf"
		filename = "alerts.pdf"
	default:
		payload, err = BuildAlertsXLSX(items, time.Now().UTC())
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "alerts.xlsx"
	}
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func exportQueryFrom(r *http.Request) (alerts.SearchQuery, error) {
	values := r.URL.Query()
	query := alerts.SearchQuery{
		HouseID:  values.Get("house_id"),
		DeviceID: values.Get("device_id"),
		Type:     values.Get("type"),
		Severity: values.Get("severity"),
		State:    values.Get("state"),
	}
	if query.State == "" {
		query.State = values.Get("status")
	}
	if since := values.Get("since"); since != "" {
		parsed, err := time.Parse(timeLayout, since)
		if err != nil {
			return alerts.SearchQuery{}, fmt.Errorf("since must be RFC3339")
		}
		query.Since = parsed.UTC()
	}
	if limit := values.Get("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return alerts.SearchQuery{}, fmt.Errorf("limit must be an integer")
		}
		query.Limit = parsed
	}
	return query, nil
}

// BuildAlertsPDF renders a minimal PDF incident summary.
func BuildAlertsPDF(items []alerts.Alert, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert Incident Summary")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(items)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(38, 6, "Occurred", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "House", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(32, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(24, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(16, 6, "Score", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Acked By", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Resolved By", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alert := range items {
		pdf.CellFormat(38, 6, alert.OccurredAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, alert.HouseID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, alert.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(32, 6, alert.Type, "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 6, alert.Severity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(24, 6, alert.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(16, 6, fmt.Sprintf("%.2f", alert.Score), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, alert.AcknowledgedBy, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, alert.ResolvedBy, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsXLSX renders the alert list as an XLSX workbook.
func BuildAlertsXLSX(items []alerts.Alert, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	alertsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(alertsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Alert Incident Summary")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generatedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Alerts")
	_ = f.SetCellValue(summarySheet, "B4", len(items))

	headers := []string{"ID", "Occurred", "House", "Device", "Type", "Severity",
		"Status", "Score", "Escalation Level", "Acked By", "Acked At",
		"Resolved By", "Resolved At", "Message"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(alertsSheet, cell, header)
	}
	for i, alert := range items {
		row := i + 2
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("A%d", row), alert.ID)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("B%d", row), alert.OccurredAt.Format(time.RFC3339))
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("C%d", row), alert.HouseID)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("D%d", row), alert.DeviceID)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("E%d", row), alert.Type)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("F%d", row), alert.Severity)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("G%d", row), alert.Status)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("H%d", row), alert.Score)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("I%d", row), alert.EscalationLevel)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("J%d", row), alert.AcknowledgedBy)
		if !alert.AcknowledgedAt.IsZero() {
			_ = f.SetCellValue(alertsSheet, fmt.Sprintf("K%d", row), alert.AcknowledgedAt.Format(time.RFC3339))
		}
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("L%d", row), alert.ResolvedBy)
		if !alert.ResolvedAt.IsZero() {
			_ = f.SetCellValue(alertsSheet, fmt.Sprintf("M%d", row), alert.ResolvedAt.Format(time.RFC3339))
		}
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("N%d", row), alert.Message)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
