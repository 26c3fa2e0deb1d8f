package apihttp

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"restroom-cloud/internal/engine/application"
	"restroom-cloud/internal/observability/metrics"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// ExportHandler renders the current device table as XLSX or PDF.
type ExportHandler struct {
	engine   Engine
	logger   *log.Logger
	location *time.Location
}

// NewExportHandler constructs an ExportHandler. Times are rendered in loc.
func NewExportHandler(engine Engine, loc *time.Location, logger *log.Logger) *ExportHandler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportHandler{engine: engine, location: loc, logger: logger}
}

// ServeHTTP handles GET /api/v1/devices/export.xlsx and /api/v1/devices/export.pdf.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	var (
		format      string
		contentType string
		build       func([]application.DeviceView, *time.Location) ([]byte, error)
	)
	switch r.URL.Path {
	case "/api/v1/devices/export.xlsx":
		format, contentType, build = "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", BuildDevicesXLSX
	case "/api/v1/devices/export.pdf":
		format, contentType, build = "pdf", "application/pdf", BuildDevicesPDF
	default:
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	views := h.engine.Devices(r.Context())
	data, err := build(views, h.location)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.logger.Printf("export %s failed: %v", format, err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=devices.%s", format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

var exportColumns = []string{"Device", "Status", "Last Active", "Bau", "Air", "Sabun", "Tisu", "Incident"}

func exportRow(view application.DeviceView, loc *time.Location) []string {
	incident := "-"
	if view.Alert.Alerting() {
		incident = fmt.Sprintf("%v", view.Alert.ActiveConditions)
	}
	lastActive := "-"
	if !view.Snapshot.LastActiveAt.IsZero() {
		lastActive = view.Snapshot.LastActiveAt.In(loc).Format(exportTimeLayout)
	}
	return []string{
		view.Snapshot.DeviceID,
		string(view.Snapshot.Status),
		lastActive,
		view.Summary.Odor,
		view.Summary.Water,
		view.Summary.SoapLabel(),
		view.Summary.TissueLabel(),
		incident,
	}
}

func sortedViews(views []application.DeviceView) []application.DeviceView {
	out := append([]application.DeviceView(nil), views...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Snapshot.DeviceID < out[j].Snapshot.DeviceID })
	return out
}

// BuildDevicesXLSX renders one row per device.
func BuildDevicesXLSX(views []application.DeviceView, loc *time.Location) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "devices"
	f.SetSheetName("Sheet1", sheet)
	for i, title := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, title)
	}
	for r, view := range sortedViews(views) {
		for c, value := range exportRow(view, loc) {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDevicesPDF renders the device table on landscape A4.
func BuildDevicesPDF(views []application.DeviceView, loc *time.Location) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()
	pdf.Cell(0, 8, "Restroom Status")
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().In(loc).Format(exportTimeLayout)))
	pdf.Ln(8)

	widths := []float64{40, 20, 36, 24, 40, 45, 35, 37}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range exportColumns {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, view := range sortedViews(views) {
		for i, value := range exportRow(view, loc) {
			pdf.CellFormat(widths[i], 6, tr(value), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
