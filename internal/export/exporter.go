// Package export renders completed reports into downloadable documents.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/deepdrill-ai/deepdrill/internal/engine"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// Sentinel errors for export failures.
var (
	// ErrExportInFlight means another export is still running; the caller
	// should retry once it finishes rather than queueing.
	ErrExportInFlight = errors.New("an export is already in progress")
	ErrRenderFailed   = errors.New("report render failed")
)

// Document is a rendered report ready to be offered as a file download.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Exporter renders reports via the engine with a single-flight guard: at most
// one export runs at a time, concurrent calls are rejected, never queued.
type Exporter struct {
	engine   engine.Client
	inFlight atomic.Bool
}

// NewExporter creates an Exporter.
func NewExporter(engineClient engine.Client) *Exporter {
	return &Exporter{engine: engineClient}
}

// Download renders the report in the requested format. A failed stored-report
// render is retried with the locally held analysis payload inlined; after
// that, HTML falls back to the report's cached html_report when present,
// while PDF has no local fallback and surfaces the failure.
func (e *Exporter) Download(ctx context.Context, report *models.StoredReport, format string) (*Document, error) {
	if format != engine.FormatHTML && format != engine.FormatPDF {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrExportInFlight
	}
	defer e.inFlight.Store(false)

	blob, err := e.engine.Render(ctx, engine.RenderRequest{
		ReportUUID: report.ID,
		Format:     format,
	})
	if err != nil && !report.Result.Empty() {
		// The engine may have dropped the stored report; re-render from the
		// payload we hold.
		slog.Warn("stored-report render failed, retrying with inline analysis data",
			"error", err, "report_id", report.ID)
		blob, err = e.engine.Render(ctx, engine.RenderRequest{
			Format:       format,
			AnalysisData: &report.Result,
		})
	}
	if err != nil {
		if format == engine.FormatHTML && report.Result.HTMLReport != "" {
			slog.Warn("server HTML render failed, serving cached html_report",
				"error", err, "report_id", report.ID)
			return e.document(report, format, []byte(report.Result.HTMLReport)), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return e.document(report, format, blob), nil
}

func (e *Exporter) document(report *models.StoredReport, format string, data []byte) *Document {
	contentType := "text/html"
	if format == engine.FormatPDF {
		contentType = "application/pdf"
	}
	return &Document{
		Filename:    fmt.Sprintf("deep_analysis_%s.%s", report.ID, format),
		ContentType: contentType,
		Data:        data,
	}
}
