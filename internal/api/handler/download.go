package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/api/response"
	"github.com/deepdrill-ai/deepdrill/internal/engine"
	"github.com/deepdrill-ai/deepdrill/internal/export"
	"github.com/deepdrill-ai/deepdrill/internal/report"
)

// NewDownloadReportHandler returns the handler for
// POST /api/v1/reports/{reportID}/download.
func NewDownloadReportHandler(svc *report.Service, exporter *export.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		reportID, err := uuid.Parse(chi.URLParam(r, "reportID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid report id", nil)
			return
		}

		var req struct {
			Format string `json:"format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Format != engine.FormatHTML && req.Format != engine.FormatPDF {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"format must be html or pdf", nil)
			return
		}

		// Hydrate first so the HTML fallback has the cached html_report
		// available when the server render fails.
		stored, err := svc.Hydrate(r.Context(), reportID, user.ID)
		if err != nil {
			if errors.Is(err, report.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Report not found", nil)
				return
			}
			response.Error(w, http.StatusBadGateway, "HYDRATE_FAILED",
				"Failed to fetch report detail", nil)
			return
		}

		doc, err := exporter.Download(r.Context(), stored, req.Format)
		if err != nil {
			switch {
			case errors.Is(err, export.ErrExportInFlight):
				response.Error(w, http.StatusConflict, "EXPORT_IN_FLIGHT",
					"A download is already in progress, please wait", nil)
			case errors.Is(err, export.ErrRenderFailed):
				response.Error(w, http.StatusBadGateway, "RENDER_FAILED",
					"The report could not be rendered", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		w.Header().Set("Content-Type", doc.ContentType)
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", doc.Filename))
		w.WriteHeader(http.StatusOK)
		w.Write(doc.Data)
	}
}
