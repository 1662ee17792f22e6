package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/api/response"
	"github.com/deepdrill-ai/deepdrill/internal/report"
)

// NewListReportsHandler returns the handler for GET /api/v1/reports.
func NewListReportsHandler(svc *report.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		reports, err := svc.List(r.Context(), user.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list reports", nil)
			return
		}
		response.JSON(w, reports)
	}
}

// NewGetReportHandler returns the handler for GET /api/v1/reports/{reportID}.
// The response always carries the full result payload, hydrated from the
// engine when the stored row holds only a summary.
func NewGetReportHandler(svc *report.Service) http.HandlerFunc {
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

		stored, err := svc.Hydrate(r.Context(), reportID, user.ID)
		if err != nil {
			switch {
			case errors.Is(err, report.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Report not found", nil)
			default:
				response.Error(w, http.StatusBadGateway, "HYDRATE_FAILED",
					"Failed to fetch report detail", nil)
			}
			return
		}
		response.JSON(w, stored)
	}
}

// NewDeleteReportHandler returns the handler for DELETE /api/v1/reports/{reportID}.
func NewDeleteReportHandler(svc *report.Service) http.HandlerFunc {
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

		if err := svc.Delete(r.Context(), reportID, user.ID, user.BillingIdentity()); err != nil {
			if errors.Is(err, report.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Report not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to delete report", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
