package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/api/response"
	"github.com/deepdrill-ai/deepdrill/internal/engine"
	"github.com/deepdrill-ai/deepdrill/internal/gate"
	"github.com/deepdrill-ai/deepdrill/internal/orchestrator"
	"github.com/deepdrill-ai/deepdrill/internal/stream"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

const maxGoalLen = 4000

// AnalysisRunner is the interface the start handler depends on.
type AnalysisRunner interface {
	Run(ctx context.Context, user models.User, goal string, sink orchestrator.Sink) (*models.DeepAnalysisReport, error)
}

// NewStartAnalysisHandler returns the handler for POST /api/v1/deep-analysis.
// It re-streams the live report as NDJSON: one snapshot line per applied
// engine event, flushed immediately so the UI can render progress.
func NewStartAnalysisHandler(runner AnalysisRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			Goal string `json:"goal"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Goal == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "goal is required", nil)
			return
		}
		if len(req.Goal) > maxGoalLen {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "goal is too long", nil)
			return
		}

		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)
		streaming := false
		sink := func(rep *models.DeepAnalysisReport, _ stream.Event) {
			if !streaming {
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.Header().Set("Cache-Control", "no-cache")
				w.WriteHeader(http.StatusOK)
				streaming = true
			}
			if err := enc.Encode(rep); err != nil {
				slog.Warn("writing progress snapshot", "error", err, "report_id", rep.ID)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		rep, err := runner.Run(r.Context(), user, req.Goal, sink)
		if err != nil && !streaming {
			writeStartError(w, err)
			return
		}
		if rep != nil {
			// Final snapshot carries the terminal status and result payload.
			sink(rep, stream.Event{})
		}
	}
}

// writeStartError maps pre-stream failures onto the error envelope. Once
// streaming has begun the status line is already out and errors surface as a
// failed terminal snapshot instead.
func writeStartError(w http.ResponseWriter, err error) {
	var denied *orchestrator.DeniedError
	switch {
	case errors.As(err, &denied):
		switch denied.Reason {
		case gate.ReasonInsufficientCredits:
			response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
				"Not enough credits for a deep analysis run",
				map[string]int{"required_credits": denied.RequiredCredits})
		default:
			response.Error(w, http.StatusForbidden, "UPGRADE_REQUIRED",
				"Your plan does not include deep analysis", nil)
		}
	case errors.Is(err, engine.ErrEngineUnreachable), errors.Is(err, engine.ErrEngineTimeout):
		response.Error(w, http.StatusBadGateway, "ENGINE_UNAVAILABLE",
			"The analysis engine is not available", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
