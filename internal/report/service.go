package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/deepdrill-ai/deepdrill/internal/cache"
	"github.com/deepdrill-ai/deepdrill/internal/engine"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

const (
	summaryMaxLen  = 240
	detailCacheTTL = 15 * time.Minute
)

// Service layers report lifecycle logic over the repository: conversion of a
// terminal live report into a stored one, lazy detail hydration against the
// engine, and best-effort remote deletion.
type Service struct {
	repo   Repository
	engine engine.Client
	cache  cache.Cache
}

// NewService creates a report Service.
func NewService(repo Repository, engineClient engine.Client, ca cache.Cache) *Service {
	return &Service{repo: repo, engine: engineClient, cache: ca}
}

// SaveTerminal converts a terminal live report into a StoredReport and
// persists it. Called once when a run completes or fails.
func (s *Service) SaveTerminal(ctx context.Context, userID uuid.UUID, live *models.DeepAnalysisReport) (*models.StoredReport, error) {
	stored := &models.StoredReport{
		ID:        live.ID,
		UserID:    userID,
		Goal:      live.Goal,
		Status:    live.Status,
		Summary:   summarize(live),
		StartTime: live.StartTime,
		EndTime:   live.EndTime,
		Result:    live.Result,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("saving report: %w", err)
	}
	stored.HasDetail = !stored.Result.Empty()
	return stored, nil
}

// List returns summary rows for the user's report history.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*models.StoredReport, error) {
	return s.repo.List(ctx, userID)
}

// Hydrate returns the report with its full result payload. A report that
// already carries detail is returned as-is with zero network calls; otherwise
// the detail comes from the Redis cache or, failing that, the engine, and is
// written back so the next hydrate stays local.
func (s *Service) Hydrate(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.StoredReport, error) {
	stored, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if stored.HasDetail {
		return stored, nil
	}
	// A failed run never produced a result and the engine holds no record of
	// it; the stored summary is all the detail there is.
	if stored.Status == models.ReportStatusFailed {
		return stored, nil
	}

	if result, ok := s.cachedDetail(ctx, id); ok {
		stored.Result = result
		stored.HasDetail = true
		return stored, nil
	}

	detail, err := s.engine.FetchReport(ctx, id)
	if errors.Is(err, engine.ErrReportNotFound) {
		// The engine dropped the report; serve the summary row rather than
		// failing every read of it.
		return stored, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hydrating report %s: %w", id, err)
	}
	stored.Result = detail.Result
	stored.HasDetail = !stored.Result.Empty()

	if err := s.repo.SetResult(ctx, id, stored.Result); err != nil {
		slog.Warn("persisting hydrated report detail", "error", err, "report_id", id)
	}
	s.cacheDetail(ctx, id, stored.Result)
	return stored, nil
}

// Delete removes the report from the engine best-effort, then unconditionally
// from the local repository so the user's list never shows a failed deletion.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, userID uuid.UUID, remoteUserID string) error {
	if err := s.engine.DeleteReport(ctx, id, remoteUserID); err != nil {
		slog.Warn("engine report deletion failed, removing locally anyway",
			"error", err, "report_id", id)
	}
	if err := s.cache.Delete(ctx, cache.ReportDetailKey(id)); err != nil {
		slog.Warn("dropping cached report detail", "error", err, "report_id", id)
	}
	return s.repo.Delete(ctx, id, userID)
}

func (s *Service) cachedDetail(ctx context.Context, id uuid.UUID) (models.AnalysisResult, bool) {
	raw, ok, err := s.cache.Get(ctx, cache.ReportDetailKey(id))
	if err != nil || !ok {
		return models.AnalysisResult{}, false
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.AnalysisResult{}, false
	}
	return result, true
}

func (s *Service) cacheDetail(ctx context.Context, id uuid.UUID, result models.AnalysisResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.ReportDetailKey(id), raw, detailCacheTTL); err != nil {
		slog.Warn("caching report detail", "error", err, "report_id", id)
	}
}

// summarize derives the short history-list summary from the final conclusion,
// falling back to the failure message for failed runs.
func summarize(live *models.DeepAnalysisReport) string {
	text := live.Result.FinalConclusion
	if text == "" && live.Status == models.ReportStatusFailed {
		text = live.Error
	}
	if len(text) > summaryMaxLen {
		cut := summaryMaxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}
