// Package report owns the durable list of finished deep analysis reports.
package report

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

var ErrNotFound = errors.New("report not found")

// Repository is the persistence interface for stored reports. The Postgres
// implementation backs production; the in-memory one backs tests.
type Repository interface {
	Save(ctx context.Context, report *models.StoredReport) error
	// List returns summary rows only: no result payload, newest first.
	List(ctx context.Context, userID uuid.UUID) ([]*models.StoredReport, error)
	Get(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.StoredReport, error)
	// SetResult fills in the result payload for an already-saved report.
	SetResult(ctx context.Context, id uuid.UUID, result models.AnalysisResult) error
	Delete(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
}
