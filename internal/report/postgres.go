package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// PostgresRepository implements Repository using pgx/v5. The result payload is
// stored as a jsonb column; summary queries never select it.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (s *PostgresRepository) Save(ctx context.Context, report *models.StoredReport) error {
	result, err := json.Marshal(report.Result)
	if err != nil {
		return fmt.Errorf("encoding report result: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO stored_reports (id, user_id, goal, status, summary, start_time, end_time, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   summary = EXCLUDED.summary,
		   end_time = EXCLUDED.end_time,
		   result = EXCLUDED.result`,
		report.ID, report.UserID, report.Goal, report.Status, report.Summary,
		report.StartTime, report.EndTime, result, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (s *PostgresRepository) List(ctx context.Context, userID uuid.UUID) ([]*models.StoredReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, goal, status, summary, start_time, end_time, created_at
		 FROM stored_reports WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.StoredReport
	for rows.Next() {
		var r models.StoredReport
		if err := rows.Scan(&r.ID, &r.UserID, &r.Goal, &r.Status, &r.Summary,
			&r.StartTime, &r.EndTime, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

func (s *PostgresRepository) Get(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.StoredReport, error) {
	var r models.StoredReport
	var result []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, goal, status, summary, start_time, end_time, result, created_at
		 FROM stored_reports WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&r.ID, &r.UserID, &r.Goal, &r.Status, &r.Summary,
			&r.StartTime, &r.EndTime, &result, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &r.Result); err != nil {
			return nil, fmt.Errorf("decoding report result: %w", err)
		}
	}
	r.HasDetail = !r.Result.Empty()
	return &r, nil
}

func (s *PostgresRepository) SetResult(ctx context.Context, id uuid.UUID, result models.AnalysisResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding report result: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE stored_reports SET result = $2 WHERE id = $1`, id, encoded)
	if err != nil {
		return fmt.Errorf("set report result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresRepository) Delete(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM stored_reports WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Compile-time check that PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
