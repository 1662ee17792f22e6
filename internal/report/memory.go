package report

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*models.StoredReport
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{reports: make(map[uuid.UUID]*models.StoredReport)}
}

func (m *MemoryRepository) Save(_ context.Context, report *models.StoredReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *report
	m.reports[report.ID] = &cp
	return nil
}

func (m *MemoryRepository) List(_ context.Context, userID uuid.UUID) ([]*models.StoredReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.StoredReport
	for _, r := range m.reports {
		if r.UserID != userID {
			continue
		}
		summary := *r
		summary.Result = models.AnalysisResult{}
		summary.HasDetail = false
		out = append(out, &summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID, userID uuid.UUID) (*models.StoredReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok || r.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *r
	cp.HasDetail = !cp.Result.Empty()
	return &cp, nil
}

func (m *MemoryRepository) SetResult(_ context.Context, id uuid.UUID, result models.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.Result = result
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id uuid.UUID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok || r.UserID != userID {
		return ErrNotFound
	}
	delete(m.reports, id)
	return nil
}

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)
