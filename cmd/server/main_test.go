package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepdrill-ai/deepdrill/internal/engine"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// --- health handler dependencies ---

type fakeStore struct {
	pingErr error
}

func (f *fakeStore) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeStore) GetSessionKeysByPrefix(_ context.Context, _ string) ([]*models.SessionKey, error) {
	return nil, nil
}
func (f *fakeStore) ListSessionKeys(_ context.Context, _ uuid.UUID) ([]*models.SessionKey, error) {
	return nil, nil
}
func (f *fakeStore) UpdateSessionKeyLastUsed(_ context.Context, _ uuid.UUID) error  { return nil }
func (f *fakeStore) CreateSessionKey(_ context.Context, _ *models.SessionKey) error { return nil }
func (f *fakeStore) RevokeSessionKey(_ context.Context, _ uuid.UUID) error          { return nil }
func (f *fakeStore) GetUser(_ context.Context, _ uuid.UUID) (*models.User, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeStore) CreateUser(_ context.Context, _ *models.User) error { return nil }

type fakeCache struct {
	pingErr error
}

func (f *fakeCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (f *fakeCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (f *fakeCache) Delete(_ context.Context, _ string) error                         { return nil }
func (f *fakeCache) Ping(_ context.Context) error                                     { return f.pingErr }
func (f *fakeCache) SetReportStatus(_ context.Context, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}
func (f *fakeCache) GetReportStatus(_ context.Context, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (f *fakeCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

type fakeEngine struct {
	readyErr error
}

func (f *fakeEngine) StartAnalysis(_ context.Context, _ engine.StartRequest) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEngine) FetchReport(_ context.Context, _ uuid.UUID) (*engine.ReportDetail, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEngine) Render(_ context.Context, _ engine.RenderRequest) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEngine) DeleteReport(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (f *fakeEngine) Ready(_ context.Context) error                               { return f.readyErr }

// --- tests ---

func TestHealthHandler_AllHealthy(t *testing.T) {
	h := healthHandler(&fakeStore{}, &fakeCache{}, &fakeEngine{})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Data.Status)
	assert.Equal(t, "ok", body.Data.Services["database"])
	assert.Equal(t, "ok", body.Data.Services["cache"])
	assert.Equal(t, "ok", body.Data.Services["engine"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	h := healthHandler(&fakeStore{pingErr: errors.New("conn refused")}, &fakeCache{}, &fakeEngine{})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestHealthHandler_EngineDegraded(t *testing.T) {
	h := healthHandler(&fakeStore{}, &fakeCache{}, &fakeEngine{readyErr: engine.ErrEngineUnreachable})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "degraded", details["engine"])
}

func TestHealthHandler_AllDegraded(t *testing.T) {
	h := healthHandler(
		&fakeStore{pingErr: errors.New("down")},
		&fakeCache{pingErr: errors.New("down")},
		&fakeEngine{readyErr: errors.New("down")},
	)

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
