package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepdrill-ai/deepdrill/internal/api/handler"
	"github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/engine"
	"github.com/deepdrill-ai/deepdrill/internal/export"
	"github.com/deepdrill-ai/deepdrill/internal/report"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// --- shared mocks for report/download/balance handler tests ---

type mockEngine struct {
	detail     *engine.ReportDetail
	fetchErr   error
	fetchCalls int
	renderData []byte
	renderErr  error
	deleteErr  error

	// renderEntered/renderRelease, when set, make Render block so tests can
	// hold the exporter mid-flight.
	renderEntered chan struct{}
	renderRelease chan struct{}
}

func (m *mockEngine) StartAnalysis(_ context.Context, _ engine.StartRequest) (io.ReadCloser, error) {
	return nil, errors.New("not used")
}

func (m *mockEngine) FetchReport(_ context.Context, _ uuid.UUID) (*engine.ReportDetail, error) {
	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.detail, nil
}

func (m *mockEngine) Render(_ context.Context, _ engine.RenderRequest) ([]byte, error) {
	if m.renderEntered != nil {
		select {
		case m.renderEntered <- struct{}{}:
		default:
		}
		<-m.renderRelease
	}
	return m.renderData, m.renderErr
}

func (m *mockEngine) DeleteReport(_ context.Context, _ uuid.UUID, _ string) error {
	return m.deleteErr
}

func (m *mockEngine) Ready(_ context.Context) error { return nil }

type mockCache struct {
	store  map[string][]byte
	setErr error
}

func newMockCache() *mockCache {
	return &mockCache{store: make(map[string][]byte)}
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.store[key] = value
	return nil
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.store[key]
	return v, ok, nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	delete(m.store, key)
	return nil
}

func (m *mockCache) Ping(_ context.Context) error { return nil }

func (m *mockCache) SetReportStatus(_ context.Context, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}

func (m *mockCache) GetReportStatus(_ context.Context, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}

func (m *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// occupyExporter parks a download inside the engine render call and returns a
// release func that lets it finish.
func occupyExporter(t *testing.T, exp *export.Exporter, eng *mockEngine) func() {
	t.Helper()
	eng.renderEntered = make(chan struct{}, 1)
	eng.renderRelease = make(chan struct{})

	done := make(chan struct{})
	rep := &models.StoredReport{ID: uuid.New(), Result: models.AnalysisResult{FinalConclusion: "x"}}
	go func() {
		defer close(done)
		exp.Download(context.Background(), rep, engine.FormatPDF)
	}()
	<-eng.renderEntered
	return func() {
		close(eng.renderRelease)
		<-done
	}
}

// reportFixture routes handler requests through chi so URL params resolve, and
// injects the authenticated user the way the auth middleware would.
type reportFixture struct {
	svc    *report.Service
	repo   *report.MemoryRepository
	engine *mockEngine
	user   models.User
}

func newReportFixture() *reportFixture {
	eng := &mockEngine{}
	repo := report.NewMemoryRepository()
	return &reportFixture{
		svc:    report.NewService(repo, eng, newMockCache()),
		repo:   repo,
		engine: eng,
		user:   models.User{ID: uuid.New(), Subject: "auth0|abc", Plan: models.PlanByName(models.PlanPlus)},
	}
}

func (f *reportFixture) seed(t *testing.T, result models.AnalysisResult) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.repo.Save(context.Background(), &models.StoredReport{
		ID: id, UserID: f.user.ID, Goal: "seeded goal",
		Status: models.ReportStatusCompleted, Summary: "summary",
		StartTime: time.Now(), Result: result, CreatedAt: time.Now(),
	}))
	return id
}

func (f *reportFixture) serve(method, target string, h http.HandlerFunc, body io.Reader) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, "/api/v1/reports", h)
	r.MethodFunc(method, "/api/v1/reports/{reportID}", h)
	r.MethodFunc(method, "/api/v1/reports/{reportID}/download", h)

	req := httptest.NewRequest(method, target, body)
	req = req.WithContext(middleware.SetUser(req.Context(), f.user))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// --- List ---

func TestListReports(t *testing.T) {
	f := newReportFixture()
	f.seed(t, models.AnalysisResult{FinalConclusion: "done"})
	f.seed(t, models.AnalysisResult{})

	w := f.serve("GET", "/api/v1/reports", handler.NewListReportsHandler(f.svc), nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []models.StoredReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
	for _, r := range body.Data {
		assert.True(t, r.Result.Empty(), "list rows omit the result payload")
	}
}

func TestListReports_Empty(t *testing.T) {
	f := newReportFixture()

	w := f.serve("GET", "/api/v1/reports", handler.NewListReportsHandler(f.svc), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Get ---

func TestGetReport(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{FinalConclusion: "the answer"})

	w := f.serve("GET", "/api/v1/reports/"+id.String(), handler.NewGetReportHandler(f.svc), nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data models.StoredReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, id, body.Data.ID)
	assert.Equal(t, "the answer", body.Data.Result.FinalConclusion)
	assert.True(t, body.Data.HasDetail)
	assert.Zero(t, f.engine.fetchCalls, "stored detail served without an engine call")
}

func TestGetReport_NotFound(t *testing.T) {
	f := newReportFixture()

	w := f.serve("GET", "/api/v1/reports/"+uuid.NewString(), handler.NewGetReportHandler(f.svc), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestGetReport_InvalidID(t *testing.T) {
	f := newReportFixture()

	w := f.serve("GET", "/api/v1/reports/not-a-uuid", handler.NewGetReportHandler(f.svc), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReport_HydrateFailure(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{}) // no detail, hydrate must fetch
	f.engine.fetchErr = engine.ErrEngineUnreachable

	w := f.serve("GET", "/api/v1/reports/"+id.String(), handler.NewGetReportHandler(f.svc), nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "HYDRATE_FAILED", errorCode(t, w))
}

// --- Delete ---

func TestDeleteReport(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{})

	w := f.serve("DELETE", "/api/v1/reports/"+id.String(), handler.NewDeleteReportHandler(f.svc), nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err := f.repo.Get(context.Background(), id, f.user.ID)
	assert.ErrorIs(t, err, report.ErrNotFound)
}

func TestDeleteReport_RemoteFailureStillDeletes(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{})
	f.engine.deleteErr = engine.ErrEngineUnreachable

	w := f.serve("DELETE", "/api/v1/reports/"+id.String(), handler.NewDeleteReportHandler(f.svc), nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteReport_NotFound(t *testing.T) {
	f := newReportFixture()

	w := f.serve("DELETE", "/api/v1/reports/"+uuid.NewString(), handler.NewDeleteReportHandler(f.svc), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Download ---

func TestDownloadReport_PDF(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{FinalConclusion: "x"})
	f.engine.renderData = []byte("%PDF-1.7")

	h := handler.NewDownloadReportHandler(f.svc, export.NewExporter(f.engine))
	w := f.serve("POST", "/api/v1/reports/"+id.String()+"/download", h,
		strings.NewReader(`{"format":"pdf"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "%PDF-1.7", w.Body.String())
}

// A failed server render still serves HTML from the stored html_report.
func TestDownloadReport_HTMLFallback(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{HTMLReport: "<html>cached</html>"})
	f.engine.renderErr = engine.ErrEngineStatus

	h := handler.NewDownloadReportHandler(f.svc, export.NewExporter(f.engine))
	w := f.serve("POST", "/api/v1/reports/"+id.String()+"/download", h,
		strings.NewReader(`{"format":"html"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>cached</html>", w.Body.String())
}

func TestDownloadReport_PDFRenderFailure(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{HTMLReport: "<html>cached</html>"})
	f.engine.renderErr = engine.ErrEngineStatus

	h := handler.NewDownloadReportHandler(f.svc, export.NewExporter(f.engine))
	w := f.serve("POST", "/api/v1/reports/"+id.String()+"/download", h,
		strings.NewReader(`{"format":"pdf"}`))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "RENDER_FAILED", errorCode(t, w))
}

func TestDownloadReport_InvalidFormat(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{})

	h := handler.NewDownloadReportHandler(f.svc, export.NewExporter(f.engine))
	w := f.serve("POST", "/api/v1/reports/"+id.String()+"/download", h,
		strings.NewReader(`{"format":"docx"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadReport_ExportInFlight(t *testing.T) {
	f := newReportFixture()
	id := f.seed(t, models.AnalysisResult{FinalConclusion: "x"})

	exp := export.NewExporter(f.engine)
	h := handler.NewDownloadReportHandler(f.svc, exp)

	// Occupy the single-flight slot, then make a request.
	release := occupyExporter(t, exp, f.engine)
	defer release()

	w := f.serve("POST", "/api/v1/reports/"+id.String()+"/download", h,
		strings.NewReader(`{"format":"html"}`))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "EXPORT_IN_FLIGHT", errorCode(t, w))
}
