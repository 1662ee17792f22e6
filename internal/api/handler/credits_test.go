package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepdrill-ai/deepdrill/internal/api/handler"
	"github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/cache"
	"github.com/deepdrill-ai/deepdrill/internal/credits"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

type mockCredits struct {
	balance     int
	balanceErr  error
	balanceHits int
}

func (m *mockCredits) Balance(_ context.Context, _ string) (int, error) {
	m.balanceHits++
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockCredits) Deduct(_ context.Context, _ string, _ int, _ string) error {
	return nil
}

func balanceBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data
}

func TestBalance_FetchedAndCached(t *testing.T) {
	cc := &mockCredits{balance: 71}
	ca := newMockCache()
	h := handler.NewBalanceHandler(cc, ca)

	w := httptest.NewRecorder()
	h(w, authedRequest(t, "GET", "/api/v1/credits/balance", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	data := balanceBody(t, w)
	assert.Equal(t, float64(71), data["balance"])
	assert.NotContains(t, data, "cached")

	// Fresh value lands in the cache under the billing identity.
	raw, hit, err := ca.Get(context.Background(), cache.BalanceKey("auth0|abc"))
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "71", string(raw))
}

// A failing cache write must not fail the request; the fresh balance is
// still served.
func TestBalance_CacheWriteFailureNonFatal(t *testing.T) {
	cc := &mockCredits{balance: 71}
	ca := newMockCache()
	ca.setErr = errors.New("redis down")
	h := handler.NewBalanceHandler(cc, ca)

	w := httptest.NewRecorder()
	h(w, authedRequest(t, "GET", "/api/v1/credits/balance", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(71), balanceBody(t, w)["balance"])
}

func TestBalance_ServedFromCache(t *testing.T) {
	cc := &mockCredits{balance: 71}
	ca := newMockCache()
	ca.store[cache.BalanceKey("auth0|abc")] = []byte("42")
	h := handler.NewBalanceHandler(cc, ca)

	w := httptest.NewRecorder()
	h(w, authedRequest(t, "GET", "/api/v1/credits/balance", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	data := balanceBody(t, w)
	assert.Equal(t, float64(42), data["balance"])
	assert.Equal(t, true, data["cached"])
	assert.Zero(t, cc.balanceHits)
}

func TestBalance_CorruptCacheEntryRefetches(t *testing.T) {
	cc := &mockCredits{balance: 13}
	ca := newMockCache()
	ca.store[cache.BalanceKey("auth0|abc")] = []byte("not-a-number")
	h := handler.NewBalanceHandler(cc, ca)

	w := httptest.NewRecorder()
	h(w, authedRequest(t, "GET", "/api/v1/credits/balance", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(13), balanceBody(t, w)["balance"])
	assert.Equal(t, 1, cc.balanceHits)
}

func TestBalance_Anonymous(t *testing.T) {
	cc := &mockCredits{balance: 71}
	h := handler.NewBalanceHandler(cc, newMockCache())

	req := httptest.NewRequest("GET", "/api/v1/credits/balance", nil)
	req = req.WithContext(middleware.SetUser(req.Context(), models.User{
		ID:        uuid.New(),
		Anonymous: true,
	}))
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := balanceBody(t, w)
	assert.Equal(t, float64(0), data["balance"])
	assert.Equal(t, true, data["anonymous"])
	assert.Zero(t, cc.balanceHits)
}

func TestBalance_LedgerUnavailable(t *testing.T) {
	cc := &mockCredits{balanceErr: credits.ErrLedgerUnreachable}
	h := handler.NewBalanceHandler(cc, newMockCache())

	w := httptest.NewRecorder()
	h(w, authedRequest(t, "GET", "/api/v1/credits/balance", ""))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "LEDGER_UNAVAILABLE", errorCode(t, w))
}

func TestBalance_Unauthenticated(t *testing.T) {
	h := handler.NewBalanceHandler(&mockCredits{}, newMockCache())

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/credits/balance", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
