package credits_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepdrill-ai/deepdrill/internal/credits"
)

func TestBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/credits/auth0%7Cabc/balance", r.URL.EscapedPath())
		assert.Equal(t, "Bearer ledger-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]int{"balance": 42})
	}))
	defer server.Close()

	client := credits.NewHTTPClient(server.URL, "ledger-key", 5*time.Second)

	balance, err := client.Balance(context.Background(), "auth0|abc")
	require.NoError(t, err)
	assert.Equal(t, 42, balance)
}

func TestBalance_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := credits.NewHTTPClient(server.URL, "", 5*time.Second)

	_, err := client.Balance(context.Background(), "abc")
	assert.ErrorIs(t, err, credits.ErrLedgerStatus)
}

func TestBalance_Unreachable(t *testing.T) {
	client := credits.NewHTTPClient("http://127.0.0.1:1", "", time.Second)

	_, err := client.Balance(context.Background(), "abc")
	assert.ErrorIs(t, err, credits.ErrLedgerUnreachable)
}

func TestDeduct(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/credits/42/deduct", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := credits.NewHTTPClient(server.URL, "", 5*time.Second)

	err := client.Deduct(context.Background(), "42", 29, "Deep analysis: churn study")
	require.NoError(t, err)

	assert.Equal(t, float64(29), payload["amount"])
	assert.Equal(t, "Deep analysis: churn study", payload["description"])
}

func TestDeduct_InsufficientBalance(t *testing.T) {
	for _, status := range []int{http.StatusPaymentRequired, http.StatusConflict} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		client := credits.NewHTTPClient(server.URL, "", 5*time.Second)
		err := client.Deduct(context.Background(), "abc", 29, "d")
		assert.ErrorIs(t, err, credits.ErrInsufficientBalance, "status %d", status)

		server.Close()
	}
}

func TestDeduct_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := credits.NewHTTPClient(server.URL, "", 5*time.Second)

	err := client.Deduct(context.Background(), "abc", 29, "d")
	assert.ErrorIs(t, err, credits.ErrLedgerStatus)
}
