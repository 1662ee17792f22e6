package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/api/response"
	"github.com/deepdrill-ai/deepdrill/internal/cache"
	"github.com/deepdrill-ai/deepdrill/internal/credits"
)

const balanceCacheTTL = 5 * time.Minute

// NewBalanceHandler returns the handler for GET /api/v1/credits/balance.
// Balances are served from the cache when fresh; the gate and the billing
// reconciler overwrite the cached value whenever it changes.
func NewBalanceHandler(creditsClient credits.Client, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		if user.Anonymous {
			response.JSON(w, map[string]any{"balance": 0, "anonymous": true})
			return
		}

		identity := user.BillingIdentity()
		if raw, hit, err := ca.Get(r.Context(), cache.BalanceKey(identity)); err == nil && hit {
			if balance, perr := strconv.Atoi(string(raw)); perr == nil {
				response.JSON(w, map[string]any{"balance": balance, "cached": true})
				return
			}
		}

		balance, err := creditsClient.Balance(r.Context(), identity)
		if err != nil {
			response.Error(w, http.StatusBadGateway, "LEDGER_UNAVAILABLE",
				"Could not fetch credit balance", nil)
			return
		}

		if err := ca.Set(r.Context(), cache.BalanceKey(identity),
			[]byte(strconv.Itoa(balance)), balanceCacheTTL); err != nil {
			slog.Warn("caching credit balance", "error", err)
		}
		response.JSON(w, map[string]any{"balance": balance})
	}
}
