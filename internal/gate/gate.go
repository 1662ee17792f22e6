// Package gate decides whether a deep analysis run may start. Admission is
// two ordered, short-circuiting checks: plan entitlement against locally-held
// subscription state, then a fresh credit balance fetch for authenticated
// callers.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/deepdrill-ai/deepdrill/internal/cache"
	"github.com/deepdrill-ai/deepdrill/internal/credits"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// Denial reasons. The UI maps these to distinct remedies (plan upgrade vs.
// credit top-up).
const (
	ReasonUpgradeRequired     = "upgrade_required"
	ReasonInsufficientCredits = "insufficient_credits"
)

const balanceCacheTTL = 5 * time.Minute

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed         bool
	Reason          string
	RequiredCredits int
}

// Gate performs admission checks for the deep analysis feature.
type Gate struct {
	credits credits.Client
	cache   cache.Cache
	cost    int
}

// New creates a Gate charging the given fixed credit cost per run.
func New(creditsClient credits.Client, ca cache.Cache, cost int) *Gate {
	return &Gate{credits: creditsClient, cache: ca, cost: cost}
}

// Cost returns the fixed credit cost of one run.
func (g *Gate) Cost() int { return g.cost }

// Check evaluates admission for the user. Entitlement is checked first and
// never proceeds to the credit check on denial. Anonymous callers skip the
// credit check entirely; their access is gated by entitlement alone.
func (g *Gate) Check(ctx context.Context, user models.User) (Decision, error) {
	if !user.Plan.HasFeature(models.FeatureDeepAnalysis) {
		return Decision{Reason: ReasonUpgradeRequired}, nil
	}

	if user.Anonymous {
		return Decision{Allowed: true}, nil
	}

	identity := user.BillingIdentity()
	balance, err := g.credits.Balance(ctx, identity)
	if err != nil {
		return Decision{}, fmt.Errorf("fetching credit balance: %w", err)
	}

	if balance < g.cost {
		// Push the fresh balance into the cache so any dependent UI reflects
		// the blocked state immediately.
		if cerr := g.cache.Set(ctx, cache.BalanceKey(identity),
			[]byte(strconv.Itoa(balance)), balanceCacheTTL); cerr != nil {
			slog.Warn("refreshing cached balance after denial", "error", cerr)
		}
		return Decision{
			Reason:          ReasonInsufficientCredits,
			RequiredCredits: g.cost,
		}, nil
	}

	return Decision{Allowed: true}, nil
}
