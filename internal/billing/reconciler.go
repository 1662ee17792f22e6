// Package billing settles the fixed credit cost of a completed deep analysis
// run. Settlement is strictly best-effort: the report and its downloads stay
// fully usable whatever happens here, so every failure path logs and returns.
package billing

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

const balanceCacheTTL = 5 * time.Minute

// Reconciler deducts credits for terminally-completed runs.
type Reconciler struct {
	credits credits.Client
	cache   cache.Cache
	cost    int
}

// NewReconciler creates a Reconciler charging the given fixed cost per run.
func NewReconciler(creditsClient credits.Client, ca cache.Cache, cost int) *Reconciler {
	return &Reconciler{credits: creditsClient, cache: ca, cost: cost}
}

// Settle charges the user for one completed run. Called exactly once, when
// the run reaches terminal completed; never on failed runs. Anonymous users
// and users with no resolvable billing identity are skipped with a warning.
func (r *Reconciler) Settle(ctx context.Context, user models.User, report *models.DeepAnalysisReport) {
	if user.Anonymous {
		return
	}

	identity := user.BillingIdentity()
	if identity == "" {
		slog.Warn("skipping credit deduction: no billable identity",
			"user_id", user.ID, "report_id", report.ID)
		return
	}

	description := fmt.Sprintf("Deep analysis: %s", truncateGoal(report.Goal))
	if err := r.credits.Deduct(ctx, identity, r.cost, description); err != nil {
		slog.Error("credit deduction failed",
			"error", err, "identity", identity, "report_id", report.ID, "cost", r.cost)
		return
	}

	slog.Info("credits deducted", "identity", identity, "report_id", report.ID, "cost", r.cost)
	r.refreshBalance(ctx, identity)
}

// refreshBalance re-fetches the balance and updates the cache so the UI shows
// the post-deduction amount. On fetch failure the stale cached value is
// dropped instead.
func (r *Reconciler) refreshBalance(ctx context.Context, identity string) {
	balance, err := r.credits.Balance(ctx, identity)
	if err != nil {
		slog.Warn("refreshing balance after deduction", "error", err, "identity", identity)
		if derr := r.cache.Delete(ctx, cache.BalanceKey(identity)); derr != nil {
			slog.Warn("dropping stale cached balance", "error", derr)
		}
		return
	}
	if err := r.cache.Set(ctx, cache.BalanceKey(identity),
		[]byte(strconv.Itoa(balance)), balanceCacheTTL); err != nil {
		slog.Warn("caching refreshed balance", "error", err)
	}
}

func truncateGoal(goal string) string {
	const maxLen = 120
	if len(goal) <= maxLen {
		return goal
	}
	return goal[:maxLen] + "..."
}
