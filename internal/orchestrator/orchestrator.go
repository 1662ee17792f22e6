// Package orchestrator drives a deep analysis run end to end: admission,
// stream consumption, timeline reduction, and terminal settlement.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deepdrill-ai/deepdrill/internal/billing"
	"github.com/deepdrill-ai/deepdrill/internal/cache"
	"github.com/deepdrill-ai/deepdrill/internal/engine"
	"github.com/deepdrill-ai/deepdrill/internal/gate"
	"github.com/deepdrill-ai/deepdrill/internal/report"
	"github.com/deepdrill-ai/deepdrill/internal/stream"
	"github.com/deepdrill-ai/deepdrill/internal/timeline"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

const statusCacheTTL = 30 * time.Minute

// DeniedError is returned when admission fails. RequiredCredits is populated
// only for credit denials, for display in the top-up prompt.
type DeniedError struct {
	Reason          string
	RequiredCredits int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("deep analysis not admitted: %s", e.Reason)
}

// Sink observes the live report after each applied event. The API layer uses
// it to re-stream progress to the UI; a nil sink is valid.
type Sink func(report *models.DeepAnalysisReport, ev stream.Event)

// Orchestrator owns the full lifecycle of deep analysis runs.
type Orchestrator struct {
	engine  engine.Client
	gate    *gate.Gate
	billing *billing.Reconciler
	reports *report.Service
	cache   cache.Cache
	now     func() time.Time
}

// New creates an Orchestrator.
func New(engineClient engine.Client, g *gate.Gate, b *billing.Reconciler, reports *report.Service, ca cache.Cache) *Orchestrator {
	return &Orchestrator{
		engine:  engineClient,
		gate:    g,
		billing: b,
		reports: reports,
		cache:   ca,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one deep analysis job for the user and blocks until the run is
// terminal. Cancelling ctx aborts the stream read; events already decoded
// from buffered data are still applied. The returned report is always
// non-nil once admission succeeds, even when the run failed.
func (o *Orchestrator) Run(ctx context.Context, user models.User, goal string, sink Sink) (*models.DeepAnalysisReport, error) {
	decision, err := o.gate.Check(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("admission check: %w", err)
	}
	if !decision.Allowed {
		return nil, &DeniedError{
			Reason:          decision.Reason,
			RequiredCredits: decision.RequiredCredits,
		}
	}

	rep := models.NewDeepAnalysisReport(uuid.New(), goal, o.now())
	o.setStatus(ctx, rep)
	slog.Info("deep analysis started", "report_id", rep.ID, "user_id", user.ID)

	body, err := o.engine.StartAnalysis(ctx, engine.StartRequest{
		Goal:      goal,
		UserID:    user.BillingIdentity(),
		SessionID: rep.ID.String(),
	})
	if err != nil {
		// Pre-flight failure: the run never entered the event loop.
		o.fail(rep, fmt.Sprintf("starting analysis: %v", err))
		o.finish(ctx, user, rep)
		return rep, fmt.Errorf("starting analysis stream: %w", err)
	}
	defer body.Close()

	o.consume(body, rep, sink)
	o.finish(ctx, user, rep)
	return rep, nil
}

// consume drains the event stream into the report until it ends. Transport
// errors mid-stream fail the run but preserve the partial step state as a
// record of how far it got.
func (o *Orchestrator) consume(body io.Reader, rep *models.DeepAnalysisReport, sink Sink) {
	dec := stream.NewDecoder(body)
	for {
		ev, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Error("analysis stream read failed", "error", err, "report_id", rep.ID)
				o.fail(rep, fmt.Sprintf("stream interrupted: %v", err))
			}
			break
		}
		if timeline.Apply(rep, ev, o.now()) && sink != nil {
			sink(rep, ev)
		}
	}

	if !rep.Terminal() {
		o.fail(rep, "stream ended before the run completed")
	}
}

// finish settles billing and persists the terminal report. Both are
// best-effort relative to the run itself and use a non-cancelable context so
// a client disconnect after completion cannot skip settlement.
func (o *Orchestrator) finish(ctx context.Context, user models.User, rep *models.DeepAnalysisReport) {
	finishCtx := context.WithoutCancel(ctx)

	if rep.Status == models.ReportStatusCompleted {
		o.billing.Settle(finishCtx, user, rep)
	}

	if _, err := o.reports.SaveTerminal(finishCtx, user.ID, rep); err != nil {
		slog.Error("persisting terminal report", "error", err, "report_id", rep.ID)
	}
	o.setStatus(finishCtx, rep)
	slog.Info("deep analysis finished",
		"report_id", rep.ID, "status", rep.Status, "progress", rep.Progress)
}

func (o *Orchestrator) fail(rep *models.DeepAnalysisReport, message string) {
	if rep.Terminal() {
		return
	}
	now := o.now()
	rep.Status = models.ReportStatusFailed
	rep.EndTime = &now
	if rep.Error == "" {
		rep.Error = message
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, rep *models.DeepAnalysisReport) {
	if err := o.cache.SetReportStatus(ctx, rep.ID, rep.Status, statusCacheTTL); err != nil {
		slog.Warn("caching report status", "error", err, "report_id", rep.ID)
	}
}
