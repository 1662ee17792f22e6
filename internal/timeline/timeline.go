// Package timeline reduces decoded stream events into a consistent, ordered
// view of a deep analysis run. Apply is a pure function over the report state,
// so the full protocol behavior is unit-testable without any transport.
package timeline

import (
	"time"

	"github.com/deepdrill-ai/deepdrill/internal/stream"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// stepIndex maps step names to their position in the fixed stage order.
var stepIndex = func() map[string]int {
	m := make(map[string]int, len(models.StepOrder))
	for i, name := range models.StepOrder {
		m[name] = i
	}
	return m
}()

// Apply folds one event into the report and returns whether the event changed
// anything. Events arriving after the report is terminal are ignored, as are
// unknown-shaped events. Reapplying an event never corrupts state.
func Apply(report *models.DeepAnalysisReport, ev stream.Event, now time.Time) bool {
	if report.Terminal() {
		return false
	}

	switch ev.Kind {
	case stream.KindStepUpdate:
		return applyStepUpdate(report, ev, now)
	case stream.KindFinalResult:
		complete(report, ev.Result, now)
		return true
	case stream.KindError:
		report.Status = models.ReportStatusFailed
		report.EndTime = &now
		if ev.Message != "" {
			report.Error = ev.Message
		}
		// No terminal sweep: partial step state is the record of how far the
		// run got before it failed.
		return true
	default:
		return false
	}
}

func applyStepUpdate(report *models.DeepAnalysisReport, ev stream.Event, now time.Time) bool {
	idx, ok := stepIndex[ev.Step]
	if !ok {
		return false
	}

	// The engine does not reliably emit a completion event for every stage
	// before moving on. Seeing work start on a later stage implies everything
	// before it finished, so pending earlier steps are caught up to completed.
	if ev.Status == models.StepStatusStarting || ev.Status == models.StepStatusProcessing {
		for i := 0; i < idx; i++ {
			if report.Steps[i].Status == models.StepStatusPending {
				report.Steps[i].Status = models.StepStatusCompleted
				ts := now
				report.Steps[i].Timestamp = &ts
			}
		}
	}

	if ev.Step == models.StepCompleted && isCompletedStatus(ev.Status) {
		complete(report, ev.Result, now)
		return true
	}

	step := &report.Steps[idx]
	status := ev.Status
	if status == models.StepStatusSuccess {
		status = models.StepStatusCompleted
	}
	// Never regress a finished step back to an active or pending status.
	if step.Status == models.StepStatusCompleted && status != models.StepStatusCompleted && status != models.StepStatusFailed {
		status = step.Status
	} else {
		ts := now
		step.Timestamp = &ts
	}
	step.Status = status
	if ev.Message != "" {
		step.Message = ev.Message
	}
	if ev.Content != "" {
		step.Content = ev.Content
	}
	if ev.Progress != nil {
		p := *ev.Progress
		step.Progress = &p
	}

	// Overall progress is last-write-wins; the protocol allows it to move
	// backwards and the source does not clamp it.
	if ev.Progress != nil {
		report.Progress = *ev.Progress
	}
	return true
}

// complete runs the terminal sweep: every remaining step is forced to
// completed, the job goes terminal, and the result payload is captured.
func complete(report *models.DeepAnalysisReport, result models.AnalysisResult, now time.Time) {
	for i := range report.Steps {
		if report.Steps[i].Status != models.StepStatusCompleted {
			report.Steps[i].Status = models.StepStatusCompleted
			ts := now
			report.Steps[i].Timestamp = &ts
		}
	}
	report.Status = models.ReportStatusCompleted
	report.EndTime = &now
	report.Progress = 100
	if !result.Empty() {
		report.Result = result
	}
}

func isCompletedStatus(status string) bool {
	return status == models.StepStatusCompleted || status == models.StepStatusSuccess
}
