// Package models contains shared data models used across the DeepDrill codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Step identifiers, in fixed pipeline order. The engine walks these stages in
// sequence; the timeline never removes or reorders them.
const (
	StepInitialization = "initialization"
	StepQuestions      = "questions"
	StepPlanning       = "planning"
	StepAnalysis       = "analysis"
	StepReport         = "report"
	StepCompleted      = "completed"
)

// StepOrder is the canonical stage sequence for a deep analysis run.
var StepOrder = []string{
	StepInitialization,
	StepQuestions,
	StepPlanning,
	StepAnalysis,
	StepReport,
	StepCompleted,
}

// Step-level statuses. The engine uses "success" and "completed"
// interchangeably; consumers must treat them as synonyms.
const (
	StepStatusPending    = "pending"
	StepStatusStarting   = "starting"
	StepStatusProcessing = "processing"
	StepStatusCompleted  = "completed"
	StepStatusFailed     = "failed"
	StepStatusSuccess    = "success"
)

// Job-level report statuses.
const (
	ReportStatusRunning   = "running"
	ReportStatusCompleted = "completed"
	ReportStatusFailed    = "failed"
)

// AnalysisStep is one stage of the deep analysis pipeline as observed from the
// engine's event stream.
type AnalysisStep struct {
	Step      string     `json:"step"`
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	Content   string     `json:"content,omitempty"`
	Progress  *int       `json:"progress,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// AnalysisResult holds the payload delivered by the engine's terminal event.
// All fields are empty until the run completes.
type AnalysisResult struct {
	DeepQuestions   string   `json:"deep_questions,omitempty"`
	DeepPlan        string   `json:"deep_plan,omitempty"`
	Summaries       []string `json:"summaries,omitempty"`
	Code            string   `json:"code,omitempty"`
	PlotlyFigs      []any    `json:"plotly_figs,omitempty"`
	Synthesis       []string `json:"synthesis,omitempty"`
	FinalConclusion string   `json:"final_conclusion,omitempty"`
	HTMLReport      string   `json:"html_report,omitempty"`
}

// Empty reports whether no result field has been populated.
func (r AnalysisResult) Empty() bool {
	return r.DeepQuestions == "" && r.DeepPlan == "" && len(r.Summaries) == 0 &&
		r.Code == "" && len(r.PlotlyFigs) == 0 && len(r.Synthesis) == 0 &&
		r.FinalConclusion == "" && r.HTMLReport == ""
}

// DeepAnalysisReport is the live state of an in-progress or just-finished run.
// It is exclusively owned by the orchestrator while running; once terminal it
// is converted to a StoredReport for persistence.
type DeepAnalysisReport struct {
	ID        uuid.UUID      `json:"id"`
	Goal      string         `json:"goal"`
	Status    string         `json:"status"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Steps     []AnalysisStep `json:"steps"`
	Progress  int            `json:"progress"`
	Error     string         `json:"error,omitempty"`
	Result    AnalysisResult `json:"result"`
}

// NewDeepAnalysisReport creates a running report with all steps pending.
func NewDeepAnalysisReport(id uuid.UUID, goal string, start time.Time) *DeepAnalysisReport {
	steps := make([]AnalysisStep, len(StepOrder))
	for i, name := range StepOrder {
		steps[i] = AnalysisStep{Step: name, Status: StepStatusPending}
	}
	return &DeepAnalysisReport{
		ID:        id,
		Goal:      goal,
		Status:    ReportStatusRunning,
		StartTime: start,
		Steps:     steps,
	}
}

// Terminal reports whether the run has reached a final state.
func (r *DeepAnalysisReport) Terminal() bool {
	return r.Status == ReportStatusCompleted || r.Status == ReportStatusFailed
}

// StoredReport is the durable record of a finished run. Summary rows omit the
// result payload; HasDetail distinguishes a hydrated record from a bare
// summary so callers can skip redundant fetches.
type StoredReport struct {
	ID        uuid.UUID      `db:"id"         json:"id"`
	UserID    uuid.UUID      `db:"user_id"    json:"user_id"`
	Goal      string         `db:"goal"       json:"goal"`
	Status    string         `db:"status"     json:"status"`
	Summary   string         `db:"summary"    json:"summary"`
	StartTime time.Time      `db:"start_time" json:"start_time"`
	EndTime   *time.Time     `db:"end_time"   json:"end_time,omitempty"`
	HasDetail bool           `db:"-"          json:"has_detail"`
	Result    AnalysisResult `db:"result"     json:"result"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
