package stream

import (
	"encoding/json"
	"strings"

	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// Event kinds. Every decoded line resolves to exactly one of these; lines
// that match no known shape become KindUnknown rather than silently matching
// the wrong branch.
const (
	KindStepUpdate  = "step_update"
	KindFinalResult = "final_result"
	KindError       = "error"
	KindUnknown     = "unknown"
)

// Event is one decoded record from the engine's NDJSON stream.
type Event struct {
	Kind     string
	Step     string
	Status   string
	Message  string
	Content  string
	Progress *int
	Result   models.AnalysisResult
	Raw      json.RawMessage
}

// wireEvent covers every framing the engine emits. The protocol is not
// uniform: step updates arrive with or without a type wrapper, terminal
// payload fields arrive either nested under "analysis" or at top level, and
// errors arrive as {type:"error"} or as a bare {error:...} object.
type wireEvent struct {
	Type     string          `json:"type"`
	Step     string          `json:"step"`
	Status   string          `json:"status"`
	Message  string          `json:"message"`
	Content  string          `json:"content"`
	Progress *int            `json:"progress"`
	Error    json.RawMessage `json:"error"`
	Analysis *wireResult     `json:"analysis"`
	wireResult
}

type wireResult struct {
	DeepQuestions   string   `json:"deep_questions"`
	DeepPlan        string   `json:"deep_plan"`
	Summaries       []string `json:"summaries"`
	Code            string   `json:"code"`
	PlotlyFigs      []any    `json:"plotly_figs"`
	Synthesis       []string `json:"synthesis"`
	FinalConclusion string   `json:"final_conclusion"`
	HTMLReport      string   `json:"html_report"`
}

// ParseEvent decodes one complete JSON line into a typed Event. A nil error
// with Kind == KindUnknown means the line was valid JSON but matched no known
// shape; the caller logs and moves on.
func ParseEvent(line []byte) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(line, &we); err != nil {
		return Event{}, err
	}

	ev := Event{
		Step:     we.Step,
		Status:   we.Status,
		Message:  we.Message,
		Content:  we.Content,
		Progress: we.Progress,
		Raw:      json.RawMessage(line),
	}

	switch {
	case we.Type == "error" || len(we.Error) > 0:
		ev.Kind = KindError
		if ev.Message == "" {
			ev.Message = errorText(we.Error)
		}
	case we.Type == "final_result":
		ev.Kind = KindFinalResult
		ev.Result = we.result()
	case we.Type == "step_update" || (we.Type == "" && we.Step != ""):
		ev.Kind = KindStepUpdate
		ev.Result = we.result()
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}

// result merges the nested analysis object over the top-level payload fields,
// first non-empty value wins per field.
func (we wireEvent) result() models.AnalysisResult {
	out := models.AnalysisResult{
		DeepQuestions:   we.DeepQuestions,
		DeepPlan:        we.DeepPlan,
		Summaries:       we.Summaries,
		Code:            we.Code,
		PlotlyFigs:      we.PlotlyFigs,
		Synthesis:       we.Synthesis,
		FinalConclusion: we.FinalConclusion,
		HTMLReport:      we.HTMLReport,
	}
	if we.Analysis == nil {
		return out
	}
	a := we.Analysis
	if a.DeepQuestions != "" {
		out.DeepQuestions = a.DeepQuestions
	}
	if a.DeepPlan != "" {
		out.DeepPlan = a.DeepPlan
	}
	if len(a.Summaries) > 0 {
		out.Summaries = a.Summaries
	}
	if a.Code != "" {
		out.Code = a.Code
	}
	if len(a.PlotlyFigs) > 0 {
		out.PlotlyFigs = a.PlotlyFigs
	}
	if len(a.Synthesis) > 0 {
		out.Synthesis = a.Synthesis
	}
	if a.FinalConclusion != "" {
		out.FinalConclusion = a.FinalConclusion
	}
	if a.HTMLReport != "" {
		out.HTMLReport = a.HTMLReport
	}
	return out
}

// errorText extracts a human-readable message from the "error" field, which
// may be a string, an object, or anything else the engine felt like sending.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Detail != "" {
			return obj.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
