// Package telemetry defines the engine's outbound event contract: a closed
// set of payload shapes, never an open bag, and the sinks that deliver them.
package telemetry

import "fmt"

// EventKind is the closed set of telemetry event types the engine emits.
type EventKind string

const (
	EventAgentExecution EventKind = "agent_execution"
	EventError          EventKind = "error"
	EventSkillFeedback  EventKind = "skill_feedback"
)

// ErrorCategory classifies a failure for the error event, never the raw
// message.
type ErrorCategory string

const (
	CategoryNetwork ErrorCategory = "network"
	CategoryTimeout ErrorCategory = "timeout"
	CategoryRuntime ErrorCategory = "runtime"
	CategoryUnknown ErrorCategory = "unknown"
)

// TelemetryEvent is the closed union of payloads the sinks accept. Exactly
// one of AgentExecution, Error, or SkillFeedback is populated, matching
// Kind. Use the constructors below rather than building this directly.
type TelemetryEvent struct {
	Kind           EventKind
	AgentExecution *AgentExecutionPayload
	Error          *ErrorPayload
	SkillFeedback  *SkillFeedbackPayload
}

// AgentExecutionPayload carries only aggregate outcome data, never payloads.
type AgentExecutionPayload struct {
	AgentType  string
	Success    bool
	DurationMs int64
	Cost       *float64
}

// ErrorPayload carries only the error's shape, never its sanitized message;
// the message itself lives on the span, not on telemetry.
type ErrorPayload struct {
	ErrorType      string
	ErrorCategory  ErrorCategory
	Component      string
	StackTraceHash string
}

// SkillFeedbackPayload is a 1-5 satisfaction rating with an optional note.
type SkillFeedbackPayload struct {
	Satisfaction int
	Comment      string
}

// NewAgentExecutionEvent builds an agent_execution event.
func NewAgentExecutionEvent(agentType string, success bool, durationMs int64, cost *float64) TelemetryEvent {
	return TelemetryEvent{
		Kind: EventAgentExecution,
		AgentExecution: &AgentExecutionPayload{
			AgentType: agentType, Success: success, DurationMs: durationMs, Cost: cost,
		},
	}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(errorType string, category ErrorCategory, component, stackTraceHash string) TelemetryEvent {
	return TelemetryEvent{
		Kind: EventError,
		Error: &ErrorPayload{
			ErrorType: errorType, ErrorCategory: category, Component: component, StackTraceHash: stackTraceHash,
		},
	}
}

// NewSkillFeedbackEvent builds a skill_feedback event. satisfaction must be
// in [1,5]; callers wanting the derived reward value use Value().
func NewSkillFeedbackEvent(satisfaction int, comment string) (TelemetryEvent, error) {
	if satisfaction < 1 || satisfaction > 5 {
		return TelemetryEvent{}, fmt.Errorf("satisfaction must be in [1,5], got %d", satisfaction)
	}
	return TelemetryEvent{
		Kind:          EventSkillFeedback,
		SkillFeedback: &SkillFeedbackPayload{Satisfaction: satisfaction, Comment: comment},
	}, nil
}

// Value converts a skill_feedback satisfaction rating to a reward value.
func (p *SkillFeedbackPayload) Value() float64 {
	return float64(p.Satisfaction) / 5.0
}

// Sink delivers telemetry events. Implementations never block indefinitely;
// Emit may return a delivery error, which callers treat as best-effort.
type Sink interface {
	Emit(event TelemetryEvent) error
}
