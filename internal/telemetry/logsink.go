package telemetry

import (
	"log"
	"strconv"
)

// LogSink is the default sink when no transport is configured: it writes
// one diagnostic line per event, the same fan-out-of-last-resort role the
// teacher's fmt.Printf diagnostics play before a NATS connection exists.
type LogSink struct{}

// NewLogSink returns a LogSink.
func NewLogSink() *LogSink { return &LogSink{} }

// Emit logs event, never returning an error: a log sink cannot fail to
// deliver in any way the caller should react to.
func (s *LogSink) Emit(event TelemetryEvent) error {
	switch event.Kind {
	case EventAgentExecution:
		p := event.AgentExecution
		cost := "none"
		if p.Cost != nil {
			cost = strconv.FormatFloat(*p.Cost, 'f', -1, 64)
		}
		log.Printf("[TELEMETRY] agent_execution agent_type=%s success=%v duration_ms=%d cost=%s",
			p.AgentType, p.Success, p.DurationMs, cost)
	case EventError:
		p := event.Error
		log.Printf("[TELEMETRY] error error_type=%s category=%s component=%s stack_hash=%s",
			p.ErrorType, p.ErrorCategory, p.Component, p.StackTraceHash)
	case EventSkillFeedback:
		p := event.SkillFeedback
		log.Printf("[TELEMETRY] skill_feedback satisfaction=%d comment=%q", p.Satisfaction, p.Comment)
	default:
		log.Printf("[TELEMETRY] unknown event kind %q", event.Kind)
	}
	return nil
}
