package telemetry_test

import (
	"testing"

	"github.com/agentevolve/evocore/internal/telemetry"
)

func TestLogSinkEmitNeverReturnsError(t *testing.T) {
	sink := telemetry.NewLogSink()

	cost := 0.5
	cases := []telemetry.TelemetryEvent{
		telemetry.NewAgentExecutionEvent("coder", true, 120, &cost),
		telemetry.NewErrorEvent("ValidationError", telemetry.CategoryRuntime, "evocore", "deadbeef"),
	}
	feedback, err := telemetry.NewSkillFeedbackEvent(4, "nice")
	if err != nil {
		t.Fatalf("new skill feedback event: %v", err)
	}
	cases = append(cases, feedback)

	for _, ev := range cases {
		if err := sink.Emit(ev); err != nil {
			t.Fatalf("log sink must never fail to emit, got: %v", err)
		}
	}
}

func TestNewSkillFeedbackEventRejectsOutOfRangeSatisfaction(t *testing.T) {
	if _, err := telemetry.NewSkillFeedbackEvent(0, ""); err == nil {
		t.Fatalf("expected satisfaction=0 to be rejected")
	}
	if _, err := telemetry.NewSkillFeedbackEvent(6, ""); err == nil {
		t.Fatalf("expected satisfaction=6 to be rejected")
	}
}

func TestSkillFeedbackPayloadValueDerivesFromSatisfaction(t *testing.T) {
	ev, err := telemetry.NewSkillFeedbackEvent(4, "")
	if err != nil {
		t.Fatalf("new skill feedback event: %v", err)
	}
	if got := ev.SkillFeedback.Value(); got != 0.8 {
		t.Fatalf("expected 4/5=0.8, got %v", got)
	}
}
