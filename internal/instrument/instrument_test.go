package instrument_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentevolve/evocore/internal/instrument"
	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/telemetry"
	"github.com/agentevolve/evocore/internal/tracer"
)

type recordingSink struct {
	events []telemetry.TelemetryEvent
}

func (s *recordingSink) Emit(e telemetry.TelemetryEvent) error {
	s.events = append(s.events, e)
	return nil
}

func newTestTracker(t *testing.T) *tracer.Tracker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evocore.db")
	st, err := store.Open(path, store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tr := tracer.New(st)
	if _, err := tr.StartTask("do it", "coding", "cli", nil); err != nil {
		t.Fatalf("start task: %v", err)
	}
	if _, err := tr.StartExecution("agent-1", "coder"); err != nil {
		t.Fatalf("start execution: %v", err)
	}
	return tr
}

func TestWrapRecordsSuccessAndEmitsTelemetry(t *testing.T) {
	tr := newTestTracker(t)
	sink := &recordingSink{}
	cfg := instrument.Config{Tracker: tr, SampleRate: 1.0, TelemetrySink: sink, Component: "test"}

	result, err := instrument.Wrap[string](context.Background(), cfg, "do_thing", nil, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected result ok, got %q", result)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != telemetry.EventAgentExecution {
		t.Fatalf("expected one agent_execution event, got %v", sink.events)
	}
}

func TestWrapEmitsMeasuredDurationOnSuccess(t *testing.T) {
	tr := newTestTracker(t)
	sink := &recordingSink{}
	cfg := instrument.Config{Tracker: tr, SampleRate: 1.0, TelemetrySink: sink, Component: "test"}

	_, err := instrument.Wrap[string](context.Background(), cfg, "slow_thing", nil, func(ctx context.Context) (string, error) {
		time.Sleep(15 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].AgentExecution == nil {
		t.Fatalf("expected one agent_execution event, got %v", sink.events)
	}
	if sink.events[0].AgentExecution.DurationMs <= 0 {
		t.Fatalf("expected a positive measured duration_ms, got %d", sink.events[0].AgentExecution.DurationMs)
	}
}

func TestWrapRecoversPanicAsError(t *testing.T) {
	tr := newTestTracker(t)
	cfg := instrument.Config{Tracker: tr, SampleRate: 1.0}

	_, err := instrument.Wrap[string](context.Background(), cfg, "explodes", nil, func(ctx context.Context) (string, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
}

func TestWrapSanitizesErrorMessageInTelemetryPath(t *testing.T) {
	tr := newTestTracker(t)
	sink := &recordingSink{}
	cfg := instrument.Config{Tracker: tr, SampleRate: 1.0, TelemetrySink: sink, Component: "test"}

	_, err := instrument.Wrap[string](context.Background(), cfg, "fails", nil, func(ctx context.Context) (string, error) {
		return "", errors.New("connection failed: password=hunter2")
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if len(sink.events) != 1 || sink.events[0].Kind != telemetry.EventError {
		t.Fatalf("expected one error event, got %v", sink.events)
	}
}

func TestSanitizeRedactsSecrets(t *testing.T) {
	out := instrument.Sanitize("token leaked: sk-abcdefghijklmnopqrstuvwxyz password=hunter2")
	if out == "token leaked: sk-abcdefghijklmnopqrstuvwxyz password=hunter2" {
		t.Fatalf("expected redaction to modify the message")
	}
	if containsRaw(out, "hunter2") || containsRaw(out, "sk-abcdefghijklmnopqrstuvwxyz") {
		t.Fatalf("expected secrets to be redacted, got %q", out)
	}
}

func containsRaw(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
