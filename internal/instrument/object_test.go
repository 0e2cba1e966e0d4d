package instrument_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentevolve/evocore/internal/instrument"
	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/telemetry"
	"github.com/agentevolve/evocore/internal/tracer"
)

type coderResult struct {
	QualityScore float64
	Cost         float64
	DurationMs   int64
}

type coder struct{}

func (c *coder) Run(input string) (*coderResult, error) {
	if input == "fail" {
		return nil, errors.New("boom: password=hunter2")
	}
	return &coderResult{QualityScore: 0.9, Cost: 0.01, DurationMs: 42}, nil
}

func (c *coder) underscoreHelper() {}

func newObjectTestTracker(t *testing.T) *tracer.Tracker {
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

func TestObjectProxyCallExtractsResultAttributes(t *testing.T) {
	tr := newObjectTestTracker(t)
	proxy := instrument.WrapObject(instrument.ObjectConfig{Tracker: tr, AgentID: "agent-1", AgentType: "coder"}, &coder{})

	if !proxy.Callable("Run") {
		t.Fatalf("expected Run to be callable")
	}

	results, err := proxy.Call("Run", "go")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	res, ok := results[0].(*coderResult)
	if !ok || res.QualityScore != 0.9 {
		t.Fatalf("expected coderResult with quality_score 0.9, got %v", results[0])
	}
}

func TestObjectProxyCallSanitizesErrorAndEmitsTelemetry(t *testing.T) {
	tr := newObjectTestTracker(t)
	sink := &recordingSink{}
	proxy := instrument.WrapObject(instrument.ObjectConfig{Tracker: tr, AgentID: "agent-1", AgentType: "coder", TelemetrySink: sink}, &coder{})

	_, err := proxy.Call("Run", "fail")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if len(sink.events) != 1 || sink.events[0].Kind != telemetry.EventError {
		t.Fatalf("expected one error event, got %v", sink.events)
	}
}

func TestObjectProxyRejectsUnderscoreAndConstructorMethods(t *testing.T) {
	tr := newObjectTestTracker(t)
	proxy := instrument.WrapObject(instrument.ObjectConfig{Tracker: tr, AgentID: "agent-1", AgentType: "coder"}, &coder{})

	if proxy.Callable("underscoreHelper") {
		t.Fatalf("expected unexported method to be non-callable")
	}
	if proxy.Callable("NewCoder") {
		t.Fatalf("expected constructor-shaped method name to be non-callable")
	}
	if proxy.Callable("DoesNotExist") {
		t.Fatalf("expected missing method to be non-callable")
	}
}
