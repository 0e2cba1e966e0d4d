package tracer_test

import (
	"path/filepath"
	"testing"

	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/tracer"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evocore.db")
	st, err := store.Open(path, store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStartTaskRejectsSecondConcurrentTask(t *testing.T) {
	tr := tracer.New(openTestStore(t))

	if _, err := tr.StartTask("first", "coding", "cli", nil); err != nil {
		t.Fatalf("start first task: %v", err)
	}
	if _, err := tr.StartTask("second", "coding", "cli", nil); err == nil {
		t.Fatalf("expected starting a second concurrent task to fail")
	}
}

func TestStartSpanRequiresActiveTaskAndExecution(t *testing.T) {
	tr := tracer.New(openTestStore(t))

	if _, err := tr.StartSpan(tracer.SpanOptions{Name: "x"}); err == nil {
		t.Fatalf("expected StartSpan to fail with no active task/execution")
	}
}

func TestNestedSpansShareTraceID(t *testing.T) {
	tr := tracer.New(openTestStore(t))

	if _, err := tr.StartTask("t", "coding", "cli", nil); err != nil {
		t.Fatalf("start task: %v", err)
	}
	if _, err := tr.StartExecution("agent-1", "coder"); err != nil {
		t.Fatalf("start execution: %v", err)
	}

	parent, err := tr.StartSpan(tracer.SpanOptions{Name: "parent"})
	if err != nil {
		t.Fatalf("start parent span: %v", err)
	}
	child, err := tr.StartSpan(tracer.SpanOptions{Name: "child", ParentSpan: parent})
	if err != nil {
		t.Fatalf("start child span: %v", err)
	}

	if tr.ActiveCount() != 2 {
		t.Fatalf("expected 2 active spans, got %d", tr.ActiveCount())
	}

	child.SetStatus(store.StatusOK, "")
	child.End()
	parent.SetStatus(store.StatusOK, "")
	parent.End()

	if tr.ActiveCount() != 0 {
		t.Fatalf("expected all spans ended, got %d active", tr.ActiveCount())
	}
}

func TestEndTaskForceEndsActiveSpansAndClearsState(t *testing.T) {
	st := openTestStore(t)
	tr := tracer.New(st)

	if _, err := tr.StartTask("t", "coding", "cli", nil); err != nil {
		t.Fatalf("start task: %v", err)
	}
	if _, err := tr.StartExecution("agent-1", "coder"); err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if _, err := tr.StartSpan(tracer.SpanOptions{Name: "leaked"}); err != nil {
		t.Fatalf("start span: %v", err)
	}

	if err := tr.EndTask(store.TaskCompleted); err != nil {
		t.Fatalf("end task: %v", err)
	}
	if tr.ActiveCount() != 0 {
		t.Fatalf("expected EndTask to force-end all spans, got %d active", tr.ActiveCount())
	}

	if _, err := tr.StartExecution("agent-1", "coder"); err == nil {
		t.Fatalf("expected StartExecution to fail once the task is cleared")
	}
}

func TestEndDefaultsStatusToOKNeverLeavesUnset(t *testing.T) {
	st := openTestStore(t)
	tr := tracer.New(st)

	if _, err := tr.StartTask("t", "coding", "cli", nil); err != nil {
		t.Fatalf("start task: %v", err)
	}
	if _, err := tr.StartExecution("agent-1", "coder"); err != nil {
		t.Fatalf("start execution: %v", err)
	}
	span, err := tr.StartSpan(tracer.SpanOptions{Name: "untouched"})
	if err != nil {
		t.Fatalf("start span: %v", err)
	}
	spanID := span.SpanID()

	if err := span.End(); err != nil {
		t.Fatalf("end span: %v", err)
	}

	got, err := st.GetSpan(spanID)
	if err != nil {
		t.Fatalf("get span: %v", err)
	}
	if got.Status.Code == store.StatusUnset {
		t.Fatalf("expected End() to default status away from UNSET, got %q", got.Status.Code)
	}
	if got.DurationMs == nil || got.EndTime == nil {
		t.Fatalf("expected End() to stamp duration and end time")
	}
	if *got.DurationMs != got.EndTime.Sub(got.StartTime).Milliseconds() {
		t.Fatalf("duration_ms must equal end_time - start_time")
	}
}

func TestStartDetachedSpanWorksWithNoActiveTaskOrExecution(t *testing.T) {
	st := openTestStore(t)
	tr := tracer.New(st)

	if _, err := tr.StartTask("t", "coding", "cli", nil); err != nil {
		t.Fatalf("start task: %v", err)
	}
	if _, err := tr.StartExecution("agent-1", "coder"); err != nil {
		t.Fatalf("start execution: %v", err)
	}
	op, err := tr.StartSpan(tracer.SpanOptions{Name: "operation"})
	if err != nil {
		t.Fatalf("start span: %v", err)
	}
	sp, err := st.GetSpan(op.SpanID())
	if err == nil {
		t.Fatalf("expected operation span to not be persisted yet, got %v", sp)
	}
	if err := op.End(); err != nil {
		t.Fatalf("end op span: %v", err)
	}
	persisted, err := st.GetSpan(op.SpanID())
	if err != nil {
		t.Fatalf("get persisted operation span: %v", err)
	}
	if err := tr.EndExecution("done", ""); err != nil {
		t.Fatalf("end execution: %v", err)
	}
	if err := tr.EndTask(store.TaskCompleted); err != nil {
		t.Fatalf("end task: %v", err)
	}

	// No active task/execution at this point — StartDetachedSpan must still
	// succeed, unlike StartSpan, and must attach to the still-existing
	// task/execution rows (foreign keys are enforced) rather than the
	// Tracker's now-cleared current state.
	detached := tr.StartDetachedSpan(persisted.TaskID, persisted.ExecutionID, tracer.SpanOptions{Name: "evolution.reward"})
	if err := detached.End(); err != nil {
		t.Fatalf("end detached span: %v", err)
	}
	if tr.ActiveCount() != 0 {
		t.Fatalf("expected detached span to be removed from the active set after End, got %d", tr.ActiveCount())
	}
}

func TestEndTaskRejectsNonTerminalStatus(t *testing.T) {
	tr := tracer.New(openTestStore(t))

	if _, err := tr.StartTask("t", "coding", "cli", nil); err != nil {
		t.Fatalf("start task: %v", err)
	}
	if err := tr.EndTask(store.TaskPending); err == nil {
		t.Fatalf("expected EndTask to reject a non-terminal status")
	}
}
