// Package tracer is the in-process tracing root: it owns the single active
// task, the single active execution within it, and the active-span map, the
// way the teacher's memory package owns its in-flight conversation state.
package tracer

import (
	"log"
	"sync"
	"time"

	"github.com/agentevolve/evocore/internal/idgen"
	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/store/errs"
)

// Tracker is the SpanTracker. One Tracker owns at most one current task and
// one current execution at a time; endTask force-ends every active span and
// clears both.
type Tracker struct {
	mu sync.Mutex

	st *store.Store

	currentTask      *store.Task
	currentExecution *store.Execution
	active           map[string]*ActiveSpan
}

// New creates a Tracker backed by st.
func New(st *store.Store) *Tracker {
	return &Tracker{
		st:     st,
		active: make(map[string]*ActiveSpan),
	}
}

// StartTask creates and activates a task. Fails if another task is already
// active: a Tracker hosts one logical session at a time.
func (t *Tracker) StartTask(input, taskType, origin string, metadata map[string]string) (*store.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentTask != nil {
		return nil, errs.Statef("a task is already active (id=%s); end it before starting another", t.currentTask.ID)
	}

	task, err := t.st.CreateTask(input, taskType, origin, metadata)
	if err != nil {
		return nil, err
	}
	t.currentTask = task
	log.Printf("[TRACKER] started task %s", task.ID)
	return task, nil
}

// StartExecution requires an active task and records a new attempt.
func (t *Tracker) StartExecution(agentID, agentType string) (*store.Execution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentTask == nil {
		return nil, errs.Statef("startExecution called with no active task")
	}

	exec, err := t.st.CreateExecution(t.currentTask.ID, agentID, agentType)
	if err != nil {
		return nil, err
	}
	t.currentExecution = exec
	log.Printf("[TRACKER] started execution %s (attempt %d) for task %s", exec.ID, exec.AttemptNumber, t.currentTask.ID)
	return exec, nil
}

// SpanOptions configures StartSpan.
type SpanOptions struct {
	Name       string
	Kind       store.SpanKind
	Attributes map[string]string
	Tags       []string
	Links      []store.SpanLink
	ParentSpan *ActiveSpan
}

// StartSpan mints a span_id, inherits trace_id from ParentSpan when given,
// and returns a handle to mutate and eventually end it.
func (t *Tracker) StartSpan(opts SpanOptions) (*ActiveSpan, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentTask == nil || t.currentExecution == nil {
		return nil, errs.Statef("startSpan requires an active task and execution")
	}

	traceID := idgen.New()
	parentSpanID := ""
	if opts.ParentSpan != nil {
		traceID = opts.ParentSpan.span.TraceID
		parentSpanID = opts.ParentSpan.span.SpanID
	}

	kind := opts.Kind
	if kind == "" {
		kind = store.SpanInternal
	}

	attrs := make(map[string]string, len(opts.Attributes)+1)
	for k, v := range opts.Attributes {
		attrs[k] = v
	}
	attrs["task.id"] = t.currentTask.ID

	sp := &store.Span{
		TraceID:      traceID,
		SpanID:       idgen.New(),
		ParentSpanID: parentSpanID,
		TaskID:       t.currentTask.ID,
		ExecutionID:  t.currentExecution.ID,
		Name:         opts.Name,
		Kind:         kind,
		StartTime:    time.Now().UTC(),
		Status:       store.SpanStatus{Code: store.StatusUnset},
		Attributes:   attrs,
		Tags:         append([]string{}, opts.Tags...),
		Links:        append([]store.SpanLink{}, opts.Links...),
	}

	as := &ActiveSpan{tracker: t, span: sp}
	t.active[sp.SpanID] = as
	return as, nil
}

// StartDetachedSpan mints a span against an explicit task/execution rather
// than the Tracker's current one. Unlike StartSpan it never checks
// currentTask/currentExecution, so it can attach a span — e.g. a delayed
// reward's evolution.reward span — to a task/execution that has already
// reached a terminal state on this (or any other) Tracker instance.
func (t *Tracker) StartDetachedSpan(taskID, executionID string, opts SpanOptions) *ActiveSpan {
	t.mu.Lock()
	defer t.mu.Unlock()

	traceID := idgen.New()
	parentSpanID := ""
	if opts.ParentSpan != nil {
		traceID = opts.ParentSpan.span.TraceID
		parentSpanID = opts.ParentSpan.span.SpanID
	}

	kind := opts.Kind
	if kind == "" {
		kind = store.SpanInternal
	}

	attrs := make(map[string]string, len(opts.Attributes)+1)
	for k, v := range opts.Attributes {
		attrs[k] = v
	}
	attrs["task.id"] = taskID

	sp := &store.Span{
		TraceID:      traceID,
		SpanID:       idgen.New(),
		ParentSpanID: parentSpanID,
		TaskID:       taskID,
		ExecutionID:  executionID,
		Name:         opts.Name,
		Kind:         kind,
		StartTime:    time.Now().UTC(),
		Status:       store.SpanStatus{Code: store.StatusUnset},
		Attributes:   attrs,
		Tags:         append([]string{}, opts.Tags...),
		Links:        append([]store.SpanLink{}, opts.Links...),
	}

	as := &ActiveSpan{tracker: t, span: sp}
	t.active[sp.SpanID] = as
	return as
}

// endSpanLocked persists and removes a span from the active map. Callers
// must hold t.mu.
func (t *Tracker) endSpanLocked(as *ActiveSpan) error {
	delete(t.active, as.span.SpanID)
	return t.st.RecordSpan(as.span)
}

// EndExecution marks the active execution terminal and clears it.
func (t *Tracker) EndExecution(result, execErr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentExecution == nil {
		return errs.Statef("endExecution called with no active execution")
	}

	status := store.ExecCompleted
	if execErr != "" {
		status = store.ExecFailed
	}
	if err := t.st.UpdateExecutionResult(t.currentExecution.ID, status, result, execErr); err != nil {
		return err
	}
	log.Printf("[TRACKER] ended execution %s status=%s", t.currentExecution.ID, status)
	t.currentExecution = nil
	return nil
}

// TaskTerminalStatus is the set of statuses EndTask accepts.
type TaskTerminalStatus = store.TaskStatus

// EndTask force-ends every remaining active span, then transitions the task
// to a terminal state and clears both currentTask and currentExecution.
func (t *Tracker) EndTask(status TaskTerminalStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentTask == nil {
		return errs.Statef("endTask called with no active task")
	}
	if status != store.TaskCompleted && status != store.TaskFailed {
		return errs.Validationf("status", []string{string(store.TaskCompleted), string(store.TaskFailed)}, "invalid terminal status %q", status)
	}

	forced := len(t.active)
	for _, as := range t.active {
		as.forceEndLocked()
		if err := t.endSpanLocked(as); err != nil {
			log.Printf("[TRACKER] warning: failed to persist force-ended span %s: %v", as.span.SpanID, err)
		}
	}

	now := time.Now().UTC()
	if err := t.st.UpdateTask(t.currentTask.ID, store.TaskUpdate{
		Status: status, SetStatus: true,
		CompletedAt: &now, SetCompletedAt: true,
	}); err != nil {
		return err
	}

	log.Printf("[TRACKER] ended task %s status=%s (force-ended %d spans)", t.currentTask.ID, status, forced)
	t.currentTask = nil
	t.currentExecution = nil
	t.active = make(map[string]*ActiveSpan)
	return nil
}

// Cleanup idempotently resets the Tracker for reuse between logical
// sessions in a long-lived host. Active spans are dropped without being
// persisted: Cleanup is an emergency reset, not a graceful end.
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.currentTask = nil
	t.currentExecution = nil
	t.active = make(map[string]*ActiveSpan)
}

// ActiveCount reports the number of spans currently open, mainly for tests
// asserting the no-leak invariant after EndTask.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// ActiveSpan is a single-shot handle: a second End() is a no-op.
type ActiveSpan struct {
	tracker *Tracker
	span    *store.Span
	ended   bool
}

// SetStatus sets the span's terminal status code and message.
func (a *ActiveSpan) SetStatus(code store.StatusCode, message string) {
	a.span.Status = store.SpanStatus{Code: code, Message: message}
}

// SetAttribute sets a single attribute.
func (a *ActiveSpan) SetAttribute(key, value string) {
	if a.span.Attributes == nil {
		a.span.Attributes = make(map[string]string)
	}
	a.span.Attributes[key] = value
}

// SetAttributes merges attrs into the span's attribute set.
func (a *ActiveSpan) SetAttributes(attrs map[string]string) {
	for k, v := range attrs {
		a.SetAttribute(k, v)
	}
}

// AddTags appends tags.
func (a *ActiveSpan) AddTags(tags ...string) {
	a.span.Tags = append(a.span.Tags, tags...)
}

// AddEvent appends a timestamped annotation.
func (a *ActiveSpan) AddEvent(name string, attrs map[string]string) {
	a.span.Events = append(a.span.Events, store.SpanEvent{
		Name: name, Timestamp: time.Now().UTC(), Attributes: attrs,
	})
}

// AddLink appends a link to another span.
func (a *ActiveSpan) AddLink(link store.SpanLink) {
	a.span.Links = append(a.span.Links, link)
}

// SpanID returns the span's id, e.g. to build a SpanLink to it.
func (a *ActiveSpan) SpanID() string { return a.span.SpanID }

// TraceID returns the span's trace id.
func (a *ActiveSpan) TraceID() string { return a.span.TraceID }

// End computes duration, persists the span, and removes it from the active
// map. A second call is a no-op.
func (a *ActiveSpan) End() error {
	a.tracker.mu.Lock()
	defer a.tracker.mu.Unlock()

	if a.ended {
		return nil
	}
	a.ended = true

	now := time.Now().UTC()
	a.span.EndTime = &now
	d := now.Sub(a.span.StartTime).Milliseconds()
	a.span.DurationMs = &d
	if a.span.Status.Code == store.StatusUnset || a.span.Status.Code == "" {
		a.span.Status.Code = store.StatusOK
	}

	return a.tracker.endSpanLocked(a)
}

func (a *ActiveSpan) forceEndLocked() {
	if a.ended {
		return
	}
	a.ended = true
	now := time.Now().UTC()
	a.span.EndTime = &now
	d := now.Sub(a.span.StartTime).Milliseconds()
	a.span.DurationMs = &d
	if a.span.Status.Code == store.StatusUnset || a.span.Status.Code == "" {
		a.span.Status = store.SpanStatus{Code: store.StatusError, Message: "span force-ended by task termination"}
	}
}
