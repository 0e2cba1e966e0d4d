package store_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/store/errs"
)

func seedSpan(t *testing.T, st *store.Store, name string, start time.Time) {
	t.Helper()
	task, err := st.CreateTask("do the thing", "coding", "cli", nil)
	require.NoError(t, err)
	exec, err := st.CreateExecution(task.ID, "agent-1", "coder")
	require.NoError(t, err)

	require.NoError(t, st.RecordSpan(&store.Span{
		TraceID:     "trace-" + name,
		SpanID:      "span-" + name,
		TaskID:      task.ID,
		ExecutionID: exec.ID,
		Name:        name,
		Kind:        store.SpanInternal,
		StartTime:   start,
		Status:      store.SpanStatus{Code: store.StatusOK},
	}))
}

func TestQuerySpansRejectsUnknownSortColumnAndOrder(t *testing.T) {
	st := openTestStore(t)
	seedSpan(t, st, "skill.invoke", time.Now().UTC())

	_, err := st.Query(store.SpanQueryFilter{SortBy: "; DROP TABLE spans"})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.Of(err))

	_, err = st.Query(store.SpanQueryFilter{SortOrder: "sideways"})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.Of(err))

	spans, err := st.Query(store.SpanQueryFilter{SortBy: "name", SortOrder: "desc"})
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func TestRecordSpanBatchRejectsOversizeBatchAndWritesNothing(t *testing.T) {
	st := openTestStore(t)
	task, err := st.CreateTask("do the thing", "coding", "cli", nil)
	require.NoError(t, err)
	exec, err := st.CreateExecution(task.ID, "agent-1", "coder")
	require.NoError(t, err)

	spans := make([]*store.Span, store.MaxBatchSpans+1)
	for i := range spans {
		spans[i] = &store.Span{
			TraceID:     "trace",
			SpanID:      fmt.Sprintf("span-%d", i),
			TaskID:      task.ID,
			ExecutionID: exec.ID,
			Name:        "op",
			Kind:        store.SpanInternal,
			StartTime:   time.Now().UTC(),
			Status:      store.SpanStatus{Code: store.StatusOK},
		}
	}

	err = st.RecordSpanBatch(spans)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.Of(err))

	got, err := st.QuerySpansByTrace("trace")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQuerySpansNameContainsIsEscapedAndSubstringMatched(t *testing.T) {
	st := openTestStore(t)
	seedSpan(t, st, "skill.invoke", time.Now().UTC())
	seedSpan(t, st, "skill_invoke_literal", time.Now().UTC())
	seedSpan(t, st, "other.op", time.Now().UTC())

	spans, err := st.Query(store.SpanQueryFilter{NameContains: "skill."})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "skill.invoke", spans[0].Name)

	spans, err = st.Query(store.SpanQueryFilter{NameContains: "skill_"})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "skill_invoke_literal", spans[0].Name)
}
