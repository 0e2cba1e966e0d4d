package store_test

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/store/errs"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evocore.db")
	st, err := store.Open(path, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTaskExecutionSpanLifecycle(t *testing.T) {
	st := openTestStore(t)

	task, err := st.CreateTask("do the thing", "coding", "cli", nil)
	require.NoError(t, err)
	assert.Equal(t, store.TaskPending, task.Status)

	exec, err := st.CreateExecution(task.ID, "agent-1", "coder")
	require.NoError(t, err)
	assert.Equal(t, 1, exec.AttemptNumber)

	span := &store.Span{
		TraceID:     "trace-1",
		SpanID:      "span-1",
		TaskID:      task.ID,
		ExecutionID: exec.ID,
		Name:        "skill.invoke",
		Kind:        store.SpanInternal,
		StartTime:   time.Now().UTC(),
		Status:      store.SpanStatus{Code: store.StatusOK},
		Attributes:  map[string]string{"skill.name": "refactor"},
	}
	require.NoError(t, st.RecordSpan(span))

	err = st.UpdateExecutionResult(exec.ID, store.ExecCompleted, "done", "")
	require.NoError(t, err)

	got, err := st.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
}

func TestGetTaskNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetTask("missing")
	require.Error(t, err)
	assert.True(t, errs.Of(err) == errs.KindNotFound)
}

func TestSkillPerformanceCacheTracksInsertedSkillSpans(t *testing.T) {
	st := openTestStore(t)

	task, err := st.CreateTask("x", "coding", "cli", nil)
	require.NoError(t, err)
	exec, err := st.CreateExecution(task.ID, "agent-1", "coder")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		span := &store.Span{
			TraceID:     "trace-cache",
			SpanID:      fmt.Sprintf("span-cache-%d", i),
			TaskID:      task.ID,
			ExecutionID: exec.ID,
			Name:        "skill.invoke",
			Kind:        store.SpanInternal,
			StartTime:   time.Now().UTC(),
			Status:      store.SpanStatus{Code: store.StatusOK},
			Attributes:  map[string]string{"skill.name": "summarize"},
		}
		require.NoError(t, st.RecordSpan(span))
	}

	perf, err := st.GetSkillPerformance("summarize")
	require.NoError(t, err)
	assert.Equal(t, 3, perf.TotalUses)
	assert.InDelta(t, 1.0, perf.SuccessRate, 1e-9)
}

func TestPatternRecordAndObserve(t *testing.T) {
	st := openTestStore(t)

	p := &store.Pattern{
		Type:               store.PatternSuccess,
		Confidence:         0.75,
		AppliesToAgentType: "agent-1",
		AppliesToTaskType:  "coding",
		Complexity:         store.ComplexityMedium,
		RunningSuccessRate: 0.9,
		ObservationCount:   10,
		Data: store.PatternData{
			RecommendationType:  "change_model",
			RecommendationValue: "gpt-4o-mini",
		},
	}
	created, err := st.RecordPattern(p)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	require.NoError(t, st.UpdatePatternObservation(created.ID, true, 0.8))

	got, err := st.GetPattern(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, got.ObservationCount)
	assert.Equal(t, 0.8, got.Confidence)

	active, err := st.GetActivePatterns("agent-1", "coding", "")
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, st.DeactivatePattern(created.ID))
	active, err = st.GetActivePatterns("agent-1", "coding", "")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUpsertPatternReplacesFieldsOnConflictingID(t *testing.T) {
	st := openTestStore(t)

	p := &store.Pattern{
		ID:                 "bootstrap:agent-1:p1",
		Type:               store.PatternSuccess,
		Confidence:         0.8,
		AppliesToAgentType: "agent-1",
		AppliesToTaskType:  "coding",
		RunningSuccessRate: 0.9,
		ObservationCount:   20,
	}
	first, err := st.UpsertPattern(p)
	require.NoError(t, err)
	assert.Equal(t, "bootstrap:agent-1:p1", first.ID)

	unchanged, err := st.UpsertPattern(&store.Pattern{
		ID:                 "bootstrap:agent-1:p1",
		Type:               store.PatternSuccess,
		Confidence:         0.8,
		AppliesToAgentType: "agent-1",
		AppliesToTaskType:  "coding",
		RunningSuccessRate: 0.9,
		ObservationCount:   20,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Confidence, unchanged.Confidence)
	assert.Equal(t, first.FirstObserved, unchanged.FirstObserved)

	changed, err := st.UpsertPattern(&store.Pattern{
		ID:                 "bootstrap:agent-1:p1",
		Type:               store.PatternSuccess,
		Confidence:         0.95,
		AppliesToAgentType: "agent-1",
		AppliesToTaskType:  "coding",
		RunningSuccessRate: 0.9,
		ObservationCount:   20,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.95, changed.Confidence)
	assert.Equal(t, first.FirstObserved, changed.FirstObserved, "upsert must preserve first_observed across replacement")

	active, err := st.GetActivePatterns("agent-1", "coding", "")
	require.NoError(t, err)
	require.Len(t, active, 1, "upsert must not accumulate duplicate rows for the same id")
}

func TestAdaptationOutcomeRunningAverage(t *testing.T) {
	st := openTestStore(t)

	p, err := st.RecordPattern(&store.Pattern{Type: store.PatternOptimization, Confidence: 0.8})
	require.NoError(t, err)

	a, err := st.RecordAdaptation(&store.Adaptation{
		PatternID:        p.ID,
		Type:             store.AdaptConfig,
		AppliedToAgentID: "agent-1",
	})
	require.NoError(t, err)

	require.NoError(t, st.UpdateAdaptationOutcome(a.ID, true, 0.1))
	require.NoError(t, st.UpdateAdaptationOutcome(a.ID, false, 0.0))

	got, err := st.GetAdaptation(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.InDelta(t, 0.05, got.AvgImprovement, 1e-9)
}

func TestGetSkillRecommendationsCompositeRanking(t *testing.T) {
	st := openTestStore(t)

	task, err := st.CreateTask("x", "coding", "cli", nil)
	require.NoError(t, err)
	exec, err := st.CreateExecution(task.ID, "agent-1", "coder")
	require.NoError(t, err)

	// "refactor" gets 5 successful uses -> success_rate 1.0, >=3 uses.
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordSpan(&store.Span{
			TraceID: "t", SpanID: fmt.Sprintf("refactor-%d", i), TaskID: task.ID, ExecutionID: exec.ID,
			Name: "skill.invoke", Kind: store.SpanInternal, StartTime: time.Now().UTC(),
			Status: store.SpanStatus{Code: store.StatusOK}, Attributes: map[string]string{"skill.name": "refactor"},
		}))
	}
	// "rare" gets a single use but is backed by a matching active success pattern.
	require.NoError(t, st.RecordSpan(&store.Span{
		TraceID: "t", SpanID: "rare-1", TaskID: task.ID, ExecutionID: exec.ID,
		Name: "skill.invoke", Kind: store.SpanInternal, StartTime: time.Now().UTC(),
		Status: store.SpanStatus{Code: store.StatusOK}, Attributes: map[string]string{"skill.name": "rare"},
	}))
	_, err = st.RecordPattern(&store.Pattern{
		Type: store.PatternSuccess, Confidence: 0.9, IsActive: true,
		AppliesToTaskType: "coding", AppliesToSkill: "rare",
	})
	require.NoError(t, err)
	// "unused" gets a single use and no matching pattern: excluded entirely.
	require.NoError(t, st.RecordSpan(&store.Span{
		TraceID: "t", SpanID: "unused-1", TaskID: task.ID, ExecutionID: exec.ID,
		Name: "skill.invoke", Kind: store.SpanInternal, StartTime: time.Now().UTC(),
		Status: store.SpanStatus{Code: store.StatusOK}, Attributes: map[string]string{"skill.name": "unused"},
	}))

	recs, err := st.GetSkillRecommendations("coding", "", 10, store.DefaultSkillWeights())
	require.NoError(t, err)

	var skills []string
	for _, r := range recs {
		skills = append(skills, r.Skill)
	}
	assert.ElementsMatch(t, []string{"refactor", "rare"}, skills)
	// refactor: 0.5*1.0 + 0.3*0 + 0.2*min(5/10,1) = 0.6
	// rare:     0.5*1.0 + 0.3*0.9 + 0.2*min(1/10,1) = 0.79
	assert.Equal(t, "rare", recs[0].Skill)
	assert.InDelta(t, 0.79, recs[0].Score, 1e-9)
	assert.InDelta(t, 0.6, recs[1].Score, 1e-9)
}

func TestQueryPatternsSortAndRangeFilters(t *testing.T) {
	st := openTestStore(t)

	_, err := st.RecordPattern(&store.Pattern{Type: store.PatternSuccess, Confidence: 0.6, AppliesToAgentType: "agent-1"})
	require.NoError(t, err)
	_, err = st.RecordPattern(&store.Pattern{Type: store.PatternSuccess, Confidence: 0.9, AppliesToAgentType: "agent-1"})
	require.NoError(t, err)

	patterns, err := st.QueryPatterns(store.PatternFilter{
		AgentType: "agent-1", SortBy: "confidence", SortOrder: "DESC",
	})
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, 0.9, patterns[0].Confidence)
	assert.Equal(t, 0.6, patterns[1].Confidence)

	filtered, err := st.QueryPatterns(store.PatternFilter{AgentType: "agent-1", MinConfidence: 0.7})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, 0.9, filtered[0].Confidence)

	_, err = st.QueryPatterns(store.PatternFilter{SortBy: "not_a_column"})
	require.Error(t, err)
	assert.True(t, errs.Of(err) == errs.KindValidation)
}

func TestRewardValidationRejectsNonFinite(t *testing.T) {
	st := openTestStore(t)

	_, err := st.RecordReward(&store.Reward{
		OperationSpanID: "span-x",
		Value:           math.NaN(),
	})
	require.Error(t, err)
	assert.True(t, errs.Of(err) == errs.KindValidation)
}
