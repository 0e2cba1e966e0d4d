package rewardlink_test

import (
	"path/filepath"
	"testing"

	"github.com/agentevolve/evocore/internal/rewardlink"
	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/tracer"
)

func newTrackerWithActiveSpan(t *testing.T) (*store.Store, *tracer.Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evocore.db")
	st, err := store.Open(path, store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

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
	opID := op.SpanID()
	if err := op.End(); err != nil {
		t.Fatalf("end span: %v", err)
	}
	return st, tr, opID
}

func TestLinkRewardAttachesRewardAndLinkedSpan(t *testing.T) {
	st, tr, opID := newTrackerWithActiveSpan(t)
	mgr := rewardlink.New(st, tr)

	reward, err := mgr.LinkReward(opID, rewardlink.RewardInput{
		Value:      0.8,
		Feedback:   "nice work",
		ProvidedBy: "reviewer-1",
	})
	if err != nil {
		t.Fatalf("link reward: %v", err)
	}
	if reward.OperationSpanID != opID {
		t.Fatalf("expected reward linked to %s, got %s", opID, reward.OperationSpanID)
	}
	if reward.FeedbackType != store.FeedbackUser {
		t.Fatalf("expected FeedbackUser when ProvidedBy is set, got %s", reward.FeedbackType)
	}

	linked, err := mgr.QueryRewardsForOperation(opID)
	if err != nil {
		t.Fatalf("query linked spans: %v", err)
	}
	if len(linked) != 1 || linked[0].Name != "evolution.reward" {
		t.Fatalf("expected one evolution.reward span linked to the operation, got %v", linked)
	}

	rewards, err := mgr.GetRewards(opID)
	if err != nil {
		t.Fatalf("get rewards: %v", err)
	}
	if len(rewards) != 1 || rewards[0].Value != 0.8 {
		t.Fatalf("expected one reward with value 0.8, got %v", rewards)
	}
}

func TestLinkRewardAfterTaskEnded(t *testing.T) {
	st, tr, opID := newTrackerWithActiveSpan(t)
	op, err := st.GetSpan(opID)
	if err != nil {
		t.Fatalf("get operation span: %v", err)
	}

	if err := tr.EndExecution("done", ""); err != nil {
		t.Fatalf("end execution: %v", err)
	}
	if err := tr.EndTask(store.TaskCompleted); err != nil {
		t.Fatalf("end task: %v", err)
	}

	mgr := rewardlink.New(st, tr)
	reward, err := mgr.LinkReward(opID, rewardlink.RewardInput{Value: 0.9, ProvidedBy: "reviewer-1"})
	if err != nil {
		t.Fatalf("link reward after task completion: %v", err)
	}
	if reward.OperationSpanID != opID {
		t.Fatalf("expected reward linked to %s, got %s", opID, reward.OperationSpanID)
	}

	linked, err := mgr.QueryRewardsForOperation(opID)
	if err != nil {
		t.Fatalf("query linked spans: %v", err)
	}
	if len(linked) != 1 || linked[0].Name != "evolution.reward" {
		t.Fatalf("expected one evolution.reward span linked to the operation, got %v", linked)
	}
	// The reward span must attach to the original operation's task/execution,
	// not whatever is (or isn't) currently active on the shared Tracker.
	if linked[0].TaskID != op.TaskID || linked[0].ExecutionID != op.ExecutionID {
		t.Fatalf("expected reward span on task=%s execution=%s, got task=%s execution=%s",
			op.TaskID, op.ExecutionID, linked[0].TaskID, linked[0].ExecutionID)
	}

	// A second, unrelated task becoming active afterward on the same
	// Tracker must not disturb the already-recorded reward.
	if _, err := tr.StartTask("t2", "coding", "cli", nil); err != nil {
		t.Fatalf("start second task: %v", err)
	}
}

func TestLinkRewardDefaultsToAutomatedFeedbackType(t *testing.T) {
	st, tr, opID := newTrackerWithActiveSpan(t)
	mgr := rewardlink.New(st, tr)

	reward, err := mgr.LinkReward(opID, rewardlink.RewardInput{Value: 0.5})
	if err != nil {
		t.Fatalf("link reward: %v", err)
	}
	if reward.FeedbackType != store.FeedbackAutomated {
		t.Fatalf("expected FeedbackAutomated by default, got %s", reward.FeedbackType)
	}
}
