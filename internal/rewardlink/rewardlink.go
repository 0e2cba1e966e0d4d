// Package rewardlink attaches delayed rewards to their originating
// operation spans.
package rewardlink

import (
	"strconv"
	"time"

	"github.com/agentevolve/evocore/internal/idgen"
	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/tracer"
)

// RewardInput is the caller-supplied shape for LinkReward.
type RewardInput struct {
	Value        float64
	Feedback     string
	Dimensions   map[string]float64
	ProvidedBy   string
	FeedbackType store.RewardFeedbackType
}

// Manager is the LinkManager.
type Manager struct {
	store   *store.Store
	tracker *tracer.Tracker
}

// New creates a Manager backed by st and tr.
func New(st *store.Store, tr *tracer.Tracker) *Manager {
	return &Manager{store: st, tracker: tr}
}

// LinkReward opens a short evolution.reward span linked to operationSpanID
// with link type reward_for_operation, ends it, and records the Reward row.
// The reward span is attached to operationSpanID's own task/execution via
// StartDetachedSpan rather than the Tracker's current one: rewards are
// delayed feedback and routinely arrive after the originating task has
// already reached a terminal state, so linking cannot depend on that task
// still being the Tracker's active one.
func (m *Manager) LinkReward(operationSpanID string, input RewardInput) (*store.Reward, error) {
	operation, err := m.store.GetSpan(operationSpanID)
	if err != nil {
		return nil, err
	}

	span := m.tracker.StartDetachedSpan(operation.TaskID, operation.ExecutionID, tracer.SpanOptions{
		Name: "evolution.reward",
		Links: []store.SpanLink{{
			SpanID:   operationSpanID,
			LinkType: "reward_for_operation",
		}},
	})
	span.SetAttribute("reward.value", strconv.FormatFloat(input.Value, 'f', -1, 64))
	if err := span.End(); err != nil {
		return nil, err
	}

	feedbackType := input.FeedbackType
	if feedbackType == "" {
		feedbackType = store.FeedbackAutomated
		if input.ProvidedBy != "" {
			feedbackType = store.FeedbackUser
		}
	}

	r := &store.Reward{
		ID:              idgen.New(),
		OperationSpanID: operationSpanID,
		Value:           input.Value,
		Dimensions:      input.Dimensions,
		Feedback:        input.Feedback,
		FeedbackType:    feedbackType,
		ProvidedBy:      input.ProvidedBy,
		ProvidedAt:      time.Now().UTC(),
	}

	return m.store.RecordReward(r)
}

// QueryRewardsForOperation returns every span linked to the target
// operation span.
func (m *Manager) QueryRewardsForOperation(spanID string) ([]*store.Span, error) {
	return m.store.QueryLinkedSpans(spanID)
}

// GetRewards returns the reward rows recorded against spanID.
func (m *Manager) GetRewards(spanID string) ([]*store.Reward, error) {
	return m.store.GetRewardsForSpan(spanID)
}
