// Package feedback records corrective observations about an execution,
// distinct from numeric Reward but sharing its sanitization and storage
// path.
package feedback

import (
	"fmt"

	"github.com/agentevolve/evocore/internal/instrument"
	"github.com/agentevolve/evocore/internal/rewardlink"
	"github.com/agentevolve/evocore/internal/store"
)

// Kind mirrors store.RewardFeedbackType for the feedback-collector surface.
type Kind = store.RewardFeedbackType

const (
	KindUser      = store.FeedbackUser
	KindAutomated = store.FeedbackAutomated
	KindExpert    = store.FeedbackExpert
)

// Collector is the FeedbackCollector: a thin façade over LinkManager.
type Collector struct {
	links *rewardlink.Manager
}

// New creates a Collector over links.
func New(links *rewardlink.Manager) *Collector {
	return &Collector{links: links}
}

// RecordFeedback persists a reward-shaped row for spanID with feedback_type
// set from kind. text is sanitized through the same pipeline as the
// instrumentation wrapper before it is ever stored, so free-text feedback
// cannot leak secrets either.
func (c *Collector) RecordFeedback(spanID, text string, kind Kind) error {
	sanitized := instrument.Sanitize(text)

	_, err := c.links.LinkReward(spanID, rewardlink.RewardInput{
		Value:        0,
		Feedback:     sanitized,
		FeedbackType: kind,
	})
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	return nil
}

// RecordSkillFeedback derives value from satisfaction/5 per the
// skill_feedback telemetry contract and records it alongside the optional
// comment.
func (c *Collector) RecordSkillFeedback(spanID string, satisfaction int, comment string, kind Kind) error {
	if satisfaction < 1 || satisfaction > 5 {
		return fmt.Errorf("satisfaction must be in [1,5], got %d", satisfaction)
	}
	sanitized := instrument.Sanitize(comment)

	_, err := c.links.LinkReward(spanID, rewardlink.RewardInput{
		Value:        float64(satisfaction) / 5.0,
		Feedback:     sanitized,
		FeedbackType: kind,
	})
	if err != nil {
		return fmt.Errorf("record skill feedback: %w", err)
	}
	return nil
}
