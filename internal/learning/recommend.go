package learning

import (
	"sort"

	"github.com/agentevolve/evocore/internal/store"
)

// Recommend returns active patterns for (agentType, taskType[, complexity])
// filtered by confidence ≥ the agent's MinConfidence, sorted by
// confidence·successRate descending.
func (e *Engine) Recommend(agentID, taskType string, complexity *store.Complexity) ([]*store.Pattern, error) {
	cfg := e.config.ConfigFor(agentID)

	patterns, err := e.store.GetActivePatterns(agentID, taskType, "")
	if err != nil {
		return nil, err
	}

	var out []*store.Pattern
	for _, p := range patterns {
		if p.Confidence < cfg.MinConfidence {
			continue
		}
		if complexity != nil && p.Complexity != *complexity {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Confidence*out[i].RunningSuccessRate > out[j].Confidence*out[j].RunningSuccessRate
	})
	return out, nil
}

// ObserveOutcome folds one more validated observation into an existing
// pattern: increments observationCount, recomputes successRate as a running
// proportion, and bumps confidence by 0.02 capped at 1.0.
func (e *Engine) ObserveOutcome(patternID string, success bool) error {
	p, err := e.store.GetPattern(patternID)
	if err != nil {
		return err
	}

	newConfidence := p.Confidence + 0.02
	if newConfidence > 1.0 {
		newConfidence = 1.0
	}

	if err := e.store.UpdatePatternObservation(patternID, success, newConfidence); err != nil {
		return err
	}
	return nil
}

// trim drops the lowest-confidence patterns for agentID once its active set
// exceeds maxPatterns, keeping the confidence-sorted prefix.
func (e *Engine) trim(agentID string, maxPatterns int) error {
	patterns, err := e.store.QueryPatterns(store.PatternFilter{AgentType: agentID, ActiveOnly: true})
	if err != nil {
		return err
	}
	if len(patterns) <= maxPatterns {
		return nil
	}

	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Confidence > patterns[j].Confidence })
	for _, p := range patterns[maxPatterns:] {
		if err := e.store.DeactivatePattern(p.ID); err != nil {
			return err
		}
	}
	return nil
}
