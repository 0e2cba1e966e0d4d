package learning

import (
	"sort"

	"github.com/agentevolve/evocore/internal/store"
)

// CategoryCapProvider is an optional capability of a ConfigProvider: when
// present, ApplyAdaptation enforces a maximum number of simultaneously
// active adaptations per (agent type, adaptation type) pair.
type CategoryCapProvider interface {
	CategoryCapFor(agentType, category string) int
}

// ApplyAdaptation derives a new adaptation from patternID and persists it,
// enforcing the agent type's configured category cap first: when applying
// this adaptation would push the category over its cap, the oldest
// lowest-improvement active adaptation in that category is deactivated to
// make room.
func (e *Engine) ApplyAdaptation(patternID string, adaptType store.AdaptationType, agentID, taskType, skill string, before, after map[string]string) (*store.Adaptation, error) {
	capper, ok := e.config.(CategoryCapProvider)
	if ok {
		cap := capper.CategoryCapFor(agentID, string(adaptType))
		if cap > 0 {
			if err := e.enforceCategoryCap(agentID, adaptType, cap); err != nil {
				return nil, err
			}
		}
	}

	a := &store.Adaptation{
		PatternID:         patternID,
		Type:              adaptType,
		BeforeConfig:      before,
		AfterConfig:       after,
		AppliedToAgentID:  agentID,
		AppliedToTaskType: taskType,
		AppliedToSkill:    skill,
	}
	return e.store.RecordAdaptation(a)
}

// enforceCategoryCap deactivates active adaptations in excess of cap,
// oldest lowest-improvement first, so the new adaptation fits under it.
func (e *Engine) enforceCategoryCap(agentID string, adaptType store.AdaptationType, cap int) error {
	active, err := e.store.QueryAdaptations(store.AdaptationFilter{
		AgentID:    agentID,
		ActiveOnly: true,
	})
	if err != nil {
		return err
	}

	var inCategory []*store.Adaptation
	for _, a := range active {
		if a.Type == adaptType {
			inCategory = append(inCategory, a)
		}
	}
	if len(inCategory) < cap {
		return nil
	}

	sort.Slice(inCategory, func(i, j int) bool {
		if inCategory[i].AvgImprovement != inCategory[j].AvgImprovement {
			return inCategory[i].AvgImprovement < inCategory[j].AvgImprovement
		}
		return inCategory[i].AppliedAt.Before(inCategory[j].AppliedAt)
	})

	toDrop := len(inCategory) - cap + 1
	for i := 0; i < toDrop; i++ {
		if err := e.store.DeactivateAdaptation(inCategory[i].ID, "category cap exceeded"); err != nil {
			return err
		}
	}
	return nil
}
