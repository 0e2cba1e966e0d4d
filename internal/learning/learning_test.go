package learning_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agentevolve/evocore/internal/learning"
	"github.com/agentevolve/evocore/internal/store"
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

type fakeMetrics struct {
	metrics []learning.Metric
}

func (f fakeMetrics) Metrics(agentID string) ([]learning.Metric, error) {
	return f.metrics, nil
}

func highSuccessMetrics(n int) []learning.Metric {
	out := make([]learning.Metric, 0, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		out = append(out, learning.Metric{
			ExecutionID:  "exec-" + string(rune('a'+i)),
			AgentID:      "agent-1",
			TaskType:     "coding",
			Success:      true,
			DurationMs:   200,
			Cost:         0.01,
			QualityScore: 0.9,
			Timestamp:    now.Add(-time.Duration(n-i) * time.Minute),
		})
	}
	return out
}

func TestExtractDerivesSuccessPatternFromHighQualityRun(t *testing.T) {
	st := openTestStore(t)
	cfg := learning.DefaultAgentConfig()
	cfg.MinObservations = 5
	views := fakeMetrics{metrics: highSuccessMetrics(12)}
	engine := learning.New(st, views, learning.StaticConfig(cfg))

	patterns, err := engine.Extract("agent-1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(patterns) == 0 {
		t.Fatalf("expected at least one pattern from a consistently high-quality run")
	}

	found := false
	for _, p := range patterns {
		if p.Type == store.PatternSuccess {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a success pattern among %v", patterns)
	}
}

func TestExtractProducesNoPatternsBelowMinObservations(t *testing.T) {
	st := openTestStore(t)
	cfg := learning.DefaultAgentConfig()
	views := fakeMetrics{metrics: highSuccessMetrics(3)}
	engine := learning.New(st, views, learning.StaticConfig(cfg))

	patterns, err := engine.Extract("agent-1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("expected no patterns below MinObservations, got %d", len(patterns))
	}
}

type staticCapProvider struct {
	cfg learning.AgentConfig
	cap int
}

func (s staticCapProvider) ConfigFor(string) learning.AgentConfig { return s.cfg }
func (s staticCapProvider) CategoryCapFor(agentType, category string) int { return s.cap }

func TestApplyAdaptationEnforcesCategoryCap(t *testing.T) {
	st := openTestStore(t)
	views := fakeMetrics{}
	provider := staticCapProvider{cfg: learning.DefaultAgentConfig(), cap: 1}
	engine := learning.New(st, views, provider)

	p, err := st.RecordPattern(&store.Pattern{Type: store.PatternOptimization, Confidence: 0.8})
	if err != nil {
		t.Fatalf("record pattern: %v", err)
	}

	first, err := engine.ApplyAdaptation(p.ID, store.AdaptConfig, "agent-1", "coding", "", nil, nil)
	if err != nil {
		t.Fatalf("apply first adaptation: %v", err)
	}
	if err := st.UpdateAdaptationOutcome(first.ID, true, 0.5); err != nil {
		t.Fatalf("update outcome: %v", err)
	}

	second, err := engine.ApplyAdaptation(p.ID, store.AdaptConfig, "agent-1", "coding", "", nil, nil)
	if err != nil {
		t.Fatalf("apply second adaptation: %v", err)
	}
	_ = second

	active, err := st.QueryAdaptations(store.AdaptationFilter{AgentID: "agent-1", ActiveOnly: true})
	if err != nil {
		t.Fatalf("query adaptations: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected the category cap to keep exactly 1 active adaptation, got %d", len(active))
	}

	got, err := st.GetAdaptation(first.ID)
	if err != nil {
		t.Fatalf("get first adaptation: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected the lower-improvement adaptation to have been deactivated")
	}
}
