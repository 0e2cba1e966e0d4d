package abtest_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/agentevolve/evocore/internal/abtest"
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

func TestAssignIsStableAndRespectsSplit(t *testing.T) {
	st := openTestStore(t)
	e := abtest.New(st)

	exp, err := e.Create("button color", []string{"control", "variant"}, []float64{0.5, 0.5}, "conversion", 30, 0.05)
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}

	variant, err := e.Assign(exp.ID, "user-42")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	again, err := e.Assign(exp.ID, "user-42")
	if err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if again != variant {
		t.Fatalf("expected idempotent assignment, got %s then %s", variant, again)
	}
}

func TestAssignDistributesAcrossVariants(t *testing.T) {
	st := openTestStore(t)
	e := abtest.New(st)

	exp, err := e.Create("split", []string{"a", "b"}, []float64{0.5, 0.5}, "conversion", 30, 0.05)
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		v, err := e.Assign(exp.ID, fmt.Sprintf("subject-%d", i))
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		seen[v]++
	}

	if seen["a"] == 0 || seen["b"] == 0 {
		t.Fatalf("expected both variants to be assigned, got %v", seen)
	}
}

func TestCreateRejectsMismatchedSplit(t *testing.T) {
	st := openTestStore(t)
	e := abtest.New(st)

	_, err := e.Create("bad", []string{"a", "b"}, []float64{0.5, 0.6}, "conversion", 30, 0.05)
	if err == nil {
		t.Fatalf("expected error for traffic split not summing to 1")
	}
}

func TestAnalyzeReportsInsufficientDataBelowMinSample(t *testing.T) {
	st := openTestStore(t)
	e := abtest.New(st)

	exp, err := e.Create("metric test", []string{"a", "b"}, []float64{0.5, 0.5}, "latency", 10, 0.05)
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}

	if err := e.RecordMetric(exp.ID, "a", "subj-1", 1.0, nil); err != nil {
		t.Fatalf("record metric: %v", err)
	}

	result, err := e.Analyze(exp.ID, "a", "b", 10, 0.05)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !result.InsufficientData {
		t.Fatalf("expected insufficient data with only one observation")
	}
}

func TestAnalyzeFindsSignificantDifference(t *testing.T) {
	st := openTestStore(t)
	e := abtest.New(st)

	exp, err := e.Create("big gap", []string{"a", "b"}, []float64{0.5, 0.5}, "latency", 5, 0.05)
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}

	for i := 0; i < 20; i++ {
		if err := e.RecordMetric(exp.ID, "a", fmt.Sprintf("a-%d", i), 100.0, nil); err != nil {
			t.Fatalf("record metric a: %v", err)
		}
		if err := e.RecordMetric(exp.ID, "b", fmt.Sprintf("b-%d", i), 10.0, nil); err != nil {
			t.Fatalf("record metric b: %v", err)
		}
	}

	result, err := e.Analyze(exp.ID, "a", "b", 5, 0.05)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.InsufficientData {
		t.Fatalf("expected enough data")
	}
	if !result.Significant {
		t.Fatalf("expected a clear gap (100 vs 10) to be significant, got p=%v", result.PValue)
	}
	if result.Winner != "a" {
		t.Fatalf("expected a to win on the higher mean, got %s", result.Winner)
	}
}
