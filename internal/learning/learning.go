// Package learning derives typed patterns from historical execution
// metrics per agent, bounded in size, with calibrated confidence.
package learning

import (
	"log"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/agentevolve/evocore/internal/store"
)

// Metric is one observed execution outcome fed into extraction.
type Metric struct {
	ExecutionID      string
	AgentID          string
	TaskType         string
	Success          bool
	DurationMs       float64
	Cost             float64
	QualityScore     float64
	UserSatisfaction *float64
	Timestamp        time.Time
	Metadata         map[string]string
}

// MetricsView is the learning engine's only dependency: a read path over
// historical metrics, satisfied in production by a thin query over
// execution_metrics.
type MetricsView interface {
	Metrics(agentID string) ([]Metric, error)
}

// AgentConfig holds per-agent-overridable thresholds.
type AgentConfig struct {
	MinObservations       int
	MinConfidence         float64
	SuccessRateThreshold  float64
	FailureRateThreshold  float64
	MaxPatternsPerAgent   int
}

// DefaultAgentConfig returns the package defaults from spec.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MinObservations:      10,
		MinConfidence:        0.7,
		SuccessRateThreshold: 0.8,
		FailureRateThreshold: 0.3,
		MaxPatternsPerAgent:  100,
	}
}

// ConfigProvider resolves the effective AgentConfig for an agent, falling
// back to DefaultAgentConfig when the agent has no catalog entry.
type ConfigProvider interface {
	ConfigFor(agentID string) AgentConfig
}

type staticConfig struct{ cfg AgentConfig }

func (s staticConfig) ConfigFor(string) AgentConfig { return s.cfg }

// StaticConfig returns a ConfigProvider that always yields cfg, useful for
// tests and single-tenant deployments.
func StaticConfig(cfg AgentConfig) ConfigProvider { return staticConfig{cfg} }

// Engine is the LearningEngine.
type Engine struct {
	store  *store.Store
	views  MetricsView
	config ConfigProvider
}

// New creates an Engine reading metrics through views and persisting
// patterns through st, with per-agent thresholds resolved by config.
func New(st *store.Store, views MetricsView, config ConfigProvider) *Engine {
	return &Engine{store: st, views: views, config: config}
}

// Extract groups agentID's metrics by task_type and derives success,
// anti-pattern, and optimization patterns per the calibrated thresholds,
// persisting each via the store and trimming the agent's pattern set down
// to MaxPatternsPerAgent by confidence.
func (e *Engine) Extract(agentID string) ([]*store.Pattern, error) {
	metrics, err := e.views.Metrics(agentID)
	if err != nil {
		return nil, err
	}
	cfg := e.config.ConfigFor(agentID)

	byTaskType := make(map[string][]Metric)
	for _, m := range metrics {
		byTaskType[m.TaskType] = append(byTaskType[m.TaskType], m)
	}

	var extracted []*store.Pattern
	for taskType, group := range byTaskType {
		extracted = append(extracted, e.extractGroup(agentID, taskType, group, cfg)...)
	}

	var persisted []*store.Pattern
	for _, p := range extracted {
		saved, err := e.store.RecordPattern(p)
		if err != nil {
			log.Printf("[LEARNING] warning: failed to persist pattern for agent %s: %v", agentID, err)
			continue
		}
		persisted = append(persisted, saved)
	}

	if err := e.trim(agentID, cfg.MaxPatternsPerAgent); err != nil {
		log.Printf("[LEARNING] warning: failed to trim patterns for agent %s: %v", agentID, err)
	}

	return persisted, nil
}

func (e *Engine) extractGroup(agentID, taskType string, group []Metric, cfg AgentConfig) []*store.Pattern {
	n := len(group)
	if n == 0 {
		return nil
	}

	successes := 0
	for _, m := range group {
		if m.Success {
			successes++
		}
	}
	successRate := float64(successes) / float64(n)
	failureRate := 1 - successRate

	var patterns []*store.Pattern
	now := time.Now().UTC()

	if successRate >= cfg.SuccessRateThreshold {
		patterns = append(patterns, e.successPatterns(agentID, taskType, group, n, successRate, cfg, now)...)
	}
	if failureRate >= cfg.FailureRateThreshold {
		patterns = append(patterns, e.antiPatterns(agentID, taskType, group, n, successRate, cfg, now)...)
	}
	patterns = append(patterns, e.optimizationPatterns(agentID, taskType, group, n, successRate, cfg, now)...)

	return patterns
}

func (e *Engine) successPatterns(agentID, taskType string, group []Metric, n int, groupSuccessRate float64, cfg AgentConfig, now time.Time) []*store.Pattern {
	var out []*store.Pattern

	highQuality := filterMetrics(group, func(m Metric) bool { return m.QualityScore >= 0.8 })
	if len(highQuality) >= cfg.MinObservations {
		out = append(out, buildPattern(store.PatternSuccess, agentID, taskType, highQuality, n, groupSuccessRate,
			"adjust_prompt", "quality-focused", complexityOf(highQuality), now))
	}

	costs := extractFloats(group, func(m Metric) float64 { return m.Cost })
	med := median(costs)
	if hasMeaningfulVariation(costs, med) {
		efficient := filterMetrics(group, func(m Metric) bool { return m.QualityScore >= 0.8 && m.Cost <= med })
		if len(efficient) >= cfg.MinObservations {
			out = append(out, buildPattern(store.PatternSuccess, agentID, taskType, efficient, n, groupSuccessRate,
				"adjust_prompt", "efficient", complexityOf(efficient), now))
		}
	}

	return out
}

func (e *Engine) antiPatterns(agentID, taskType string, group []Metric, n int, groupSuccessRate float64, cfg AgentConfig, now time.Time) []*store.Pattern {
	var out []*store.Pattern

	durations := extractFloats(group, func(m Metric) float64 { return m.DurationMs })
	p95 := percentile95(durations)

	timeouts := filterMetrics(group, func(m Metric) bool { return !m.Success && m.DurationMs > p95 })
	if len(timeouts) >= cfg.MinObservations/2 {
		timeoutMs := int64(math.Round(1.5 * p95))
		out = append(out, buildPattern(store.PatternAntiPattern, agentID, taskType, timeouts, n, groupSuccessRate,
			"modify_timeout", formatInt(timeoutMs), complexityOf(timeouts), now))
	}

	lowQuality := filterMetrics(group, func(m Metric) bool { return m.Success && m.QualityScore < 0.5 })
	if len(lowQuality) >= cfg.MinObservations/2 {
		out = append(out, buildPattern(store.PatternAntiPattern, agentID, taskType, lowQuality, n, groupSuccessRate,
			"adjust_prompt", "quality-focused", complexityOf(lowQuality), now))
	}

	return out
}

func (e *Engine) optimizationPatterns(agentID, taskType string, group []Metric, n int, groupSuccessRate float64, cfg AgentConfig, now time.Time) []*store.Pattern {
	eligible := filterMetrics(group, func(m Metric) bool { return m.Success && m.QualityScore >= 0.7 })
	if len(eligible) < cfg.MinObservations {
		return nil
	}

	costs := extractFloats(eligible, func(m Metric) float64 { return m.Cost })
	meanCost := mean(costs)

	candidates := filterMetrics(eligible, func(m Metric) bool { return m.Cost < 0.8*meanCost && m.QualityScore >= 0.8 })
	if len(candidates) < cfg.MinObservations/2 {
		return nil
	}

	p := buildPattern(store.PatternOptimization, agentID, taskType, candidates, n, groupSuccessRate,
		"change_model", "20%_cost_reduction/quality_floor_0.8", complexityOf(candidates), now)
	return []*store.Pattern{p}
}

// buildPattern records groupSuccessRate — the success rate of the whole
// task_type group, not the subset — into RunningSuccessRate and
// Data.Evidence.SuccessRate. A pattern carries the group-level rate at
// creation; only a later call through UpdatePattern tracks a pattern-local
// running rate from then on.
func buildPattern(pType store.PatternType, agentID, taskType string, subset []Metric, groupSize int, groupSuccessRate float64,
	recType, recValue string, complexity store.Complexity, now time.Time) *store.Pattern {
	k := len(subset)
	confidence := confidenceFormula(k, groupSize)

	var sourceSpanIDs []string
	for _, m := range subset {
		sourceSpanIDs = append(sourceSpanIDs, m.ExecutionID)
	}

	return &store.Pattern{
		Type:               pType,
		Confidence:         confidence,
		Occurrences:        k,
		AppliesToAgentType: agentID,
		AppliesToTaskType:  taskType,
		FirstObserved:      now,
		LastObserved:       now,
		IsActive:           true,
		Complexity:         complexity,
		SourceSpanIDs:      sourceSpanIDs,
		ObservationCount:   k,
		RunningSuccessRate: groupSuccessRate,
		Data: store.PatternData{
			RecommendationType:  recType,
			RecommendationValue: recValue,
			Evidence: store.PatternEvidence{
				SampleSize:  k,
				GroupSize:   groupSize,
				SuccessRate: groupSuccessRate,
			},
		},
	}
}

// confidenceFormula implements min(min(n/30,1)·(k/n), 1.0).
func confidenceFormula(k, n int) float64 {
	if n == 0 {
		return 0
	}
	scale := math.Min(float64(n)/30.0, 1.0)
	ratio := float64(k) / float64(n)
	return math.Min(scale*ratio, 1.0)
}

// complexityOf classifies mean duration: low < 5s, medium < 15s, else high.
func complexityOf(subset []Metric) store.Complexity {
	durations := extractFloats(subset, func(m Metric) float64 { return m.DurationMs })
	avg := mean(durations)
	switch {
	case avg < 5000:
		return store.ComplexityLow
	case avg < 15000:
		return store.ComplexityMedium
	default:
		return store.ComplexityHigh
	}
}

func filterMetrics(group []Metric, pred func(Metric) bool) []Metric {
	var out []Metric
	for _, m := range group {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

func extractFloats(group []Metric, f func(Metric) float64) []float64 {
	out := make([]float64, len(group))
	for i, m := range group {
		out[i] = f(m)
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// percentile95 falls back to max for samples smaller than 20, per spec.
func percentile95(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	if len(sorted) < 20 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// hasMeaningfulVariation reports whether some cost observation differs from
// the median by more than max(10% of median, 0.01).
func hasMeaningfulVariation(costs []float64, med float64) bool {
	threshold := math.Max(0.1*med, 0.01)
	for _, c := range costs {
		if math.Abs(c-med) > threshold {
			return true
		}
	}
	return false
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
