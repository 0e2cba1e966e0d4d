package store

import (
	"database/sql"
	"sort"
	"time"

	"github.com/agentevolve/evocore/internal/store/errs"
)

// derivePeriodType classifies a window by its span: the rollup granularity
// the caller gets is whatever the window's own length implies, never a
// parameter the caller sets directly.
func derivePeriodType(start, end time.Time) PeriodType {
	d := end.Sub(start)
	switch {
	case d <= 2*time.Hour:
		return PeriodHourly
	case d <= 2*24*time.Hour:
		return PeriodDaily
	case d <= 2*7*24*time.Hour:
		return PeriodWeekly
	default:
		return PeriodMonthly
	}
}

// GetStats computes an EvolutionStats rollup for agentID over [windowStart,
// windowEnd), deriving from execution_metrics and counting patterns and
// adaptations attributed to the agent within the window.
func (s *Store) GetStats(agentID string, windowStart, windowEnd time.Time) (*EvolutionStats, error) {
	stats := &EvolutionStats{
		AgentID:     agentID,
		PeriodType:  derivePeriodType(windowStart, windowEnd),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}

	row := s.db.QueryRow(
		`SELECT COUNT(*),
			COALESCE(AVG(CASE WHEN success = 1 THEN 1.0 ELSE 0.0 END), 0),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(AVG(cost), 0),
			COALESCE(AVG(quality_score), 0)
		 FROM execution_metrics
		 WHERE agent_id = ? AND timestamp >= ? AND timestamp < ?`,
		agentID, formatTime(windowStart), formatTime(windowEnd),
	)
	if err := row.Scan(&stats.TotalExecutions, &stats.SuccessRate, &stats.AvgDurationMs, &stats.AvgCost, &stats.AvgQuality); err != nil {
		return nil, errs.Storagef(err, "aggregate execution metrics")
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM patterns WHERE applies_to_agent_type = ? AND first_observed >= ? AND first_observed < ?`,
		agentID, formatTime(windowStart), formatTime(windowEnd),
	).Scan(&stats.PatternCount); err != nil {
		return nil, errs.Storagef(err, "count patterns")
	}

	var adaptationCount int
	var avgImprovement sql.NullFloat64
	if err := s.db.QueryRow(
		`SELECT COUNT(*), AVG(avg_improvement) FROM adaptations WHERE applied_to_agent_id = ? AND applied_at >= ? AND applied_at < ?`,
		agentID, formatTime(windowStart), formatTime(windowEnd),
	).Scan(&adaptationCount, &avgImprovement); err != nil {
		return nil, errs.Storagef(err, "count adaptations")
	}
	stats.AdaptationCount = adaptationCount
	if avgImprovement.Valid {
		stats.ImprovementRate = avgImprovement.Float64
	}

	summaries, err := s.skillSummariesForWindow(agentID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	stats.SkillSummaries = summaries

	return stats, nil
}

func (s *Store) skillSummariesForWindow(agentID string, windowStart, windowEnd time.Time) ([]SkillStatsSummary, error) {
	rows, err := s.db.Query(
		`SELECT json_extract(spans.attributes, '$."skill.name"') AS skill,
			COUNT(*),
			AVG(CASE WHEN spans.status_code = 'OK' THEN 1.0 ELSE 0.0 END),
			AVG(COALESCE(spans.duration_ms, 0))
		 FROM spans
		 JOIN executions ON executions.id = spans.execution_id
		 WHERE executions.agent_id = ? AND spans.start_time >= ? AND spans.start_time < ?
			AND json_extract(spans.attributes, '$."skill.name"') IS NOT NULL
		 GROUP BY skill`,
		agentID, epochMs(windowStart), epochMs(windowEnd),
	)
	if err != nil {
		return nil, errs.Storagef(err, "aggregate skill summaries")
	}
	defer rows.Close()

	var out []SkillStatsSummary
	for rows.Next() {
		var sm SkillStatsSummary
		if err := rows.Scan(&sm.Skill, &sm.Uses, &sm.SuccessRate, &sm.AvgDuration); err != nil {
			return nil, errs.Storagef(err, "scan skill summary")
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// GetSkillPerformance reads the materialized cache row for a skill. When the
// cache has no row yet (e.g. immediately after a schema rebuild, before the
// trigger has fired for this skill), it falls back to aggregating spans
// directly so callers never see a spuriously empty result for a skill that
// has actually been used.
func (s *Store) GetSkillPerformance(skill string) (*SkillPerformanceCache, error) {
	row := s.db.QueryRow(
		`SELECT skill, total_uses, successes, failures, success_rate, avg_duration, last_updated
		 FROM skills_performance_cache WHERE skill = ?`, skill)

	var c SkillPerformanceCache
	var lastUpdated string
	err := row.Scan(&c.Skill, &c.TotalUses, &c.Successes, &c.Failures, &c.SuccessRate, &c.AvgDuration, &lastUpdated)
	if err == nil {
		c.LastUpdated = mustParseTime(lastUpdated)
		return &c, nil
	}
	if err != sql.ErrNoRows {
		return nil, errs.Storagef(err, "read skill cache")
	}

	return s.aggregateSkillPerformance(skill)
}

func (s *Store) aggregateSkillPerformance(skill string) (*SkillPerformanceCache, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status_code = 'OK' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status_code = 'ERROR' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		 FROM spans WHERE json_extract(attributes, '$."skill.name"') = ?`, skill)

	c := &SkillPerformanceCache{Skill: skill, LastUpdated: time.Now().UTC()}
	if err := row.Scan(&c.TotalUses, &c.Successes, &c.Failures, &c.AvgDuration); err != nil {
		return nil, errs.Storagef(err, "aggregate skill performance")
	}
	if c.TotalUses == 0 {
		return nil, errs.NotFoundf("no spans recorded for skill %q", skill)
	}
	c.SuccessRate = float64(c.Successes) / float64(c.TotalUses)
	return c, nil
}

// SkillRecommendation is one ranked entry from GetSkillRecommendations:
// the cached performance row plus the composite score that ordered it.
type SkillRecommendation struct {
	SkillPerformanceCache
	PatternConfidence float64
	Score             float64
}

// SkillWeights weights GetSkillRecommendations's composite ranking. The
// zero value is invalid; use DefaultSkillWeights.
type SkillWeights struct {
	Success    float64
	Confidence float64
	Usage      float64
}

// DefaultSkillWeights matches spec.md §4.1's 0.5/0.3/0.2 default.
func DefaultSkillWeights() SkillWeights {
	return SkillWeights{Success: 0.5, Confidence: 0.3, Usage: 0.2}
}

// GetSkillRecommendations ranks skills for (taskType, agentType) by the
// composite 0.5·success_rate + 0.3·pattern_confidence + 0.2·min(uses/10,1),
// restricted to skills with ≥3 uses or ≥1 active success pattern matching
// taskType, returning at most topN, most promising first. agentType may be
// empty to match patterns regardless of applies_to_agent_type.
func (s *Store) GetSkillRecommendations(taskType, agentType string, topN int, weights SkillWeights) ([]SkillRecommendation, error) {
	rows, err := s.db.Query(
		`SELECT skill, total_uses, successes, failures, success_rate, avg_duration, last_updated
		 FROM skills_performance_cache`)
	if err != nil {
		return nil, errs.Storagef(err, "query skill recommendations")
	}
	defer rows.Close()

	var candidates []SkillPerformanceCache
	for rows.Next() {
		var c SkillPerformanceCache
		var lastUpdated string
		if err := rows.Scan(&c.Skill, &c.TotalUses, &c.Successes, &c.Failures, &c.SuccessRate, &c.AvgDuration, &lastUpdated); err != nil {
			return nil, errs.Storagef(err, "scan skill cache row")
		}
		c.LastUpdated = mustParseTime(lastUpdated)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []SkillRecommendation
	for _, c := range candidates {
		patternConfidence, matchCount, err := s.bestSuccessPatternConfidence(c.Skill, taskType, agentType)
		if err != nil {
			return nil, err
		}
		if c.TotalUses < 3 && matchCount == 0 {
			continue
		}
		score := weights.Success*c.SuccessRate +
			weights.Confidence*patternConfidence +
			weights.Usage*min1(float64(c.TotalUses)/10.0)
		out = append(out, SkillRecommendation{SkillPerformanceCache: c, PatternConfidence: patternConfidence, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// bestSuccessPatternConfidence returns the highest confidence among active
// success patterns applicable to (skill, taskType[, agentType]), and how
// many such patterns matched.
func (s *Store) bestSuccessPatternConfidence(skill, taskType, agentType string) (float64, int, error) {
	query := `SELECT COUNT(*), COALESCE(MAX(confidence), 0) FROM patterns
		WHERE is_active = 1 AND type = ? AND applies_to_skill = ? AND applies_to_task_type = ?`
	args := []interface{}{PatternSuccess, skill, taskType}
	if agentType != "" {
		query += " AND applies_to_agent_type = ?"
		args = append(args, agentType)
	}

	var count int
	var maxConfidence float64
	if err := s.db.QueryRow(query, args...).Scan(&count, &maxConfidence); err != nil {
		return 0, 0, errs.Storagef(err, "aggregate matching success patterns")
	}
	return maxConfidence, count, nil
}
