package store

import (
	"database/sql"

	"github.com/agentevolve/evocore/internal/store/errs"
)

// RecordExecutionMetric persists the summarized outcome of one execution.
// Callers record at most one metric per execution_id; a second call
// overwrites the first, matching how a caller might re-derive quality_score
// after late user feedback.
func (s *Store) RecordExecutionMetric(m *ExecutionMetric) error {
	_, err := s.db.Exec(
		`INSERT INTO execution_metrics
			(execution_id, agent_id, task_type, success, duration_ms, cost, quality_score, user_satisfaction, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			task_type = excluded.task_type,
			success = excluded.success,
			duration_ms = excluded.duration_ms,
			cost = excluded.cost,
			quality_score = excluded.quality_score,
			user_satisfaction = excluded.user_satisfaction,
			timestamp = excluded.timestamp,
			metadata = excluded.metadata`,
		m.ExecutionID, m.AgentID, m.TaskType, boolToInt(m.Success), m.DurationMs, m.Cost, m.QualityScore,
		nullableFloat(m.UserSatisfaction), formatTime(m.Timestamp), encodeJSON(m.Metadata),
	)
	if err != nil {
		return errs.Storagef(err, "insert execution metric")
	}
	return nil
}

// QueryMetrics returns every metric recorded for agentID, oldest first — the
// learning engine's extraction window.
func (s *Store) QueryMetrics(agentID string) ([]ExecutionMetric, error) {
	rows, err := s.db.Query(
		`SELECT execution_id, agent_id, task_type, success, duration_ms, cost, quality_score, user_satisfaction, timestamp, metadata
		 FROM execution_metrics WHERE agent_id = ? ORDER BY timestamp ASC`, agentID)
	if err != nil {
		return nil, errs.Storagef(err, "query execution metrics")
	}
	defer rows.Close()

	var out []ExecutionMetric
	for rows.Next() {
		var m ExecutionMetric
		var success int
		var satisfaction sql.NullFloat64
		var timestamp, metadata string
		if err := rows.Scan(&m.ExecutionID, &m.AgentID, &m.TaskType, &success, &m.DurationMs, &m.Cost,
			&m.QualityScore, &satisfaction, &timestamp, &metadata); err != nil {
			return nil, errs.Storagef(err, "scan execution metric row")
		}
		m.Success = success != 0
		if satisfaction.Valid {
			v := satisfaction.Float64
			m.UserSatisfaction = &v
		}
		m.Timestamp = mustParseTime(timestamp)
		decodeJSONDefault("execution_metrics.metadata", metadata, &m.Metadata)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
