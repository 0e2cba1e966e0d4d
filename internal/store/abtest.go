package store

import (
	"database/sql"

	"github.com/agentevolve/evocore/internal/store/errs"
)

// CreateExperiment persists a draft experiment.
func (s *Store) CreateExperiment(exp *ABExperiment) error {
	_, err := s.db.Exec(
		`INSERT INTO ab_experiments (id, name, variants, traffic_split, success_metric, min_sample_size, significance_level, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Name, encodeJSON(exp.Variants), encodeJSON(exp.TrafficSplit), exp.SuccessMetric,
		exp.MinSampleSize, exp.SignificanceLevel, exp.Status, formatTime(exp.CreatedAt),
	)
	if err != nil {
		return errs.Storagef(err, "insert experiment")
	}
	return nil
}

// GetExperiment loads an experiment by id.
func (s *Store) GetExperiment(id string) (*ABExperiment, error) {
	row := s.db.QueryRow(
		`SELECT id, name, variants, traffic_split, success_metric, min_sample_size, significance_level, status, created_at
		 FROM ab_experiments WHERE id = ?`, id)

	var exp ABExperiment
	var variants, trafficSplit string
	var createdAt string
	err := row.Scan(&exp.ID, &exp.Name, &variants, &trafficSplit, &exp.SuccessMetric,
		&exp.MinSampleSize, &exp.SignificanceLevel, &exp.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("experiment not found: %s", id)
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan experiment")
	}
	decodeJSONDefault("ab_experiments.variants", variants, &exp.Variants)
	decodeJSONDefault("ab_experiments.traffic_split", trafficSplit, &exp.TrafficSplit)
	exp.CreatedAt = mustParseTime(createdAt)
	return &exp, nil
}

// UpdateExperimentStatus transitions an experiment's lifecycle state.
func (s *Store) UpdateExperimentStatus(id string, status ExperimentStatus) error {
	res, err := s.db.Exec("UPDATE ab_experiments SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return errs.Storagef(err, "update experiment status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Storagef(err, "rows affected")
	}
	if n == 0 {
		return errs.NotFoundf("experiment not found: %s", id)
	}
	return nil
}

// GetAssignment loads an existing (experiment, subject) assignment.
func (s *Store) GetAssignment(experimentID, subjectID string) (*ABAssignment, error) {
	row := s.db.QueryRow(
		`SELECT experiment_id, subject_id, variant, assigned_at FROM ab_assignments WHERE experiment_id = ? AND subject_id = ?`,
		experimentID, subjectID)

	var a ABAssignment
	var assignedAt string
	err := row.Scan(&a.ExperimentID, &a.SubjectID, &a.Variant, &assignedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("no assignment for subject %s in experiment %s", subjectID, experimentID)
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan assignment")
	}
	a.AssignedAt = mustParseTime(assignedAt)
	return &a, nil
}

// RecordAssignment persists a new assignment. Callers must first check
// GetAssignment to preserve idempotence; a duplicate (experiment, subject)
// insert fails on the primary key.
func (s *Store) RecordAssignment(a *ABAssignment) error {
	_, err := s.db.Exec(
		`INSERT INTO ab_assignments (experiment_id, subject_id, variant, assigned_at) VALUES (?, ?, ?, ?)`,
		a.ExperimentID, a.SubjectID, a.Variant, formatTime(a.AssignedAt),
	)
	if err != nil {
		return errs.Storagef(err, "insert assignment")
	}
	return nil
}

// RecordMetric appends a metric observation. ab_metrics is append-only.
func (s *Store) RecordMetric(m *ABMetric) error {
	_, err := s.db.Exec(
		`INSERT INTO ab_metrics (id, experiment_id, variant, subject_id, value, secondary, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ExperimentID, m.Variant, m.SubjectID, m.Value, encodeJSON(m.Secondary), formatTime(m.RecordedAt),
	)
	if err != nil {
		return errs.Storagef(err, "insert ab metric")
	}
	return nil
}

// QueryMetricValues returns every recorded primary metric value for
// (experiment, variant), the raw sample analysis operates over.
func (s *Store) QueryMetricValues(experimentID, variant string) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT value FROM ab_metrics WHERE experiment_id = ? AND variant = ?`, experimentID, variant)
	if err != nil {
		return nil, errs.Storagef(err, "query ab metric values")
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, errs.Storagef(err, "scan ab metric value")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
