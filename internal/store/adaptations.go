package store

import (
	"database/sql"
	"time"

	"github.com/agentevolve/evocore/internal/idgen"
	"github.com/agentevolve/evocore/internal/store/errs"
)

// AdaptationFilter narrows QueryAdaptations.
type AdaptationFilter struct {
	PatternID  string
	AgentID    string
	TaskType   string
	Skill      string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// RecordAdaptation inserts a newly derived adaptation.
func (s *Store) RecordAdaptation(a *Adaptation) (*Adaptation, error) {
	if a.ID == "" {
		a.ID = idgen.New()
	}
	if a.AppliedAt.IsZero() {
		a.AppliedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO adaptations (id, pattern_id, type, before_config, after_config, applied_to_agent_id,
			applied_to_task_type, applied_to_skill, applied_at, success_count, failure_count, avg_improvement, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		a.ID, a.PatternID, a.Type, encodeJSON(a.BeforeConfig), encodeJSON(a.AfterConfig),
		nullIfEmpty(a.AppliedToAgentID), nullIfEmpty(a.AppliedToTaskType), nullIfEmpty(a.AppliedToSkill),
		formatTime(a.AppliedAt), a.SuccessCount, a.FailureCount, a.AvgImprovement,
	)
	if err != nil {
		return nil, errs.Storagef(err, "insert adaptation")
	}
	a.IsActive = true
	return a, nil
}

const adaptationSelectColumns = `SELECT id, pattern_id, type, before_config, after_config, applied_to_agent_id,
	applied_to_task_type, applied_to_skill, applied_at, success_count, failure_count, avg_improvement,
	is_active, deactivated_at, deactivation_reason`

// GetAdaptation loads an adaptation by id.
func (s *Store) GetAdaptation(id string) (*Adaptation, error) {
	row := s.db.QueryRow(adaptationSelectColumns+" FROM adaptations WHERE id = ?", id)
	return scanAdaptationRow(row)
}

func scanAdaptationRow(row *sql.Row) (*Adaptation, error) {
	var a Adaptation
	var beforeConfig, afterConfig, agentID, taskType, skill, deactivatedAt, deactivationReason sql.NullString
	var appliedAt string
	var isActive int

	err := row.Scan(&a.ID, &a.PatternID, &a.Type, &beforeConfig, &afterConfig, &agentID, &taskType, &skill,
		&appliedAt, &a.SuccessCount, &a.FailureCount, &a.AvgImprovement, &isActive, &deactivatedAt, &deactivationReason)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("adaptation not found")
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan adaptation")
	}
	populateAdaptation(&a, beforeConfig, afterConfig, agentID, taskType, skill, deactivatedAt, deactivationReason, appliedAt, isActive)
	return &a, nil
}

func populateAdaptation(a *Adaptation, beforeConfig, afterConfig, agentID, taskType, skill, deactivatedAt, deactivationReason sql.NullString,
	appliedAt string, isActive int) {
	a.AppliedToAgentID = agentID.String
	a.AppliedToTaskType = taskType.String
	a.AppliedToSkill = skill.String
	a.AppliedAt = mustParseTime(appliedAt)
	a.IsActive = isActive != 0
	a.DeactivationReason = deactivationReason.String
	if deactivatedAt.Valid {
		t := mustParseTime(deactivatedAt.String)
		a.DeactivatedAt = &t
	}
	decodeJSONDefault("adaptations.before_config", beforeConfig.String, &a.BeforeConfig)
	decodeJSONDefault("adaptations.after_config", afterConfig.String, &a.AfterConfig)
}

// QueryAdaptations returns adaptations matching filter, most recent first.
func (s *Store) QueryAdaptations(filter AdaptationFilter) ([]*Adaptation, error) {
	query := adaptationSelectColumns + " FROM adaptations WHERE 1=1"
	args := []interface{}{}

	if filter.PatternID != "" {
		query += " AND pattern_id = ?"
		args = append(args, filter.PatternID)
	}
	if filter.AgentID != "" {
		query += " AND applied_to_agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.TaskType != "" {
		query += " AND applied_to_task_type = ?"
		args = append(args, filter.TaskType)
	}
	if filter.Skill != "" {
		query += " AND applied_to_skill = ?"
		args = append(args, filter.Skill)
	}
	if filter.ActiveOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY applied_at DESC"
	query = applyLimitOffset(query, &args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "query adaptations")
	}
	defer rows.Close()

	var out []*Adaptation
	for rows.Next() {
		var a Adaptation
		var beforeConfig, afterConfig, agentID, taskType, skill, deactivatedAt, deactivationReason sql.NullString
		var appliedAt string
		var isActive int
		if err := rows.Scan(&a.ID, &a.PatternID, &a.Type, &beforeConfig, &afterConfig, &agentID, &taskType, &skill,
			&appliedAt, &a.SuccessCount, &a.FailureCount, &a.AvgImprovement, &isActive, &deactivatedAt, &deactivationReason); err != nil {
			return nil, errs.Storagef(err, "scan adaptation row")
		}
		populateAdaptation(&a, beforeConfig, afterConfig, agentID, taskType, skill, deactivatedAt, deactivationReason, appliedAt, isActive)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// UpdateAdaptationOutcome folds one more applied-outcome observation into
// the adaptation's running average improvement.
func (s *Store) UpdateAdaptationOutcome(id string, success bool, improvement float64) error {
	a, err := s.GetAdaptation(id)
	if err != nil {
		return err
	}

	successCount, failureCount := a.SuccessCount, a.FailureCount
	if success {
		successCount++
	} else {
		failureCount++
	}
	total := successCount + failureCount
	newAvg := a.AvgImprovement
	if total > 0 {
		newAvg = a.AvgImprovement + (improvement-a.AvgImprovement)/float64(total)
	}

	_, err = s.db.Exec(
		"UPDATE adaptations SET success_count = ?, failure_count = ?, avg_improvement = ? WHERE id = ?",
		successCount, failureCount, newAvg, id,
	)
	if err != nil {
		return errs.Storagef(err, "update adaptation outcome")
	}
	return nil
}

// DeactivateAdaptation marks an adaptation inactive with a recorded reason.
func (s *Store) DeactivateAdaptation(id, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		"UPDATE adaptations SET is_active = 0, deactivated_at = ?, deactivation_reason = ? WHERE id = ?",
		formatTime(now), reason, id,
	)
	if err != nil {
		return errs.Storagef(err, "deactivate adaptation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Storagef(err, "rows affected")
	}
	if n == 0 {
		return errs.NotFoundf("adaptation not found: %s", id)
	}
	return nil
}
