package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/agentevolve/evocore/internal/idgen"
	"github.com/agentevolve/evocore/internal/store/errs"
)

// PatternFilter narrows Query and GetActive.
type PatternFilter struct {
	Types          []PatternType
	AgentType      string
	TaskType       string
	Skill          string
	MinConfidence  float64
	MaxConfidence  float64 // 0 means unbounded
	ObservedAfter  *time.Time
	ObservedBefore *time.Time
	ActiveOnly     bool
	SortBy         string
	SortOrder      string
	Limit          int
	Offset         int
}

// patternSortWhitelist is the closed set of pattern query sort columns.
var patternSortWhitelist = map[string]string{
	"confidence":    "confidence",
	"occurrences":   "occurrences",
	"last_observed": "last_observed",
}

func validatePatternSortColumn(col string) (string, error) {
	if col == "" {
		return "last_observed", nil
	}
	real, ok := patternSortWhitelist[col]
	if !ok {
		allowed := make([]string, 0, len(patternSortWhitelist))
		for k := range patternSortWhitelist {
			allowed = append(allowed, k)
		}
		return "", errs.Validationf("sort_by", allowed, "unknown pattern sort column %q", col)
	}
	return real, nil
}

// RecordPattern inserts a newly extracted pattern.
func (s *Store) RecordPattern(p *Pattern) (*Pattern, error) {
	if p.ID == "" {
		p.ID = idgen.New()
	}
	now := time.Now().UTC()
	if p.FirstObserved.IsZero() {
		p.FirstObserved = now
	}
	if p.LastObserved.IsZero() {
		p.LastObserved = now
	}

	_, err := s.db.Exec(
		`INSERT INTO patterns (id, type, confidence, occurrences, pattern_data, source_span_ids,
			applies_to_agent_type, applies_to_task_type, applies_to_skill, first_observed, last_observed,
			is_active, complexity, config_keys, context_metadata, running_success_rate, observation_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Type, p.Confidence, p.Occurrences, encodeJSON(p.Data), encodeJSON(p.SourceSpanIDs),
		nullIfEmpty(p.AppliesToAgentType), nullIfEmpty(p.AppliesToTaskType), nullIfEmpty(p.AppliesToSkill),
		formatTime(p.FirstObserved), formatTime(p.LastObserved), boolToInt(true), string(p.Complexity),
		encodeJSON(p.ConfigKeys), encodeJSON(p.ContextMetadata), p.RunningSuccessRate, p.ObservationCount, formatTime(now),
	)
	if err != nil {
		return nil, errs.Storagef(err, "insert pattern")
	}
	p.IsActive = true
	return p, nil
}

// UpsertPattern inserts p or, when a pattern with the same id already
// exists, replaces every field except id/first_observed/created_at —
// satisfying bootstrap's idempotence requirement: re-importing an
// unchanged curated pattern is a no-op in effect, and importing a changed
// one updates fields while preserving when the pattern was first created.
func (s *Store) UpsertPattern(p *Pattern) (*Pattern, error) {
	if p.ID == "" {
		return nil, errs.Validationf("id", nil, "pattern id is required for upsert")
	}
	now := time.Now().UTC()
	if p.FirstObserved.IsZero() {
		p.FirstObserved = now
	}
	if p.LastObserved.IsZero() {
		p.LastObserved = now
	}

	_, err := s.db.Exec(
		`INSERT INTO patterns (id, type, confidence, occurrences, pattern_data, source_span_ids,
			applies_to_agent_type, applies_to_task_type, applies_to_skill, first_observed, last_observed,
			is_active, complexity, config_keys, context_metadata, running_success_rate, observation_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			confidence = excluded.confidence,
			occurrences = excluded.occurrences,
			pattern_data = excluded.pattern_data,
			source_span_ids = excluded.source_span_ids,
			applies_to_agent_type = excluded.applies_to_agent_type,
			applies_to_task_type = excluded.applies_to_task_type,
			applies_to_skill = excluded.applies_to_skill,
			last_observed = excluded.last_observed,
			is_active = excluded.is_active,
			complexity = excluded.complexity,
			config_keys = excluded.config_keys,
			context_metadata = excluded.context_metadata,
			running_success_rate = excluded.running_success_rate,
			observation_count = excluded.observation_count`,
		p.ID, p.Type, p.Confidence, p.Occurrences, encodeJSON(p.Data), encodeJSON(p.SourceSpanIDs),
		nullIfEmpty(p.AppliesToAgentType), nullIfEmpty(p.AppliesToTaskType), nullIfEmpty(p.AppliesToSkill),
		formatTime(p.FirstObserved), formatTime(p.LastObserved), boolToInt(true), string(p.Complexity),
		encodeJSON(p.ConfigKeys), encodeJSON(p.ContextMetadata), p.RunningSuccessRate, p.ObservationCount, formatTime(now),
	)
	if err != nil {
		return nil, errs.Storagef(err, "upsert pattern")
	}
	return s.GetPattern(p.ID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const patternSelectColumns = `SELECT id, type, confidence, occurrences, pattern_data, source_span_ids,
	applies_to_agent_type, applies_to_task_type, applies_to_skill, first_observed, last_observed,
	is_active, complexity, config_keys, context_metadata, running_success_rate, observation_count`

// GetPattern loads a pattern by id.
func (s *Store) GetPattern(id string) (*Pattern, error) {
	row := s.db.QueryRow(patternSelectColumns+" FROM patterns WHERE id = ?", id)
	return scanPatternRow(row)
}

func scanPatternRow(row *sql.Row) (*Pattern, error) {
	var p Pattern
	var agentType, taskType, skill, complexity, configKeys, contextMetadata, patternData, sourceSpanIDs sql.NullString
	var firstObserved, lastObserved string
	var isActive int

	err := row.Scan(&p.ID, &p.Type, &p.Confidence, &p.Occurrences, &patternData, &sourceSpanIDs,
		&agentType, &taskType, &skill, &firstObserved, &lastObserved, &isActive, &complexity,
		&configKeys, &contextMetadata, &p.RunningSuccessRate, &p.ObservationCount)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("pattern not found")
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan pattern")
	}
	populatePattern(&p, agentType, taskType, skill, complexity, configKeys, contextMetadata, patternData, sourceSpanIDs, firstObserved, lastObserved, isActive)
	return &p, nil
}

func populatePattern(p *Pattern, agentType, taskType, skill, complexity, configKeys, contextMetadata, patternData, sourceSpanIDs sql.NullString,
	firstObserved, lastObserved string, isActive int) {
	p.AppliesToAgentType = agentType.String
	p.AppliesToTaskType = taskType.String
	p.AppliesToSkill = skill.String
	p.Complexity = Complexity(complexity.String)
	p.FirstObserved = mustParseTime(firstObserved)
	p.LastObserved = mustParseTime(lastObserved)
	p.IsActive = isActive != 0
	decodeJSONDefault("patterns.pattern_data", patternData.String, &p.Data)
	decodeJSONDefault("patterns.source_span_ids", sourceSpanIDs.String, &p.SourceSpanIDs)
	decodeJSONDefault("patterns.config_keys", configKeys.String, &p.ConfigKeys)
	decodeJSONDefault("patterns.context_metadata", contextMetadata.String, &p.ContextMetadata)
}

// Query returns patterns matching filter. Sort column/order are validated
// against closed whitelists before being substituted into SQL.
func (s *Store) QueryPatterns(filter PatternFilter) ([]*Pattern, error) {
	sortCol, err := validatePatternSortColumn(filter.SortBy)
	if err != nil {
		return nil, err
	}
	sortOrder, err := validateSortOrder(filter.SortOrder)
	if err != nil {
		return nil, err
	}

	query := patternSelectColumns + " FROM patterns WHERE 1=1"
	args := []interface{}{}

	if len(filter.Types) > 0 {
		query += " AND type IN (" + placeholders(len(filter.Types)) + ")"
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if filter.AgentType != "" {
		query += " AND applies_to_agent_type = ?"
		args = append(args, filter.AgentType)
	}
	if filter.TaskType != "" {
		query += " AND applies_to_task_type = ?"
		args = append(args, filter.TaskType)
	}
	if filter.Skill != "" {
		query += " AND applies_to_skill = ?"
		args = append(args, filter.Skill)
	}
	if filter.MinConfidence > 0 {
		query += " AND confidence >= ?"
		args = append(args, filter.MinConfidence)
	}
	if filter.MaxConfidence > 0 {
		query += " AND confidence <= ?"
		args = append(args, filter.MaxConfidence)
	}
	if filter.ObservedAfter != nil {
		query += " AND last_observed >= ?"
		args = append(args, formatTime(*filter.ObservedAfter))
	}
	if filter.ObservedBefore != nil {
		query += " AND first_observed <= ?"
		args = append(args, formatTime(*filter.ObservedBefore))
	}
	if filter.ActiveOnly {
		query += " AND is_active = 1"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortCol, sortOrder)
	query = applyLimitOffset(query, &args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "query patterns")
	}
	defer rows.Close()

	var out []*Pattern
	for rows.Next() {
		var p Pattern
		var agentType, taskType, skill, complexity, configKeys, contextMetadata, patternData, sourceSpanIDs sql.NullString
		var firstObserved, lastObserved string
		var isActive int
		if err := rows.Scan(&p.ID, &p.Type, &p.Confidence, &p.Occurrences, &patternData, &sourceSpanIDs,
			&agentType, &taskType, &skill, &firstObserved, &lastObserved, &isActive, &complexity,
			&configKeys, &contextMetadata, &p.RunningSuccessRate, &p.ObservationCount); err != nil {
			return nil, errs.Storagef(err, "scan pattern row")
		}
		populatePattern(&p, agentType, taskType, skill, complexity, configKeys, contextMetadata, patternData, sourceSpanIDs, firstObserved, lastObserved, isActive)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetActivePatterns is QueryPatterns with ActiveOnly forced true, matching
// the recommendation path's common case.
func (s *Store) GetActivePatterns(agentType, taskType, skill string) ([]*Pattern, error) {
	return s.QueryPatterns(PatternFilter{AgentType: agentType, TaskType: taskType, Skill: skill, ActiveOnly: true})
}

// UpdatePatternObservation folds a new observation into the pattern's
// running success rate and occurrence count.
func (s *Store) UpdatePatternObservation(id string, success bool, confidence float64) error {
	p, err := s.GetPattern(id)
	if err != nil {
		return err
	}

	newCount := p.ObservationCount + 1
	delta := 0.0
	if success {
		delta = 1.0
	}
	newRate := p.RunningSuccessRate + (delta-p.RunningSuccessRate)/float64(newCount)

	_, err = s.db.Exec(
		`UPDATE patterns SET occurrences = occurrences + 1, running_success_rate = ?, observation_count = ?,
			confidence = ?, last_observed = ? WHERE id = ?`,
		newRate, newCount, confidence, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return errs.Storagef(err, "update pattern observation")
	}
	return nil
}

// DeactivatePattern marks a pattern inactive, e.g. when superseded or
// trimmed for exceeding the per-agent pattern cap.
func (s *Store) DeactivatePattern(id string) error {
	res, err := s.db.Exec("UPDATE patterns SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return errs.Storagef(err, "deactivate pattern")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Storagef(err, "rows affected")
	}
	if n == 0 {
		return errs.NotFoundf("pattern not found: %s", id)
	}
	return nil
}
