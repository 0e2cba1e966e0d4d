package store

import (
	"database/sql"
	"math"
	"time"

	"github.com/agentevolve/evocore/internal/idgen"
	"github.com/agentevolve/evocore/internal/store/errs"
)

// RewardFilter narrows QueryRewards.
type RewardFilter struct {
	OperationSpanID string
	FeedbackType    RewardFeedbackType
	MinValue        *float64
	MaxValue        *float64
	ProvidedAfter   *time.Time
	ProvidedBefore  *time.Time
	Limit           int
	Offset          int
}

// RecordReward inserts delayed feedback for an operation span. Value and
// every entry in Dimensions must be finite; NaN/Inf never reach storage.
func (s *Store) RecordReward(r *Reward) (*Reward, error) {
	if err := validateReward(r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = idgen.New()
	}
	if r.ProvidedAt.IsZero() {
		r.ProvidedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO rewards (id, operation_span_id, value, dimensions, feedback, feedback_type, provided_by, provided_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OperationSpanID, r.Value, encodeJSON(r.Dimensions), r.Feedback, r.FeedbackType,
		nullIfEmpty(r.ProvidedBy), formatTime(r.ProvidedAt), encodeJSON(r.Metadata),
	)
	if err != nil {
		return nil, errs.Storagef(err, "insert reward")
	}
	return r, nil
}

func validateReward(r *Reward) error {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errs.Validationf("value", nil, "reward value must be finite, got %v", r.Value)
	}
	for k, v := range r.Dimensions {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.Validationf("dimensions", nil, "reward dimension %q must be finite, got %v", k, v)
		}
	}
	if r.OperationSpanID == "" {
		return errs.Validationf("operation_span_id", nil, "operation_span_id is required")
	}
	return nil
}

const rewardSelectColumns = `SELECT id, operation_span_id, value, dimensions, feedback, feedback_type, provided_by, provided_at, metadata`

func scanRewardRow(row *sql.Row) (*Reward, error) {
	var r Reward
	var dimensions, feedback, feedbackType, providedBy, metadata sql.NullString
	var providedAt string

	err := row.Scan(&r.ID, &r.OperationSpanID, &r.Value, &dimensions, &feedback, &feedbackType, &providedBy, &providedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("reward not found")
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan reward")
	}
	populateReward(&r, dimensions, feedback, feedbackType, providedBy, metadata, providedAt)
	return &r, nil
}

func populateReward(r *Reward, dimensions, feedback, feedbackType, providedBy, metadata sql.NullString, providedAt string) {
	r.Feedback = feedback.String
	r.FeedbackType = RewardFeedbackType(feedbackType.String)
	r.ProvidedBy = providedBy.String
	r.ProvidedAt = mustParseTime(providedAt)
	decodeJSONDefault("rewards.dimensions", dimensions.String, &r.Dimensions)
	decodeJSONDefault("rewards.metadata", metadata.String, &r.Metadata)
}

// GetRewardsForSpan returns every reward attached to a span, ascending by
// provided_at so delayed feedback can be folded in arrival order.
func (s *Store) GetRewardsForSpan(spanID string) ([]*Reward, error) {
	rows, err := s.db.Query(rewardSelectColumns+" FROM rewards WHERE operation_span_id = ? ORDER BY provided_at ASC", spanID)
	if err != nil {
		return nil, errs.Storagef(err, "get rewards for span")
	}
	defer rows.Close()
	return scanRewardRows(rows)
}

// QueryRewardsByOperationSpan is GetRewardsForSpan ordered most-recent-first,
// the shape the reward-link lookup path wants.
func (s *Store) QueryRewardsByOperationSpan(spanID string) ([]*Reward, error) {
	rows, err := s.db.Query(rewardSelectColumns+" FROM rewards WHERE operation_span_id = ? ORDER BY provided_at DESC", spanID)
	if err != nil {
		return nil, errs.Storagef(err, "query rewards by operation span")
	}
	defer rows.Close()
	return scanRewardRows(rows)
}

// QueryRewards returns rewards matching filter.
func (s *Store) QueryRewards(filter RewardFilter) ([]*Reward, error) {
	query := rewardSelectColumns + " FROM rewards WHERE 1=1"
	args := []interface{}{}

	if filter.OperationSpanID != "" {
		query += " AND operation_span_id = ?"
		args = append(args, filter.OperationSpanID)
	}
	if filter.FeedbackType != "" {
		query += " AND feedback_type = ?"
		args = append(args, filter.FeedbackType)
	}
	if filter.MinValue != nil {
		query += " AND value >= ?"
		args = append(args, *filter.MinValue)
	}
	if filter.MaxValue != nil {
		query += " AND value <= ?"
		args = append(args, *filter.MaxValue)
	}
	if filter.ProvidedAfter != nil {
		query += " AND provided_at >= ?"
		args = append(args, formatTime(*filter.ProvidedAfter))
	}
	if filter.ProvidedBefore != nil {
		query += " AND provided_at <= ?"
		args = append(args, formatTime(*filter.ProvidedBefore))
	}
	query += " ORDER BY provided_at DESC"
	query = applyLimitOffset(query, &args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "query rewards")
	}
	defer rows.Close()
	return scanRewardRows(rows)
}

func scanRewardRows(rows *sql.Rows) ([]*Reward, error) {
	var out []*Reward
	for rows.Next() {
		var r Reward
		var dimensions, feedback, feedbackType, providedBy, metadata sql.NullString
		var providedAt string
		if err := rows.Scan(&r.ID, &r.OperationSpanID, &r.Value, &dimensions, &feedback, &feedbackType, &providedBy, &providedAt, &metadata); err != nil {
			return nil, errs.Storagef(err, "scan reward row")
		}
		populateReward(&r, dimensions, feedback, feedbackType, providedBy, metadata, providedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}
