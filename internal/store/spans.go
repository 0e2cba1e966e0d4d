package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/agentevolve/evocore/internal/store/errs"
)

// MaxBatchSpans is the hard upper bound enforced by RecordSpanBatch.
const MaxBatchSpans = 1000

// sortColumnWhitelist is the closed set of span query sort columns. Any
// value outside this set fails validation before it ever reaches SQL.
var sortColumnWhitelist = map[string]string{
	"start_time":   "start_time",
	"duration_ms":  "duration_ms",
	"status_code":  "status_code",
	"name":         "name",
	"kind":         "kind",
	"end_time":     "end_time",
	"span_id":      "span_id",
	"trace_id":     "trace_id",
	"task_id":      "task_id",
	"execution_id": "execution_id",
}

func validateSortColumn(col string) (string, error) {
	if col == "" {
		return "start_time", nil
	}
	real, ok := sortColumnWhitelist[col]
	if !ok {
		allowed := make([]string, 0, len(sortColumnWhitelist))
		for k := range sortColumnWhitelist {
			allowed = append(allowed, k)
		}
		return "", errs.Validationf("sort_by", allowed, "unknown sort column %q", col)
	}
	return real, nil
}

func validateSortOrder(order string) (string, error) {
	switch strings.ToUpper(order) {
	case "", "ASC":
		return "ASC", nil
	case "DESC":
		return "DESC", nil
	default:
		return "", errs.Validationf("sort_order", []string{"ASC", "DESC"}, "unknown sort order %q", order)
	}
}

// SpanQueryFilter narrows Query. Zero-value time bounds are unbounded.
type SpanQueryFilter struct {
	TraceID     string
	TaskID      string
	ExecutionID string
	StatusCode  StatusCode
	StartGTE    *int64
	StartLTE    *int64
	EndGTE      *int64
	EndLTE      *int64
	// NameContains does a substring match on span name. The operand is
	// LIKE-escaped so a caller-supplied "%" or "_" can't widen the match.
	NameContains string
	SortBy       string
	SortOrder    string
	Limit        int
	Offset       int
}

// RecordSpan persists a single span.
func (s *Store) RecordSpan(sp *Span) error {
	return s.RecordSpanBatch([]*Span{sp})
}

// RecordSpanBatch persists spans atomically: either all spans are written or
// none are. Batches larger than MaxBatchSpans are rejected without writing
// anything.
func (s *Store) RecordSpanBatch(spans []*Span) error {
	if len(spans) == 0 {
		return nil
	}
	if len(spans) > MaxBatchSpans {
		return errs.Validationf("spans", nil, "batch of %d spans exceeds maximum of %d", len(spans), MaxBatchSpans)
	}

	for _, sp := range spans {
		if err := validateSpan(sp); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Storagef(err, "begin span batch")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO spans (trace_id, span_id, parent_span_id, task_id, execution_id, name, kind,
			start_time, end_time, duration_ms, status_code, status_message, attributes, resource, links, tags, events)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Storagef(err, "prepare span insert")
	}
	defer stmt.Close()

	for _, sp := range spans {
		var endTime, durationMs interface{}
		if sp.EndTime != nil {
			endTime = epochMs(*sp.EndTime)
		}
		if sp.DurationMs != nil {
			durationMs = *sp.DurationMs
		}
		_, err := stmt.Exec(
			sp.TraceID, sp.SpanID, nullIfEmpty(sp.ParentSpanID), sp.TaskID, sp.ExecutionID, sp.Name, sp.Kind,
			epochMs(sp.StartTime), endTime, durationMs, sp.Status.Code, sp.Status.Message,
			encodeJSON(sp.Attributes), encodeJSON(sp.Resource), encodeJSON(sp.Links), encodeJSON(sp.Tags), encodeJSON(sp.Events),
		)
		if err != nil {
			return errs.Storagef(err, "insert span %s", sp.SpanID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Storagef(err, "commit span batch")
	}
	return nil
}

func validateSpan(sp *Span) error {
	if sp.SpanID == "" {
		return errs.Validationf("span_id", nil, "span_id is required")
	}
	if sp.EndTime != nil && sp.EndTime.Before(sp.StartTime) {
		return errs.Validationf("end_time", nil, "end_time must be >= start_time for span %s", sp.SpanID)
	}
	if sp.EndTime != nil && sp.DurationMs != nil {
		expected := sp.EndTime.Sub(sp.StartTime).Milliseconds()
		if *sp.DurationMs != expected {
			return errs.Validationf("duration_ms", nil, "duration_ms %d does not match end_time-start_time %d for span %s", *sp.DurationMs, expected, sp.SpanID)
		}
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetSpan loads a span by id.
func (s *Store) GetSpan(spanID string) (*Span, error) {
	row := s.db.QueryRow(spanSelectColumns+" FROM spans WHERE span_id = ?", spanID)
	return scanSpanRow(row)
}

// QuerySpansByTrace returns every span sharing a trace_id, ordered by
// (start_time, span_id) per the total-ordering invariant.
func (s *Store) QuerySpansByTrace(traceID string) ([]*Span, error) {
	rows, err := s.db.Query(spanSelectColumns+" FROM spans WHERE trace_id = ? ORDER BY start_time ASC, span_id ASC", traceID)
	if err != nil {
		return nil, errs.Storagef(err, "query spans by trace")
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

// QueryChildren returns direct children of parentSpanID.
func (s *Store) QueryChildren(parentSpanID string) ([]*Span, error) {
	rows, err := s.db.Query(spanSelectColumns+" FROM spans WHERE parent_span_id = ? ORDER BY start_time ASC, span_id ASC", parentSpanID)
	if err != nil {
		return nil, errs.Storagef(err, "query span children")
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

// Query runs a filtered, paginated, sorted span query. SortBy/SortOrder are
// validated against closed whitelists before being substituted into SQL.
func (s *Store) Query(filter SpanQueryFilter) ([]*Span, error) {
	sortCol, err := validateSortColumn(filter.SortBy)
	if err != nil {
		return nil, err
	}
	sortOrder, err := validateSortOrder(filter.SortOrder)
	if err != nil {
		return nil, err
	}

	query := spanSelectColumns + " FROM spans WHERE 1=1"
	args := []interface{}{}

	if filter.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, filter.TraceID)
	}
	if filter.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.ExecutionID != "" {
		query += " AND execution_id = ?"
		args = append(args, filter.ExecutionID)
	}
	if filter.StatusCode != "" {
		query += " AND status_code = ?"
		args = append(args, filter.StatusCode)
	}
	if filter.StartGTE != nil {
		query += " AND start_time >= ?"
		args = append(args, *filter.StartGTE)
	}
	if filter.StartLTE != nil {
		query += " AND start_time <= ?"
		args = append(args, *filter.StartLTE)
	}
	if filter.EndGTE != nil {
		query += " AND end_time >= ?"
		args = append(args, *filter.EndGTE)
	}
	if filter.EndLTE != nil {
		query += " AND end_time <= ?"
		args = append(args, *filter.EndLTE)
	}
	if filter.NameContains != "" {
		query += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, "%"+likeEscape(filter.NameContains)+"%")
	}

	query += fmt.Sprintf(" ORDER BY %s %s", sortCol, sortOrder)
	query = applyLimitOffset(query, &args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "query spans")
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

// QueryLinkedSpans returns every span whose links[*].span_id equals spanID,
// found via structured JSON traversal (json_each over the links array),
// never substring matching.
func (s *Store) QueryLinkedSpans(spanID string) ([]*Span, error) {
	query := spanSelectColumns + `
		FROM spans
		WHERE EXISTS (
			SELECT 1 FROM json_each(COALESCE(spans.links, '[]')) AS link
			WHERE json_extract(link.value, '$.span_id') = ?
		)
		ORDER BY start_time ASC, span_id ASC`
	rows, err := s.db.Query(query, spanID)
	if err != nil {
		return nil, errs.Storagef(err, "query linked spans")
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

// TagMode selects how multiple tags combine in QueryByTags.
type TagMode string

const (
	TagModeAny TagMode = "any"
	TagModeAll TagMode = "all"
)

// QueryByTags returns spans carrying any (or all) of the given tags.
func (s *Store) QueryByTags(tags []string, mode TagMode) ([]*Span, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	if mode != TagModeAny && mode != TagModeAll {
		return nil, errs.Validationf("mode", []string{string(TagModeAny), string(TagModeAll)}, "unknown tag mode %q", mode)
	}

	var query string
	args := []interface{}{}
	if mode == TagModeAny {
		query = spanSelectColumns + `
			FROM spans
			WHERE EXISTS (
				SELECT 1 FROM json_each(COALESCE(spans.tags, '[]')) AS t
				WHERE t.value IN (` + placeholders(len(tags)) + `)
			)`
		for _, t := range tags {
			args = append(args, t)
		}
	} else {
		query = spanSelectColumns + " FROM spans WHERE "
		clauses := make([]string, len(tags))
		for i, t := range tags {
			clauses[i] = `EXISTS (SELECT 1 FROM json_each(COALESCE(spans.tags, '[]')) AS t WHERE t.value = ?)`
			args = append(args, t)
		}
		query += strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_time ASC, span_id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "query spans by tags")
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}

const spanSelectColumns = `SELECT trace_id, span_id, parent_span_id, task_id, execution_id, name, kind,
	start_time, end_time, duration_ms, status_code, status_message, attributes, resource, links, tags, events`

func scanSpanRow(row *sql.Row) (*Span, error) {
	var sp Span
	var parentSpanID, statusMessage, attributes, resource, links, tags, events sql.NullString
	var startTime int64
	var endTime, durationMs sql.NullInt64

	err := row.Scan(&sp.TraceID, &sp.SpanID, &parentSpanID, &sp.TaskID, &sp.ExecutionID, &sp.Name, &sp.Kind,
		&startTime, &endTime, &durationMs, &sp.Status.Code, &statusMessage, &attributes, &resource, &links, &tags, &events)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("span not found")
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan span")
	}
	populateSpan(&sp, parentSpanID, statusMessage, attributes, resource, links, tags, events, startTime, endTime, durationMs)
	return &sp, nil
}

func scanSpanRows(rows *sql.Rows) ([]*Span, error) {
	var out []*Span
	for rows.Next() {
		var sp Span
		var parentSpanID, statusMessage, attributes, resource, links, tags, events sql.NullString
		var startTime int64
		var endTime, durationMs sql.NullInt64

		if err := rows.Scan(&sp.TraceID, &sp.SpanID, &parentSpanID, &sp.TaskID, &sp.ExecutionID, &sp.Name, &sp.Kind,
			&startTime, &endTime, &durationMs, &sp.Status.Code, &statusMessage, &attributes, &resource, &links, &tags, &events); err != nil {
			return nil, errs.Storagef(err, "scan span row")
		}
		populateSpan(&sp, parentSpanID, statusMessage, attributes, resource, links, tags, events, startTime, endTime, durationMs)
		out = append(out, &sp)
	}
	return out, rows.Err()
}

func populateSpan(sp *Span, parentSpanID, statusMessage, attributes, resource, links, tags, events sql.NullString,
	startTime int64, endTime, durationMs sql.NullInt64) {
	sp.ParentSpanID = parentSpanID.String
	sp.Status.Message = statusMessage.String
	sp.StartTime = fromEpochMs(startTime)
	if endTime.Valid {
		t := fromEpochMs(endTime.Int64)
		sp.EndTime = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		sp.DurationMs = &d
	}
	decodeJSONDefault("spans.attributes", attributes.String, &sp.Attributes)
	decodeJSONDefault("spans.resource", resource.String, &sp.Resource)
	decodeJSONDefault("spans.links", links.String, &sp.Links)
	decodeJSONDefault("spans.tags", tags.String, &sp.Tags)
	decodeJSONDefault("spans.events", events.String, &sp.Events)
}
