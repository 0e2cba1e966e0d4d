package store

import (
	"database/sql"
	"time"

	"github.com/agentevolve/evocore/internal/idgen"
	"github.com/agentevolve/evocore/internal/store/errs"
)

// TaskListFilter narrows CreateTask's sibling list query.
type TaskListFilter struct {
	Status TaskStatus
	Limit  int
	Offset int
}

// CreateTask inserts a new task, minting an id and created_at if unset.
func (s *Store) CreateTask(input, taskType, origin string, metadata map[string]string) (*Task, error) {
	t := &Task{
		ID:        idgen.New(),
		Input:     input,
		TaskType:  taskType,
		Origin:    origin,
		Status:    TaskPending,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, input, task_type, origin, status, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Input, t.TaskType, t.Origin, t.Status, formatTime(t.CreatedAt), encodeJSON(t.Metadata),
	)
	if err != nil {
		return nil, errs.Storagef(err, "insert task")
	}
	return t, nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT id, input, task_type, origin, status, created_at, started_at, completed_at, metadata
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var taskType, origin, startedAt, completedAt, metadata sql.NullString
	var createdAt string

	err := row.Scan(&t.ID, &t.Input, &taskType, &origin, &t.Status, &createdAt, &startedAt, &completedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("task not found: %s", t.ID)
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan task")
	}

	t.TaskType = taskType.String
	t.Origin = origin.String
	t.CreatedAt = mustParseTime(createdAt)
	if startedAt.Valid {
		ts := mustParseTime(startedAt.String)
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := mustParseTime(completedAt.String)
		t.CompletedAt = &ts
	}
	decodeJSONDefault("tasks.metadata", metadata.String, &t.Metadata)
	return &t, nil
}

// TaskUpdate is a partial update; zero-value fields are left unchanged
// unless their corresponding Set flag is true.
type TaskUpdate struct {
	Status         TaskStatus
	SetStatus      bool
	StartedAt      *time.Time
	SetStartedAt   bool
	CompletedAt    *time.Time
	SetCompletedAt bool
}

// UpdateTask applies a partial update, enforcing started_at >= created_at
// and completed_at >= started_at.
func (s *Store) UpdateTask(id string, upd TaskUpdate) error {
	existing, err := s.GetTask(id)
	if err != nil {
		return err
	}

	status := existing.Status
	if upd.SetStatus {
		status = upd.Status
	}
	startedAt := existing.StartedAt
	if upd.SetStartedAt {
		startedAt = upd.StartedAt
	}
	completedAt := existing.CompletedAt
	if upd.SetCompletedAt {
		completedAt = upd.CompletedAt
	}

	if startedAt != nil && startedAt.Before(existing.CreatedAt) {
		return errs.Validationf("started_at", nil, "started_at must be >= created_at")
	}
	if completedAt != nil && startedAt != nil && completedAt.Before(*startedAt) {
		return errs.Validationf("completed_at", nil, "completed_at must be >= started_at")
	}

	_, err = s.db.Exec(
		`UPDATE tasks SET status = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		status, formatTimePtr(startedAt), formatTimePtr(completedAt), id,
	)
	if err != nil {
		return errs.Storagef(err, "update task")
	}
	return nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(filter TaskListFilter) ([]*Task, error) {
	query := `SELECT id, input, task_type, origin, status, created_at, started_at, completed_at, metadata FROM tasks WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC"
	query = applyLimitOffset(query, &args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "list tasks")
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var t Task
		var taskType, origin, startedAt, completedAt, metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Input, &taskType, &origin, &t.Status, &createdAt, &startedAt, &completedAt, &metadata); err != nil {
			return nil, errs.Storagef(err, "scan task row")
		}
		t.TaskType = taskType.String
		t.Origin = origin.String
		t.CreatedAt = mustParseTime(createdAt)
		if startedAt.Valid {
			ts := mustParseTime(startedAt.String)
			t.StartedAt = &ts
		}
		if completedAt.Valid {
			ts := mustParseTime(completedAt.String)
			t.CompletedAt = &ts
		}
		decodeJSONDefault("tasks.metadata", metadata.String, &t.Metadata)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CountTasksForAgent counts distinct tasks that have at least one execution
// run by agentID — the bootstrap loader's "has this agent got history"
// signal.
func (s *Store) CountTasksForAgent(agentID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(DISTINCT task_id) FROM executions WHERE agent_id = ?`, agentID,
	).Scan(&count)
	if err != nil {
		return 0, errs.Storagef(err, "count tasks for agent")
	}
	return count, nil
}

func applyLimitOffset(query string, args *[]interface{}, limit, offset int) string {
	if limit > 0 {
		query += " LIMIT ?"
		*args = append(*args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		*args = append(*args, offset)
	}
	return query
}
