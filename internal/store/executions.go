package store

import (
	"database/sql"
	"time"

	"github.com/agentevolve/evocore/internal/idgen"
	"github.com/agentevolve/evocore/internal/store/errs"
)

// CreateExecution inserts a new attempt for taskID, computing attempt_number
// atomically as count(executions by task) + 1 inside a transaction so
// concurrent attempts for the same task never collide.
func (s *Store) CreateExecution(taskID, agentID, agentType string) (*Execution, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errs.Storagef(err, "begin create execution")
	}
	defer tx.Rollback()

	var taskStatus TaskStatus
	if err := tx.QueryRow("SELECT status FROM tasks WHERE id = ?", taskID).Scan(&taskStatus); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("task not found: %s", taskID)
		}
		return nil, errs.Storagef(err, "lookup task")
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM executions WHERE task_id = ?", taskID).Scan(&count); err != nil {
		return nil, errs.Storagef(err, "count executions")
	}

	e := &Execution{
		ID:            idgen.New(),
		TaskID:        taskID,
		AttemptNumber: count + 1,
		AgentID:       agentID,
		AgentType:     agentType,
		Status:        ExecRunning,
		StartedAt:     time.Now().UTC(),
	}

	if _, err := tx.Exec(
		`INSERT INTO executions (id, task_id, attempt_number, agent_id, agent_type, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.AttemptNumber, e.AgentID, e.AgentType, e.Status, formatTime(e.StartedAt),
	); err != nil {
		return nil, errs.Storagef(err, "insert execution")
	}

	if taskStatus == TaskPending {
		if _, err := tx.Exec("UPDATE tasks SET status = ?, started_at = ? WHERE id = ?",
			TaskRunning, formatTime(e.StartedAt), taskID); err != nil {
			return nil, errs.Storagef(err, "mark task running")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Storagef(err, "commit create execution")
	}
	return e, nil
}

// GetExecution loads an execution by id.
func (s *Store) GetExecution(id string) (*Execution, error) {
	row := s.db.QueryRow(
		`SELECT id, task_id, attempt_number, agent_id, agent_type, status, started_at, completed_at, result, error
		 FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

func scanExecution(row *sql.Row) (*Execution, error) {
	var e Execution
	var agentID, agentType, completedAt, result, errField sql.NullString
	var startedAt string

	err := row.Scan(&e.ID, &e.TaskID, &e.AttemptNumber, &agentID, &agentType, &e.Status, &startedAt, &completedAt, &result, &errField)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("execution not found")
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan execution")
	}

	e.AgentID = agentID.String
	e.AgentType = agentType.String
	e.StartedAt = mustParseTime(startedAt)
	if completedAt.Valid {
		ts := mustParseTime(completedAt.String)
		e.CompletedAt = &ts
	}
	e.Result = result.String
	e.Error = errField.String
	return &e, nil
}

// UpdateExecutionResult marks an execution terminal with a result or error.
func (s *Store) UpdateExecutionResult(id string, status ExecutionStatus, result, execErr string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE executions SET status = ?, completed_at = ?, result = ?, error = ? WHERE id = ?`,
		status, formatTime(now), result, execErr, id,
	)
	if err != nil {
		return errs.Storagef(err, "update execution result")
	}
	return nil
}

// ListExecutions returns every attempt for a task, ordered by attempt number.
func (s *Store) ListExecutions(taskID string) ([]*Execution, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, attempt_number, agent_id, agent_type, status, started_at, completed_at, result, error
		 FROM executions WHERE task_id = ? ORDER BY attempt_number ASC`, taskID)
	if err != nil {
		return nil, errs.Storagef(err, "list executions")
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var e Execution
		var agentID, agentType, completedAt, result, errField sql.NullString
		var startedAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.AttemptNumber, &agentID, &agentType, &e.Status, &startedAt, &completedAt, &result, &errField); err != nil {
			return nil, errs.Storagef(err, "scan execution row")
		}
		e.AgentID = agentID.String
		e.AgentType = agentType.String
		e.StartedAt = mustParseTime(startedAt)
		if completedAt.Valid {
			ts := mustParseTime(completedAt.String)
			e.CompletedAt = &ts
		}
		e.Result = result.String
		e.Error = errField.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
