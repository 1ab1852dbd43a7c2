package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/riverrun/agentcp/internal/tasks"
)

// taskStore implements tasks.Store over the same database the rest of Store
// uses, so a background tool's task row survives the same restart its
// triggering session does. Cancellation still needs an in-process cancel
// func, which can't be persisted -- it is lost across a restart, matching
// the teacher's in-memory task stores which have the same limitation.
type taskStore struct {
	db *sql.DB

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (s *taskStore) Create(ctx context.Context, task *tasks.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, tool_name, tool_call_id, mode, status, created_at, started_at, finished_at, result, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, '')`,
		task.ID, task.ToolName, task.ToolCallID, task.Mode, task.Status, task.CreatedAt, task.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *taskStore) Update(ctx context.Context, task *tasks.Task) error {
	var resultJSON sql.NullString
	if task.Result != nil {
		b, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("marshal task result: %w", err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}
	var finishedAt sql.NullTime
	if !task.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: task.FinishedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, finished_at = ?, result = ?, error = ? WHERE id = ?`,
		task.Status, finishedAt, resultJSON, task.Error, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (s *taskStore) Get(ctx context.Context, id string) (*tasks.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tool_name, tool_call_id, mode, status, created_at, started_at, finished_at, result, error FROM tasks WHERE id = ?`,
		id,
	)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

func (s *taskStore) List(ctx context.Context, limit, offset int) ([]*tasks.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool_name, tool_call_id, mode, status, created_at, started_at, finished_at, result, error
		 FROM tasks ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []*tasks.Task{}
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: scan: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *taskStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ?, finished_at = ? WHERE id = ? AND status = ?`,
		tasks.StatusFailed, "task cancelled", time.Now(), id, tasks.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return nil
}

func (s *taskStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status != ? AND finished_at IS NOT NULL AND finished_at < ?`,
		tasks.StatusRunning, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return n, err
}

// SetCancelFunc attaches an in-process cancellation hook for a running task,
// satisfying the same informal interface internal/dispatch looks for on
// tasks.Store implementations.
func (s *taskStore) SetCancelFunc(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancels == nil {
		s.cancels = make(map[string]context.CancelFunc)
	}
	s.cancels[id] = cancel
}

func scanTask(row *sql.Row) (*tasks.Task, error) {
	task := &tasks.Task{}
	var finishedAt sql.NullTime
	var result, taskErr sql.NullString
	if err := row.Scan(&task.ID, &task.ToolName, &task.ToolCallID, &task.Mode, &task.Status,
		&task.CreatedAt, &task.StartedAt, &finishedAt, &result, &taskErr); err != nil {
		return nil, err
	}
	applyTaskScan(task, finishedAt, result, taskErr)
	return task, nil
}

func scanTaskRows(rows *sql.Rows) (*tasks.Task, error) {
	task := &tasks.Task{}
	var finishedAt sql.NullTime
	var result, taskErr sql.NullString
	if err := rows.Scan(&task.ID, &task.ToolName, &task.ToolCallID, &task.Mode, &task.Status,
		&task.CreatedAt, &task.StartedAt, &finishedAt, &result, &taskErr); err != nil {
		return nil, err
	}
	applyTaskScan(task, finishedAt, result, taskErr)
	return task, nil
}

func applyTaskScan(task *tasks.Task, finishedAt sql.NullTime, result, taskErr sql.NullString) {
	if finishedAt.Valid {
		task.FinishedAt = finishedAt.Time
	}
	if result.Valid && result.String != "" {
		_ = json.Unmarshal([]byte(result.String), &task.Result)
	}
	if taskErr.Valid {
		task.Error = taskErr.String
	}
}
