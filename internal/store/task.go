package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Ingest task statuses.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// Task tracks one asynchronous ingestion submission from enqueue to result.
type Task struct {
	ID         string
	SourceType string
	SourceID   string
	Status     string
	Error      string
	Result     map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateTask records a pending ingestion task and returns it.
func (s *Store) CreateTask(ctx context.Context, sourceType, sourceID string) (Task, error) {
	if sourceType == "" || sourceID == "" {
		return Task{}, fmt.Errorf("source_type and source_id required")
	}
	var task Task
	task.SourceType = sourceType
	task.SourceID = sourceID
	task.Status = TaskStatusPending
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO ingest_tasks (source_type, source_id, status)
VALUES ($1,$2,$3)
RETURNING id, created_at, updated_at
`, sourceType, sourceID, TaskStatusPending).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, mapConstraintErr(fmt.Errorf("insert ingest task: %w", err))
	}
	return task, nil
}

// GetTask fetches one task by identifier.
func (s *Store) GetTask(ctx context.Context, id string) (Task, bool, error) {
	if id == "" {
		return Task{}, false, fmt.Errorf("task id required")
	}
	var (
		task        Task
		errMsg      sql.NullString
		resultBytes []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, source_type, source_id, status, error, result, created_at, updated_at
FROM ingest_tasks
WHERE id=$1
`, id).Scan(&task.ID, &task.SourceType, &task.SourceID, &task.Status, &errMsg, &resultBytes, &task.CreatedAt, &task.UpdatedAt)
	if err == sql.ErrNoRows {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("select ingest task: %w", err)
	}
	if errMsg.Valid {
		task.Error = errMsg.String
	}
	if len(resultBytes) > 0 {
		_ = json.Unmarshal(resultBytes, &task.Result)
	}
	return task, true, nil
}

// MarkTaskRunning transitions a pending task to running.
func (s *Store) MarkTaskRunning(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE ingest_tasks SET status=$2, updated_at=NOW() WHERE id=$1 AND status=$3
`, id, TaskStatusRunning, TaskStatusPending)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark task running: task %s not pending", id)
	}
	return nil
}

// CompleteTask records a successful result payload.
func (s *Store) CompleteTask(ctx context.Context, id string, result map[string]interface{}) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `
UPDATE ingest_tasks SET status=$2, result=$3, error='', updated_at=NOW() WHERE id=$1
`, id, TaskStatusSucceeded, resultBytes); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// FailTask records a task failure without discarding any partial result.
func (s *Store) FailTask(ctx context.Context, id, message string) error {
	if _, err := s.DB.ExecContext(ctx, `
UPDATE ingest_tasks SET status=$2, error=$3, updated_at=NOW() WHERE id=$1
`, id, TaskStatusFailed, message); err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

// ListTasks pages tasks newest-first using the same opaque cursor scheme as
// document listings.
func (s *Store) ListTasks(ctx context.Context, cursor string, limit int) ([]Task, int, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, 0, "", err
	}

	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_tasks`).Scan(&total); err != nil {
		return nil, 0, "", fmt.Errorf("count ingest tasks: %w", err)
	}

	var lastID, lastSort interface{}
	if cur.LastID != "" {
		lastID = cur.LastID
		lastSort = cur.SortKey
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, source_type, source_id, status, error, result, created_at, updated_at
FROM ingest_tasks
WHERE ($1::uuid IS NULL OR (created_at, id) < ($2::timestamptz, $1::uuid))
ORDER BY created_at DESC, id DESC
LIMIT $3
`, lastID, lastSort, limit+1)
	if err != nil {
		return nil, 0, "", fmt.Errorf("select ingest tasks page: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			task        Task
			errMsg      sql.NullString
			resultBytes []byte
		)
		if err := rows.Scan(&task.ID, &task.SourceType, &task.SourceID, &task.Status, &errMsg,
			&resultBytes, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, 0, "", fmt.Errorf("scan ingest task: %w", err)
		}
		if errMsg.Valid {
			task.Error = errMsg.String
		}
		if len(resultBytes) > 0 {
			_ = json.Unmarshal(resultBytes, &task.Result)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, "", err
	}

	next := ""
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = Cursor{LastID: last.ID, SortKey: last.CreatedAt}.Encode()
	}
	return out, total, next, nil
}
