package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateTask(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO ingest_tasks").
		WithArgs("fs", "notes/a.md", TaskStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("task-1", now, now))

	task, err := st.CreateTask(context.Background(), "fs", "notes/a.md")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID != "task-1" || task.Status != TaskStatusPending {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestMarkTaskRunningRequiresPending(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE ingest_tasks SET status").
		WithArgs("task-1", TaskStatusRunning, TaskStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.MarkTaskRunning(context.Background(), "task-1"); err == nil {
		t.Fatalf("claiming a non-pending task must fail")
	}
}

func TestMarkTaskRunningClaimsPendingTask(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE ingest_tasks SET status").
		WithArgs("task-1", TaskStatusRunning, TaskStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.MarkTaskRunning(context.Background(), "task-1"); err != nil {
		t.Fatalf("MarkTaskRunning: %v", err)
	}
}

func TestGetTaskDecodesResult(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT id, source_type, source_id, status").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_type", "source_id", "status", "error", "result", "created_at", "updated_at"}).
			AddRow("task-1", "fs", "notes/a.md", TaskStatusSucceeded, nil, []byte(`{"segments_written":3}`), now, now))

	task, found, err := st.GetTask(context.Background(), "task-1")
	if err != nil || !found {
		t.Fatalf("GetTask: found=%v err=%v", found, err)
	}
	if task.Result["segments_written"] != float64(3) {
		t.Fatalf("result payload not decoded: %+v", task.Result)
	}
}
