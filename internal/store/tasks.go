package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Task lifecycle states.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskError     = "error"
	TaskCanceled  = "canceled"
)

// Task is the durable record of one background turn. ToolCalls holds the
// turn's tool invocations as a JSON list, written at completion.
type Task struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Input      string     `json:"input"`
	Model      string     `json:"model,omitempty"`
	Status     string     `json:"status"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	ToolCalls  string     `json:"tool_calls,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskError || t.Status == TaskCanceled
}

// CreateTask inserts a queued task record.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	ctx, span := tracer.Start(ctx, "store.task.create",
		trace.WithAttributes(attribute.String("task_id", t.ID)))
	defer span.End()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, session_id, input, model, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Input, t.Model, t.Status, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// MarkTaskRunning transitions a task to running and stamps started_at.
func (s *Store) MarkTaskRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, started_at = ? WHERE id = ?`, TaskRunning, now, id)
	if err != nil {
		return fmt.Errorf("marking task running: %w", err)
	}
	return nil
}

// FinishTask writes the terminal state of a task. errMsg is empty unless
// status is error; toolCalls is the turn's serialized tool-call log.
func (s *Store) FinishTask(ctx context.Context, id, status, result, errMsg, toolCalls string) error {
	ctx, span := tracer.Start(ctx, "store.task.finish",
		trace.WithAttributes(
			attribute.String("task_id", id),
			attribute.String("task.status", status),
		))
	defer span.End()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, error = ?, tool_calls = ?, finished_at = ? WHERE id = ?`,
		status, result, errMsg, toolCalls, now, id)
	if err != nil {
		return fmt.Errorf("finishing task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	var started, finished sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, input, model, status, result, error, tool_calls, created_at, started_at, finished_at
		 FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.SessionID, &t.Input, &t.Model, &t.Status, &t.Result, &t.Error, &t.ToolCalls, &t.CreatedAt, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if finished.Valid {
		t.FinishedAt = &finished.Time
	}
	return &t, nil
}

// ListTasks returns tasks for a session (all sessions when sessionID is
// empty), newest first.
func (s *Store) ListTasks(ctx context.Context, sessionID string, limit int) ([]Task, error) {
	query := `SELECT id, session_id, input, model, status, result, error, tool_calls, created_at, started_at, finished_at FROM tasks`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var started, finished sql.NullTime
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Input, &t.Model, &t.Status, &t.Result, &t.Error, &t.ToolCalls, &t.CreatedAt, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		if started.Valid {
			t.StartedAt = &started.Time
		}
		if finished.Valid {
			t.FinishedAt = &finished.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Event is one durable task event. Indices are gapless per task,
// starting at 0.
type Event struct {
	TaskID    string    `json:"task_id"`
	Index     int64     `json:"index"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendEvents writes a batch of events in one transaction.
func (s *Store) AppendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "store.events.append",
		trace.WithAttributes(attribute.Int("events.count", len(events))))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning event transaction: %w", err)
	}
	for _, ev := range events {
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_events (task_id, idx, type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
			ev.TaskID, ev.Index, ev.Type, ev.Payload, ev.CreatedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting event %d: %w", ev.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing events: %w", err)
	}
	return nil
}

// EventsSince returns events for a task with index >= since, ordered by
// index.
func (s *Store) EventsSince(ctx context.Context, taskID string, since int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, idx, type, payload, created_at FROM task_events
		 WHERE task_id = ? AND idx >= ? ORDER BY idx`, taskID, since)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.TaskID, &ev.Index, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
