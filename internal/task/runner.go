// Package task runs agent turns in the background: a fixed-size worker
// pool, a cooperative cancellation flag per task, a gapless per-task
// event log, and the durable task-record lifecycle. A worker panic is
// contained to its task; the pool survives.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/techs-targe/PromptRig-sub001/internal/agent"
	prigotel "github.com/techs-targe/PromptRig-sub001/internal/otel"
	"github.com/techs-targe/PromptRig-sub001/internal/session"
	"github.com/techs-targe/PromptRig-sub001/internal/store"
)

var tracer = prigotel.Tracer("github.com/techs-targe/PromptRig-sub001/internal/task")

var (
	ErrQueueFull    = errors.New("task queue is full")
	ErrRunnerClosed = errors.New("task runner is stopped")
)

const queueCapacity = 256

// Request is one background turn submission.
type Request struct {
	TaskID        string
	SessionID     string
	UserText      string
	Model         string
	Temperature   float64
	MaxIterations int
}

type work struct {
	req    Request
	cancel *atomic.Bool
	events *EventLog
}

// Runner owns the worker pool.
type Runner struct {
	engine     *agent.Engine
	sessions   *session.Manager
	st         *store.Store
	flushEvery int

	queue chan *work
	wg    sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*work // task id -> in-flight or queued work
	stopped bool
}

// NewRunner creates the pool and starts workerCount workers.
func NewRunner(engine *agent.Engine, sessions *session.Manager, st *store.Store, workerCount, flushEvery int) *Runner {
	if workerCount < 1 {
		workerCount = 1
	}
	r := &Runner{
		engine:     engine,
		sessions:   sessions,
		st:         st,
		flushEvery: flushEvery,
		queue:      make(chan *work, queueCapacity),
		active:     make(map[string]*work),
	}
	for i := 0; i < workerCount; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	log.Info().Int("workers", workerCount).Msg("task_runner_started")
	return r
}

// Submit creates the durable task record and enqueues the turn.
func (r *Runner) Submit(ctx context.Context, req Request) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	w := &work{
		req:    req,
		cancel: &atomic.Bool{},
		events: NewEventLog(r.st, req.TaskID, r.flushEvery),
	}
	r.active[req.TaskID] = w
	r.mu.Unlock()

	if err := r.st.CreateTask(ctx, &store.Task{
		ID:        req.TaskID,
		SessionID: req.SessionID,
		Input:     req.UserText,
		Model:     req.Model,
	}); err != nil {
		r.forget(req.TaskID)
		return fmt.Errorf("recording task: %w", err)
	}

	// The enqueue holds the same mutex Stop takes before closing the
	// queue, so a concurrent Stop can never close it mid-send.
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.forget(req.TaskID)
		if err := r.st.FinishTask(ctx, req.TaskID, store.TaskError, "", "task runner is stopped", ""); err != nil {
			log.Error().Err(err).Str("task_id", req.TaskID).Msg("task_finish_failed")
		}
		return ErrRunnerClosed
	}
	select {
	case r.queue <- w:
		r.mu.Unlock()
		return nil
	default:
		r.mu.Unlock()
		r.forget(req.TaskID)
		if err := r.st.FinishTask(ctx, req.TaskID, store.TaskError, "", "task queue is full", ""); err != nil {
			log.Error().Err(err).Str("task_id", req.TaskID).Msg("task_finish_failed")
		}
		return ErrQueueFull
	}
}

// Cancel flips the cooperative flag for a queued or running task.
// Implements the cancel surface the built-in cancel_task tool uses.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.active[taskID]
	if !ok {
		return false
	}
	w.cancel.Store(true)
	return true
}

// Events returns a task's events from sinceIndex. Running tasks serve
// from the live log; finished tasks fall back to the store.
func (r *Runner) Events(ctx context.Context, taskID string, since int64) ([]store.Event, error) {
	r.mu.Lock()
	w, ok := r.active[taskID]
	r.mu.Unlock()
	if ok {
		return w.events.Since(ctx, since)
	}
	return r.st.EventsSince(ctx, taskID, since)
}

// Stop drains the queue and waits for in-flight tasks.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.queue)
	r.wg.Wait()
	log.Info().Msg("task_runner_stopped")
}

func (r *Runner) forget(taskID string) {
	r.mu.Lock()
	delete(r.active, taskID)
	r.mu.Unlock()
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for w := range r.queue {
		r.runTask(w)
	}
}

// logSink adapts the event log to the engine's Sink.
type logSink struct {
	ctx    context.Context
	events *EventLog
}

func (s *logSink) Emit(eventType, payload string) {
	s.events.Append(s.ctx, eventType, payload)
}

// runTask executes one turn to a terminal task status. Panics are
// converted to an error status and never reach the pool.
func (r *Runner) runTask(w *work) {
	ctx, span := tracer.Start(context.Background(), "task.run",
		trace.WithAttributes(
			attribute.String("task_id", w.req.TaskID),
			attribute.String("session_id", w.req.SessionID),
		))
	defer span.End()
	defer r.forget(w.req.TaskID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("task_id", w.req.TaskID).
				Interface("panic", rec).
				Msg("task_panicked")
			w.events.Append(ctx, "error", "internal error")
			r.finish(ctx, w, store.TaskError, "", fmt.Sprintf("panic: %v", rec), "")
		}
	}()

	if w.cancel.Load() {
		w.events.Append(ctx, "status", "canceled")
		r.finish(ctx, w, store.TaskCanceled, "", "", "")
		return
	}

	if err := r.st.MarkTaskRunning(ctx, w.req.TaskID); err != nil {
		log.Error().Err(err).Str("task_id", w.req.TaskID).Msg("task_start_failed")
	}
	w.events.Append(ctx, "status", "running")

	sess := r.sessions.GetOrCreate(w.req.SessionID, w.req.Model, w.req.Temperature, w.req.MaxIterations)
	r.sessions.Lock(w.req.SessionID)
	defer r.sessions.Unlock(w.req.SessionID)

	// A fresh in-memory session continues any persisted conversation
	// submitted under the same session id.
	if len(sess.Messages()) == 0 {
		if msgs, err := r.st.LoadMessages(ctx, w.req.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", w.req.SessionID).Msg("history_load_failed")
		} else if len(msgs) > 0 {
			sess.LoadHistory(msgs)
		}
	}

	turnStart := len(sess.Messages())
	text, err := r.engine.Run(ctx, sess, w.req.UserText,
		w.cancel.Load,
		&logSink{ctx: ctx, events: w.events},
	)
	toolCalls := turnToolCalls(sess.Messages()[turnStart:])

	if errors.Is(err, agent.ErrCanceled) {
		w.events.Append(ctx, "status", "canceled")
		r.finish(ctx, w, store.TaskCanceled, "", "", toolCalls)
		return
	}

	if saveErr := r.st.SaveMessages(ctx, w.req.SessionID, sess.Messages()); saveErr != nil {
		log.Error().Err(saveErr).Str("session_id", w.req.SessionID).Msg("history_save_failed")
	}

	// The cancel flag is checked once more after the engine returns so a
	// late cancel is acknowledged rather than silently ignored.
	if w.cancel.Load() {
		w.events.Append(ctx, "status", "canceled")
		r.finish(ctx, w, store.TaskCanceled, text, "", toolCalls)
		return
	}

	if sess.Status() == session.StatusError {
		w.events.Append(ctx, "error", text)
		r.finish(ctx, w, store.TaskError, text, "completion failed", toolCalls)
		return
	}

	w.events.Append(ctx, "completion", text)
	r.finish(ctx, w, store.TaskCompleted, text, "", toolCalls)
}

// turnToolCalls serializes a turn's tool invocations to a JSON list,
// merging each call's result from its matching tool message.
func turnToolCalls(msgs []session.Message) string {
	var calls []session.ToolInvocation
	byID := make(map[string]int)
	for _, m := range msgs {
		switch m.Role {
		case session.RoleAssistant:
			for _, c := range m.ToolCalls {
				byID[c.ID] = len(calls)
				calls = append(calls, c)
			}
		case session.RoleTool:
			if i, ok := byID[m.ToolCallID]; ok && calls[i].Result == "" {
				calls[i].Result = m.Content
			}
		}
	}
	if len(calls) == 0 {
		return ""
	}
	b, err := json.Marshal(calls)
	if err != nil {
		log.Warn().Err(err).Msg("tool_call_log_encode_failed")
		return ""
	}
	return string(b)
}

// finish writes the terminal record and flushes the event log.
func (r *Runner) finish(ctx context.Context, w *work, status, result, errMsg, toolCalls string) {
	if err := r.st.FinishTask(ctx, w.req.TaskID, status, result, errMsg, toolCalls); err != nil {
		log.Error().Err(err).Str("task_id", w.req.TaskID).Msg("task_finish_failed")
	}
	if err := w.events.Flush(ctx); err != nil {
		log.Warn().Err(err).Str("task_id", w.req.TaskID).Msg("final_event_flush_failed")
	}
	log.Info().
		Str("task_id", w.req.TaskID).
		Str("status", status).
		Msg("task_finished")
}
