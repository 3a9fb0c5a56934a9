package task

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/techs-targe/PromptRig-sub001/internal/store"
)

// EventLog is the per-task append-only event log. Indices are gapless
// from 0. Entries buffer in memory and flush to the store every
// flushEvery appends and unconditionally at task completion; reads merge
// the durable prefix with the unflushed tail.
type EventLog struct {
	st         *store.Store
	taskID     string
	flushEvery int

	mu      sync.Mutex
	next    int64         // index of the next event appended
	flushed int64         // all indices below this are durable
	buf     []store.Event // unflushed tail, indices [flushed, next)
}

// NewEventLog creates an empty log for one task.
func NewEventLog(st *store.Store, taskID string, flushEvery int) *EventLog {
	if flushEvery <= 0 {
		flushEvery = 10
	}
	return &EventLog{st: st, taskID: taskID, flushEvery: flushEvery}
}

// Append records one event. Flushing happens inline when the buffer
// reaches the threshold; a flush failure keeps the events buffered for
// the next attempt.
func (l *EventLog) Append(ctx context.Context, eventType, payload string) {
	l.mu.Lock()
	l.buf = append(l.buf, store.Event{
		TaskID:    l.taskID,
		Index:     l.next,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	l.next++
	shouldFlush := len(l.buf) >= l.flushEvery
	l.mu.Unlock()

	if shouldFlush {
		if err := l.Flush(ctx); err != nil {
			log.Warn().Err(err).Str("task_id", l.taskID).Msg("event_flush_failed")
		}
	}
}

// Flush writes the buffered tail to the store.
func (l *EventLog) Flush(ctx context.Context) error {
	l.mu.Lock()
	if len(l.buf) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := make([]store.Event, len(l.buf))
	copy(batch, l.buf)
	l.mu.Unlock()

	if err := l.st.AppendEvents(ctx, batch); err != nil {
		return err
	}

	l.mu.Lock()
	// Only drop what this flush covered; appends may have raced in.
	high := batch[len(batch)-1].Index + 1
	var kept []store.Event
	for _, ev := range l.buf {
		if ev.Index >= high {
			kept = append(kept, ev)
		}
	}
	l.buf = kept
	if high > l.flushed {
		l.flushed = high
	}
	l.mu.Unlock()
	return nil
}

// Since returns events with index >= since, in order. The durable prefix
// and the in-memory tail are stitched together so readers never observe
// a gap.
func (l *EventLog) Since(ctx context.Context, since int64) ([]store.Event, error) {
	l.mu.Lock()
	flushed := l.flushed
	tail := make([]store.Event, 0, len(l.buf))
	for _, ev := range l.buf {
		if ev.Index >= since {
			tail = append(tail, ev)
		}
	}
	l.mu.Unlock()

	if since >= flushed {
		return tail, nil
	}
	durable, err := l.st.EventsSince(ctx, l.taskID, since)
	if err != nil {
		return nil, err
	}
	// The durable read may already include part of the tail if a flush
	// landed between the snapshot and the query.
	var out []store.Event
	seen := int64(since) - 1
	for _, ev := range durable {
		if ev.Index > seen {
			out = append(out, ev)
			seen = ev.Index
		}
	}
	for _, ev := range tail {
		if ev.Index > seen {
			out = append(out, ev)
			seen = ev.Index
		}
	}
	return out, nil
}
