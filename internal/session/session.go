// Package session holds conversation state for the agent core: ordered
// message history, the per-turn iteration counter, and the status state
// machine. Sessions are created per conversation and never deleted by
// the core.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the session state machine value.
//
//	active → waiting_confirmation | completed | error | terminated
//	waiting_confirmation → active | terminated
//	completed, error → active (next turn) | terminated
//	terminated is absorbing.
type Status string

const (
	StatusActive              Status = "active"
	StatusWaitingConfirmation Status = "waiting_confirmation"
	StatusCompleted           Status = "completed"
	StatusError               Status = "error"
	StatusTerminated          Status = "terminated"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Iteration ceiling bounds. The configured ceiling is clamped into this
// range wherever it enters the system.
const (
	MinIterations     = 10
	MaxIterationsCap  = 99
	DefaultIterations = 30
)

var (
	ErrTerminated        = errors.New("session is terminated")
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// ToolInvocation is one tool call requested by the model, with its result
// once executed or denied.
type ToolInvocation struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result,omitempty"`
}

// Message is one conversation message. Append-only, except that the
// output filter may redact assistant content in place so history matches
// what the user actually saw.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Session is one conversation. All mutation goes through methods that
// hold the session mutex; the task runner additionally serializes whole
// turns per session id.
type Session struct {
	ID            string
	Model         string
	Temperature   float64
	MaxIterations int

	mu         sync.Mutex
	messages   []Message
	iterations int // current turn's iteration counter
	status     Status
	terminated bool
	lastIntent interface{} // *intent.Intent; stored opaque to avoid a dependency cycle
}

// New creates an active session. maxIterations is clamped to [10, 99].
func New(id, model string, temperature float64, maxIterations int) *Session {
	return &Session{
		ID:            id,
		Model:         model,
		Temperature:   temperature,
		MaxIterations: ClampIterations(maxIterations),
		status:        StatusActive,
	}
}

// ClampIterations clamps a configured ceiling into [MinIterations, MaxIterationsCap].
func ClampIterations(n int) int {
	if n < MinIterations {
		if n <= 0 {
			return DefaultIterations
		}
		return MinIterations
	}
	if n > MaxIterationsCap {
		return MaxIterationsCap
	}
	return n
}

// Append adds a message to the history.
func (s *Session) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	s.messages = append(s.messages, m)
}

// Messages returns a copy of the history.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ReplaceLastAssistant overwrites the content of the most recent assistant
// message. Used by the output filter so history matches the filtered text.
func (s *Session) ReplaceLastAssistant(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAssistant {
			s.messages[i].Content = content
			return true
		}
	}
	return false
}

// RecentUserTexts returns up to n most recent user message texts, oldest
// first.
func (s *Session) RecentUserTexts(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var texts []string
	for _, m := range s.messages {
		if m.Role == RoleUser {
			texts = append(texts, m.Content)
		}
	}
	if len(texts) > n {
		texts = texts[len(texts)-n:]
	}
	return texts
}

// LoadHistory seeds the session with persisted messages. Used when a new
// background task continues a prior conversation.
func (s *Session) LoadHistory(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]Message{}, msgs...)
}

// BeginTurn resets the iteration counter and moves the session to active.
// Returns ErrTerminated if the session can no longer process turns.
func (s *Session) BeginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return ErrTerminated
	}
	s.iterations = 0
	s.status = StatusActive
	return nil
}

// NextIteration increments the per-turn counter and reports whether the
// turn may continue. The counter never exceeds MaxIterations.
func (s *Session) NextIteration() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.iterations >= s.MaxIterations {
		return s.iterations, false
	}
	s.iterations++
	return s.iterations, true
}

// Iterations returns the current turn's iteration counter.
func (s *Session) Iterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterations
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Terminated reports whether the session is permanently terminated.
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// SetStatus transitions the state machine. Terminated is absorbing:
// transitions out of it fail.
func (s *Session) SetStatus(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated && next != StatusTerminated {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, next)
	}
	if next == StatusTerminated {
		s.terminated = true
	}
	s.status = next
	return nil
}

// Terminate marks the session permanently terminated. Set only by a
// guardrail verdict.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	s.status = StatusTerminated
}

// SetLastIntent stores the most recent classified intent.
func (s *Session) SetLastIntent(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastIntent = v
}

// LastIntent returns the most recent classified intent, if any.
func (s *Session) LastIntent() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIntent
}
