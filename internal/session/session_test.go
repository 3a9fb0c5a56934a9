package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampIterations(t *testing.T) {
	assert.Equal(t, DefaultIterations, ClampIterations(0))
	assert.Equal(t, DefaultIterations, ClampIterations(-5))
	assert.Equal(t, MinIterations, ClampIterations(3))
	assert.Equal(t, 30, ClampIterations(30))
	assert.Equal(t, MaxIterationsCap, ClampIterations(500))
}

func TestSession_IterationCeiling(t *testing.T) {
	s := New("s1", "gpt-4o-mini", 0.7, 10)
	require.NoError(t, s.BeginTurn())

	for i := 1; i <= 10; i++ {
		n, ok := s.NextIteration()
		require.True(t, ok)
		assert.Equal(t, i, n)
	}
	n, ok := s.NextIteration()
	assert.False(t, ok)
	assert.Equal(t, 10, n)
}

func TestSession_BeginTurnResetsCounter(t *testing.T) {
	s := New("s1", "gpt-4o-mini", 0.7, 10)
	require.NoError(t, s.BeginTurn())
	s.NextIteration()
	s.NextIteration()

	require.NoError(t, s.BeginTurn())
	assert.Equal(t, 0, s.Iterations())
	assert.Equal(t, StatusActive, s.Status())
}

func TestSession_TerminatedIsAbsorbing(t *testing.T) {
	s := New("s1", "gpt-4o-mini", 0.7, 10)
	s.Terminate()

	assert.True(t, s.Terminated())
	assert.Equal(t, StatusTerminated, s.Status())
	assert.ErrorIs(t, s.BeginTurn(), ErrTerminated)

	err := s.SetStatus(StatusActive)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusTerminated, s.Status())

	// Re-asserting terminated is a no-op, not an error.
	assert.NoError(t, s.SetStatus(StatusTerminated))
}

func TestSession_StatusTransitions(t *testing.T) {
	s := New("s1", "gpt-4o-mini", 0.7, 10)

	require.NoError(t, s.SetStatus(StatusWaitingConfirmation))
	require.NoError(t, s.BeginTurn())
	assert.Equal(t, StatusActive, s.Status())
	require.NoError(t, s.SetStatus(StatusCompleted))
	require.NoError(t, s.BeginTurn())
	require.NoError(t, s.SetStatus(StatusError))
	require.NoError(t, s.BeginTurn())
}

func TestSession_ReplaceLastAssistant(t *testing.T) {
	s := New("s1", "gpt-4o-mini", 0.7, 10)
	s.Append(Message{Role: RoleUser, Content: "u1"})
	s.Append(Message{Role: RoleAssistant, Content: "a1"})
	s.Append(Message{Role: RoleTool, Content: "t1"})

	require.True(t, s.ReplaceLastAssistant("redacted"))
	msgs := s.Messages()
	assert.Equal(t, "redacted", msgs[1].Content)
	assert.Equal(t, "t1", msgs[2].Content)

	empty := New("s2", "gpt-4o-mini", 0.7, 10)
	assert.False(t, empty.ReplaceLastAssistant("x"))
}

func TestSession_RecentUserTexts(t *testing.T) {
	s := New("s1", "gpt-4o-mini", 0.7, 10)
	for _, c := range []string{"u1", "u2", "u3"} {
		s.Append(Message{Role: RoleUser, Content: c})
		s.Append(Message{Role: RoleAssistant, Content: "a"})
	}

	assert.Equal(t, []string{"u2", "u3"}, s.RecentUserTexts(2))
	assert.Equal(t, []string{"u1", "u2", "u3"}, s.RecentUserTexts(10))
}

func TestSession_LoadHistory(t *testing.T) {
	s := New("s1", "gpt-4o-mini", 0.7, 10)
	s.LoadHistory([]Message{
		{Role: RoleUser, Content: "前回の質問"},
		{Role: RoleAssistant, Content: "前回の回答"},
	})
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "前回の質問", msgs[0].Content)
}

func TestManager_GetOrCreate(t *testing.T) {
	m := NewManager()
	a := m.GetOrCreate("s1", "gpt-4o-mini", 0.7, 30)
	b := m.GetOrCreate("s1", "other-model", 0.1, 10)
	assert.Same(t, a, b)
	assert.Equal(t, "gpt-4o-mini", b.Model)

	_, ok := m.Get("missing")
	assert.False(t, ok)
	got, ok := m.Get("s1")
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestManager_PerSessionLock(t *testing.T) {
	m := NewManager()
	m.Lock("s1")
	done := make(chan struct{})
	go func() {
		m.Lock("s1")
		m.Unlock("s1")
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second lock acquired while first held")
	default:
	}
	m.Unlock("s1")
	<-done
}
