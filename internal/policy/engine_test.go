package policy

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures decisions per session for assertions.
type recordingSink struct {
	mu        sync.Mutex
	decisions map[string][]*Decision
}

func (s *recordingSink) AppendAudit(_ context.Context, sessionID string, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decisions == nil {
		s.decisions = make(map[string][]*Decision)
	}
	s.decisions[sessionID] = append(s.decisions[sessionID], d)
	return nil
}

func (s *recordingSink) outcomes(sessionID string) []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Outcome
	for _, d := range s.decisions[sessionID] {
		out = append(out, d.Outcome)
	}
	return out
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	e, err := NewEngine(context.Background(), NewValidator(), sink, opts)
	require.NoError(t, err)
	return e, sink
}

func TestEngine_ReadOnlyAllowed(t *testing.T) {
	e, sink := newTestEngine(t, Options{})

	d := e.Evaluate(context.Background(), "list_projects", nil, "s1", false)
	assert.Equal(t, Allow, d.Outcome)
	assert.Equal(t, TierReadOnly, d.Tier)
	assert.Equal(t, []Outcome{Allow}, sink.outcomes("s1"))
}

func TestEngine_DestructiveNeedsConfirmation(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	d := e.Evaluate(context.Background(), "delete_project", map[string]interface{}{"project_id": float64(3)}, "s1", false)
	require.Equal(t, NeedsConfirmation, d.Outcome)
	assert.Equal(t, TierDestructive, d.Tier)

	// The prompt shows the public label and never the internal name.
	assert.NotContains(t, d.ConfirmPrompt, "delete_project")
	assert.Contains(t, d.ConfirmPrompt, "プロジェクト削除")
	assert.Contains(t, d.ConfirmPrompt, "はい")

	p, ok := e.Pending("s1")
	require.True(t, ok)
	assert.Equal(t, "delete_project", p.Tool)
}

func TestEngine_ResolveApproveThenAllow(t *testing.T) {
	e, sink := newTestEngine(t, Options{})
	args := map[string]interface{}{"project_id": float64(3)}

	d := e.Evaluate(context.Background(), "delete_project", args, "s1", false)
	require.Equal(t, NeedsConfirmation, d.Outcome)

	p, ok := e.Resolve("s1", true)
	require.True(t, ok)
	assert.Equal(t, "delete_project", p.Tool)

	// The pending slot is consumed.
	_, ok = e.Pending("s1")
	assert.False(t, ok)

	// Re-evaluating the identical call now lands ALLOW in the audit trail.
	d = e.Evaluate(context.Background(), "delete_project", args, "s1", false)
	assert.Equal(t, Allow, d.Outcome)
	assert.Equal(t, []Outcome{NeedsConfirmation, Allow}, sink.outcomes("s1"))
}

func TestEngine_ResolveDecline(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	args := map[string]interface{}{"project_id": float64(3)}

	e.Evaluate(context.Background(), "delete_project", args, "s1", false)
	_, ok := e.Resolve("s1", false)
	require.True(t, ok)

	// A declined call still requires confirmation next time.
	d := e.Evaluate(context.Background(), "delete_project", args, "s1", false)
	assert.Equal(t, NeedsConfirmation, d.Outcome)
}

func TestEngine_ConfirmationScopedToArgs(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	e.Evaluate(context.Background(), "delete_project", map[string]interface{}{"project_id": float64(3)}, "s1", false)
	_, ok := e.Resolve("s1", true)
	require.True(t, ok)

	// Same tool, different target: confirmation does not carry over.
	d := e.Evaluate(context.Background(), "delete_project", map[string]interface{}{"project_id": float64(4)}, "s1", false)
	assert.Equal(t, NeedsConfirmation, d.Outcome)
}

func TestEngine_SessionIsolation(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	args := map[string]interface{}{"project_id": float64(3)}

	e.Evaluate(context.Background(), "delete_project", args, "a", false)
	_, ok := e.Resolve("a", true)
	require.True(t, ok)

	// Session b never confirmed anything.
	d := e.Evaluate(context.Background(), "delete_project", args, "b", false)
	assert.Equal(t, NeedsConfirmation, d.Outcome)
}

func TestEngine_ConfirmedFlagBypassesPrompt(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	d := e.Evaluate(context.Background(), "delete_tag", map[string]interface{}{"tag_id": float64(1)}, "s1", true)
	assert.Equal(t, Allow, d.Outcome)
}

func TestEngine_ValidationDenies(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	d := e.Evaluate(context.Background(), "create_prompt", map[string]interface{}{
		"content": "<script>alert(1)</script>",
	}, "s1", false)
	assert.Equal(t, Deny, d.Outcome)
	assert.Contains(t, d.Reason, "injection")
}

func TestEngine_ValidationRunsBeforeConfirmation(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	// A destructive call with bad arguments is DENY, not NEEDS_CONFIRMATION,
	// and leaves no pending slot.
	d := e.Evaluate(context.Background(), "delete_project", map[string]interface{}{
		"reason": strings.Repeat("x", DefaultMaxFieldBytes+1),
	}, "s1", false)
	assert.Equal(t, Deny, d.Outcome)
	_, ok := e.Pending("s1")
	assert.False(t, ok)
}

func TestEngine_UnknownToolDefault(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	d := e.Evaluate(context.Background(), "drop_database", nil, "s1", false)
	assert.Equal(t, Allow, d.Outcome)
	assert.Equal(t, TierReadOnly, d.Tier)
}

func TestEngine_UnknownToolDeny(t *testing.T) {
	e, _ := newTestEngine(t, Options{UnknownToolDeny: true})

	d := e.Evaluate(context.Background(), "drop_database", nil, "s1", false)
	assert.Equal(t, Deny, d.Outcome)
	assert.Contains(t, d.Reason, "drop_database")
}

func TestEngine_BlockedToolsDenyLayer(t *testing.T) {
	e, _ := newTestEngine(t, Options{BlockedTools: []string{"run_workflow"}})

	d := e.Evaluate(context.Background(), "run_workflow", map[string]interface{}{"workflow_id": float64(1)}, "s1", false)
	assert.Equal(t, Deny, d.Outcome)
	assert.NotEmpty(t, d.Reason)

	// Other tools are unaffected.
	d = e.Evaluate(context.Background(), "list_projects", nil, "s1", false)
	assert.Equal(t, Allow, d.Outcome)
}

func TestEngine_ClearSession(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	args := map[string]interface{}{"project_id": float64(3)}

	e.Evaluate(context.Background(), "delete_project", args, "s1", false)
	_, ok := e.Resolve("s1", true)
	require.True(t, ok)

	e.ClearSession("s1")
	d := e.Evaluate(context.Background(), "delete_project", args, "s1", false)
	assert.Equal(t, NeedsConfirmation, d.Outcome)
}

func TestEngine_PendingSlotOverwritten(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	e.Evaluate(context.Background(), "delete_project", map[string]interface{}{"project_id": float64(1)}, "s1", false)
	e.Evaluate(context.Background(), "delete_prompt", map[string]interface{}{"prompt_id": float64(2)}, "s1", false)

	p, ok := e.Pending("s1")
	require.True(t, ok)
	assert.Equal(t, "delete_prompt", p.Tool)
}
