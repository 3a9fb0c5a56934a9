package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/techs-targe/PromptRig-sub001/internal/policy"
	"github.com/techs-targe/PromptRig-sub001/internal/store"
)

// NewTestStore creates a store in a temp dir and registers t.Cleanup to
// close it.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "promptrig.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// MemoryAuditSink implements policy.AuditSink in memory for tests that
// don't need a database.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []auditEntry
}

type auditEntry struct {
	SessionID string
	Decision  *policy.Decision
}

func (s *MemoryAuditSink) AppendAudit(_ context.Context, sessionID string, d *policy.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, auditEntry{SessionID: sessionID, Decision: d})
	return nil
}

// Outcomes returns the decision outcomes recorded for a session, in order.
func (s *MemoryAuditSink) Outcomes(sessionID string) []policy.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []policy.Outcome
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			out = append(out, e.Decision.Outcome)
		}
	}
	return out
}

// Len returns the total number of recorded decisions.
func (s *MemoryAuditSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
