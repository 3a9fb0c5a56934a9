package security

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StrikeTracker counts security threats per session within a sliding
// window. When a session accumulates threshold strikes inside the window,
// the guardrail escalates from per-turn rejection to permanent session
// termination. Only pre-filter hits feed the tracker; ordinary policy
// denials do not.
type StrikeTracker struct {
	mu        sync.Mutex
	sessions  map[string][]time.Time
	threshold int
	window    time.Duration
}

// NewStrikeTracker creates a tracker.
// threshold <= 0 defaults to 3; window <= 0 defaults to 10 minutes.
func NewStrikeTracker(threshold int, window time.Duration) *StrikeTracker {
	if threshold <= 0 {
		threshold = 3
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &StrikeTracker{
		sessions:  make(map[string][]time.Time),
		threshold: threshold,
		window:    window,
	}
}

// RecordThreat records a strike for the session and reports whether the
// threshold has been reached within the window.
func (t *StrikeTracker) RecordThreat(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-t.window)
	kept := t.sessions[sessionID][:0]
	for _, s := range t.sessions[sessionID] {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, now)
	t.sessions[sessionID] = kept

	if len(kept) >= t.threshold {
		log.Warn().
			Str("session_id", sessionID).
			Int("strikes", len(kept)).
			Dur("window", t.window).
			Msg("security_strike_threshold_reached")
		return true
	}
	return false
}

// Strikes returns the current strike count within the window for a session.
func (t *StrikeTracker) Strikes(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.window)
	count := 0
	for _, s := range t.sessions[sessionID] {
		if s.After(cutoff) {
			count++
		}
	}
	return count
}

// Forget drops all strikes for a session. Used when a session is deleted.
func (t *StrikeTracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}
