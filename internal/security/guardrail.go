package security

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Verdict is the outcome of a guardrail check over one incoming turn.
type Verdict struct {
	Rejected         bool
	Category         ThreatCategory
	Rejection        string
	TerminateSession bool
}

// Guardrail layers the pre-filter with conversation context and strike
// escalation. It runs before intent classification on every turn:
//
//	stage 1: pre-filter over the current user text
//	stage 2: injection scan over the current text joined with recent user
//	         messages, catching payloads split across turns
//	stage 3: strike escalation — repeated threats within the window
//	         terminate the session permanently
type Guardrail struct {
	prefilter *PreFilter
	strikes   *StrikeTracker
}

// NewGuardrail creates a guardrail over the given pre-filter and tracker.
func NewGuardrail(prefilter *PreFilter, strikes *StrikeTracker) *Guardrail {
	return &Guardrail{prefilter: prefilter, strikes: strikes}
}

// recentWindow bounds how many prior user messages stage 2 considers.
const recentWindow = 5

// Check evaluates the guardrail stages for one turn. recentUserTexts is
// the user side of the recent history, oldest first.
func (g *Guardrail) Check(sessionID string, recentUserTexts []string, text string) Verdict {
	res := g.prefilter.Check(text)

	if !res.Threat && len(recentUserTexts) > 0 {
		// Stage 2: a payload split across turns only becomes a match when
		// the fragments are adjacent again.
		start := 0
		if len(recentUserTexts) > recentWindow {
			start = len(recentUserTexts) - recentWindow
		}
		joined := strings.Join(append(append([]string{}, recentUserTexts[start:]...), text), "\n")
		if ctxRes := g.prefilter.Check(joined); ctxRes.Threat && ctxRes.Category == CategoryInjection {
			res = ctxRes
		}
	}

	if !res.Threat {
		return Verdict{}
	}

	terminate := g.strikes.RecordThreat(sessionID)
	if terminate {
		log.Warn().
			Str("session_id", sessionID).
			Str("category", string(res.Category)).
			Msg("guardrail_terminating_session")
	}
	return Verdict{
		Rejected:         true,
		Category:         res.Category,
		Rejection:        res.Rejection,
		TerminateSession: terminate,
	}
}
