package security

import (
	"github.com/rs/zerolog/log"
)

// CheckResult is the outcome of a pre-filter check.
type CheckResult struct {
	Threat    bool
	Category  ThreatCategory
	Pattern   string // recognizer name that matched
	Rejection string // fixed rejection for the matched family, empty when clean
}

// PreFilter classifies raw user text against ordered threat pattern
// families. First match wins. The pre-filter is purely regex based and
// never calls the completion service, so it cannot itself be prompted.
type PreFilter struct {
	patterns []ThreatPattern
}

// NewPreFilter creates a pre-filter over the given compiled patterns.
// Pass DefaultThreatPatterns for the built-in set.
func NewPreFilter(pats []ThreatPattern) *PreFilter {
	return &PreFilter{patterns: pats}
}

// Check scans text against all pattern families in order and returns the
// first match. Disclosure phrasing is matched broadly on purpose: a false
// positive costs one rejected turn, a false negative leaks instructions.
func (f *PreFilter) Check(text string) CheckResult {
	for _, p := range f.patterns {
		if p.Pattern.MatchString(text) {
			log.Warn().
				Str("recognizer", p.Name).
				Str("category", string(p.Category)).
				Msg("security_prefilter_hit")
			return CheckResult{
				Threat:    true,
				Category:  p.Category,
				Pattern:   p.Name,
				Rejection: p.Rejection,
			}
		}
	}
	return CheckResult{}
}
