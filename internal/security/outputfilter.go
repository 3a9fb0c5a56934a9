package security

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/techs-targe/PromptRig-sub001/patterns"
)

// OutputFilter sanitizes model output before it reaches the user. Two
// independent passes run in order:
//
//  1. Leak detection — if any internal instruction-section marker appears,
//     the entire output is replaced with a fixed refusal. No partial
//     redaction: redacting in place would reveal where the confidential
//     sections sit.
//  2. Identifier masking — every internal tool name is replaced with its
//     registered public label, longest name first, word-boundary safe.
//
// Filtering is idempotent: the refusal text matches no leak pattern and
// public labels are never themselves internal tool names.
type OutputFilter struct {
	leakPatterns []*regexp.Regexp
	refusal      string
	maskers      []masker
}

type masker struct {
	re    *regexp.Regexp
	label string
}

// NewOutputFilter builds a filter from the embedded leak recognizers and
// the given internal-name → public-label map.
func NewOutputFilter(labels map[string]string) (*OutputFilter, error) {
	var lf LeakFile
	if err := parseLeakFile(patterns.LeaksYAML(), &lf); err != nil {
		return nil, err
	}

	f := &OutputFilter{refusal: lf.Refusal}
	for _, rec := range lf.Recognizers {
		for _, p := range rec.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compiling leak pattern %q in %s: %w", p, rec.Name, err)
			}
			f.leakPatterns = append(f.leakPatterns, re)
		}
	}

	// Longest-first so "delete_project_tag" masks before "delete_project".
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling mask pattern for %q: %w", name, err)
		}
		f.maskers = append(f.maskers, masker{re: re, label: labels[name]})
	}
	return f, nil
}

// Filter applies both passes and reports whether the text changed.
func (f *OutputFilter) Filter(text string) (string, bool) {
	for _, re := range f.leakPatterns {
		if re.MatchString(text) {
			log.Warn().Str("pattern", re.String()).Msg("output_leak_blocked")
			if text == f.refusal {
				return text, false
			}
			return f.refusal, true
		}
	}

	out := text
	for _, m := range f.maskers {
		out = m.re.ReplaceAllString(out, m.label)
	}
	return out, out != text
}

// Refusal returns the fixed replacement used when a leak is detected.
func (f *OutputFilter) Refusal() string { return f.refusal }

func parseLeakFile(data []byte, lf *LeakFile) error {
	if err := yaml.Unmarshal(data, lf); err != nil {
		return fmt.Errorf("parsing embedded leak patterns: %w", err)
	}
	if lf.Refusal == "" {
		return fmt.Errorf("leak pattern file has no refusal message")
	}
	return nil
}
