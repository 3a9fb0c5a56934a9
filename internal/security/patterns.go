// Package security implements the input/output security surface of the
// agent core: the pre-filter that classifies raw user text into threat
// families, the multi-stage guardrail that wraps it with conversation
// context and session termination, and the output filter that blocks
// leaked operating instructions and masks internal tool identifiers.
package security

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/techs-targe/PromptRig-sub001/patterns"
)

// ThreatCategory identifies a threat recognizer family.
type ThreatCategory string

const (
	CategoryDisclosure  ThreatCategory = "disclosure"
	CategoryEnumeration ThreatCategory = "enumeration"
	CategoryInjection   ThreatCategory = "injection"
)

// RecognizerFile is the top-level YAML structure for a threat recognizer file.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig is one threat family: a category, its regex patterns,
// and the fixed rejection returned on match.
type RecognizerConfig struct {
	Name      string   `yaml:"name"`
	Category  string   `yaml:"category"`
	Rejection string   `yaml:"rejection"`
	Patterns  []string `yaml:"patterns"`
	Enabled   *bool    `yaml:"enabled,omitempty"`
}

// isEnabled returns true if the recognizer is enabled (defaults to true when nil).
func (r *RecognizerConfig) isEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// LeakFile is the top-level YAML structure for an output leak recognizer file.
type LeakFile struct {
	Refusal     string `yaml:"refusal"`
	Recognizers []struct {
		Name     string   `yaml:"name"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"recognizers"`
}

// ThreatPattern is a compiled, ready-to-use threat detection pattern.
type ThreatPattern struct {
	Name      string
	Category  ThreatCategory
	Rejection string
	Pattern   *regexp.Regexp
}

// ParseRecognizerFile parses threat recognizer YAML bytes.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// LoadRecognizerFile reads and parses a recognizer YAML file from disk.
// Returns nil (not an error) if the file does not exist, so a missing
// operator override is a no-op.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// CompileThreatPatterns converts recognizer configs into compiled patterns,
// preserving file order. Family order is the evaluation order: the
// pre-filter stops at the first matching family.
func CompileThreatPatterns(recognizers []RecognizerConfig) ([]ThreatPattern, error) {
	var compiled []ThreatPattern
	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		for _, p := range rec.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %s: %w", p, rec.Name, err)
			}
			compiled = append(compiled, ThreatPattern{
				Name:      rec.Name,
				Category:  ThreatCategory(rec.Category),
				Rejection: rec.Rejection,
				Pattern:   re,
			})
		}
	}
	return compiled, nil
}

// DefaultRecognizers returns the built-in threat recognizers parsed from
// the embedded threats.yaml.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	rf, err := ParseRecognizerFile(patterns.ThreatsYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded threat patterns: %w", err)
	}
	return rf.Recognizers, nil
}

// DefaultThreatPatterns is the compiled default pattern set, built at init
// time from the embedded YAML.
var DefaultThreatPatterns []ThreatPattern

func init() {
	recs, err := DefaultRecognizers()
	if err != nil {
		panic(fmt.Sprintf("loading embedded threat patterns: %v", err))
	}
	compiled, err := CompileThreatPatterns(recs)
	if err != nil {
		panic(fmt.Sprintf("compiling embedded threat patterns: %v", err))
	}
	DefaultThreatPatterns = compiled
}
