// Package patterns provides embedded default threat recognizer definitions.
// YAML files in this directory use a recognizer format: each recognizer
// names a threat family, lists its regex patterns, and carries the fixed
// rejection message returned to the user on match.
package patterns

import _ "embed"

//go:embed threats.yaml
var threatsYAML []byte

//go:embed leaks.yaml
var leaksYAML []byte

// ThreatsYAML returns the embedded default input threat recognizers.
func ThreatsYAML() []byte { return threatsYAML }

// LeaksYAML returns the embedded default output leak recognizers.
func LeaksYAML() []byte { return leaksYAML }
