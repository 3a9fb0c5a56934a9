package policy

import (
	"errors"
	"fmt"
	"regexp"
)

// Validation limits. Aggregate and per-field ceilings bound what a model
// can smuggle through tool arguments; the depth ceiling bounds work done
// canonicalizing and hashing.
const (
	DefaultMaxTotalBytes = 32 * 1024
	DefaultMaxFieldBytes = 8 * 1024
	DefaultMaxDepth      = 8
)

var (
	ErrArgsTooLarge  = errors.New("arguments exceed size ceiling")
	ErrFieldTooLarge = errors.New("argument field exceeds size ceiling")
	ErrTooDeep       = errors.New("arguments nested too deeply")
	ErrInjection     = errors.New("argument value matches injection denylist")
)

// injectionDenylist matches values that have no business inside platform
// tool arguments: script tags, inline event handlers, eval-like calls.
var injectionDenylist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)\bon(load|click|error|mouseover|focus|submit)\s*=`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bnew\s+Function\s*\(`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bdocument\s*\.\s*(cookie|write)`),
}

// Validator performs structural and content checks on tool-call arguments.
// Validation runs before permission lookup; a failure is a DENY that
// short-circuits classification.
type Validator struct {
	MaxTotalBytes int
	MaxFieldBytes int
	MaxDepth      int
}

// NewValidator creates a validator with the default ceilings.
func NewValidator() *Validator {
	return &Validator{
		MaxTotalBytes: DefaultMaxTotalBytes,
		MaxFieldBytes: DefaultMaxFieldBytes,
		MaxDepth:      DefaultMaxDepth,
	}
}

// Validate returns nil when args pass all checks, or a wrapped sentinel
// error naming the first violation.
func (v *Validator) Validate(args ArgValue) error {
	if d := args.Depth(); d > v.MaxDepth {
		return fmt.Errorf("%w: depth %d > %d", ErrTooDeep, d, v.MaxDepth)
	}

	total := 0
	var violation error
	args.visit(func(fieldBytes int, value string) {
		total += fieldBytes
		if violation != nil {
			return
		}
		if fieldBytes > v.MaxFieldBytes {
			violation = fmt.Errorf("%w: field of %d bytes > %d", ErrFieldTooLarge, fieldBytes, v.MaxFieldBytes)
			return
		}
		if value != "" {
			for _, re := range injectionDenylist {
				if re.MatchString(value) {
					violation = fmt.Errorf("%w: %s", ErrInjection, re.String())
					return
				}
			}
		}
	})
	if violation != nil {
		return violation
	}
	if total > v.MaxTotalBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrArgsTooLarge, total, v.MaxTotalBytes)
	}
	return nil
}
