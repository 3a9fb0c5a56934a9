// Package policy implements tool-permission policy for the agent core:
// the two-tier permission classifier, the argument validator, and the
// policy engine that composes them with a per-session confirmation
// protocol and an embedded OPA deny layer.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ArgKind tags a node in the argument value tree.
type ArgKind int

const (
	KindNull ArgKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// ArgValue is a tagged value tree for tool-call arguments. Tool arguments
// arrive from the model as loosely typed JSON; holding them in a tagged
// tree keeps depth/size validation and canonical hashing independent of
// map iteration order.
type ArgValue struct {
	Kind ArgKind
	Str  string
	Num  float64
	Bool bool
	List []ArgValue
	Map  map[string]ArgValue
}

// FromAny converts a decoded JSON value into an ArgValue tree.
// Unsupported Go types are stringified rather than rejected; the
// validator decides what is acceptable.
func FromAny(v interface{}) ArgValue {
	switch t := v.(type) {
	case nil:
		return ArgValue{Kind: KindNull}
	case string:
		return ArgValue{Kind: KindString, Str: t}
	case bool:
		return ArgValue{Kind: KindBool, Bool: t}
	case float64:
		return ArgValue{Kind: KindNumber, Num: t}
	case int:
		return ArgValue{Kind: KindNumber, Num: float64(t)}
	case int64:
		return ArgValue{Kind: KindNumber, Num: float64(t)}
	case []interface{}:
		list := make([]ArgValue, 0, len(t))
		for _, e := range t {
			list = append(list, FromAny(e))
		}
		return ArgValue{Kind: KindList, List: list}
	case map[string]interface{}:
		m := make(map[string]ArgValue, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return ArgValue{Kind: KindMap, Map: m}
	default:
		return ArgValue{Kind: KindString, Str: fmt.Sprintf("%v", t)}
	}
}

// FromArgs converts a tool-call argument map into an ArgValue tree.
func FromArgs(args map[string]interface{}) ArgValue {
	m := make(map[string]ArgValue, len(args))
	for k, v := range args {
		m[k] = FromAny(v)
	}
	return ArgValue{Kind: KindMap, Map: m}
}

// Depth returns the nesting depth of the tree. A scalar has depth 1.
func (a ArgValue) Depth() int {
	switch a.Kind {
	case KindList:
		max := 0
		for _, e := range a.List {
			if d := e.Depth(); d > max {
				max = d
			}
		}
		return 1 + max
	case KindMap:
		max := 0
		for _, e := range a.Map {
			if d := e.Depth(); d > max {
				max = d
			}
		}
		return 1 + max
	default:
		return 1
	}
}

// Canonical renders the tree in a deterministic form: map keys sorted,
// numbers in minimal notation. Two argument maps that decode to the same
// values always canonicalize identically, which is what makes the
// confirmed-call hash stable across turns.
func (a ArgValue) Canonical() string {
	var b strings.Builder
	a.writeCanonical(&b)
	return b.String()
}

func (a ArgValue) writeCanonical(b *strings.Builder) {
	switch a.Kind {
	case KindNull:
		b.WriteString("null")
	case KindString:
		b.WriteString(strconv.Quote(a.Str))
	case KindNumber:
		b.WriteString(strconv.FormatFloat(a.Num, 'g', -1, 64))
	case KindBool:
		b.WriteString(strconv.FormatBool(a.Bool))
	case KindList:
		b.WriteByte('[')
		for i, e := range a.List {
			if i > 0 {
				b.WriteByte(',')
			}
			e.writeCanonical(b)
		}
		b.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(a.Map))
		for k := range a.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			v := a.Map[k]
			v.writeCanonical(b)
		}
		b.WriteByte('}')
	default:
		b.WriteString("null")
	}
}

// visit walks every node, calling fn with each scalar's byte size and
// each map key. Used by the validator for size accounting.
func (a ArgValue) visit(fn func(fieldBytes int, value string)) {
	switch a.Kind {
	case KindString:
		fn(len(a.Str), a.Str)
	case KindNumber, KindBool, KindNull:
		fn(8, "")
	case KindList:
		for _, e := range a.List {
			e.visit(fn)
		}
	case KindMap:
		for k, e := range a.Map {
			fn(len(k), k)
			e.visit(fn)
		}
	}
}

// CallHash returns the stable hash of (toolName, canonicalized arguments)
// used as the confirmed-call key.
func CallHash(toolName string, args ArgValue) string {
	h := sha256.Sum256([]byte(toolName + "\x00" + args.Canonical()))
	return hex.EncodeToString(h[:])
}
