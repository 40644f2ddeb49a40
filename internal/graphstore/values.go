package graphstore

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoerceValue converts v into the canonical Go representation for dt:
// int64 for long, float64 for double, bool for boolean and string for string.
func CoerceValue(dt DataType, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value for %s attribute", dt)
	}
	switch dt {
	case DataTypeLong:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint32:
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("value %v is not integral", x)
			}
			return int64(x), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not a long", x)
			}
			return n, nil
		}
	case DataTypeDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}
	case DataTypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case DataTypeString, "":
		switch x := v.(type) {
		case string:
			return x, nil
		case fmt.Stringer:
			return x.String(), nil
		case int, int32, int64, float64, bool:
			return fmt.Sprint(x), nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, dt)
}

// TypeLookup resolves a label to its definition.
type TypeLookup func(label string) (TypeDef, bool)

// IsA reports whether label equals ancestor or inherits from it through sup links.
func IsA(lookup TypeLookup, label, ancestor string) bool {
	seen := map[string]bool{}
	for label != "" && !seen[label] {
		if label == ancestor {
			return true
		}
		seen[label] = true
		def, ok := lookup(label)
		if !ok {
			return false
		}
		label = def.Sup
	}
	return false
}

// Lineage returns label followed by its supertypes, nearest first.
func Lineage(lookup TypeLookup, label string) []string {
	var out []string
	seen := map[string]bool{}
	for label != "" && !seen[label] {
		seen[label] = true
		out = append(out, label)
		def, ok := lookup(label)
		if !ok {
			break
		}
		label = def.Sup
	}
	return out
}

// EffectiveOwns is the union of attribute types owned by label and its supertypes.
func EffectiveOwns(lookup TypeLookup, label string) map[string]bool {
	out := map[string]bool{}
	for _, l := range Lineage(lookup, label) {
		def, _ := lookup(l)
		for _, a := range def.Owns {
			out[a] = true
		}
	}
	return out
}

// EffectiveRelates is the union of roles declared by a relation type and its supertypes.
func EffectiveRelates(lookup TypeLookup, label string) map[string]bool {
	out := map[string]bool{}
	for _, l := range Lineage(lookup, label) {
		def, _ := lookup(l)
		for _, r := range def.Relates {
			out[r] = true
		}
	}
	return out
}
