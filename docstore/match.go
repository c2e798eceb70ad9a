package docstore

import (
	"strings"
	"time"
)

// =============================================================================
// PREDICATE MATCHING - Type-faithful value comparison
// =============================================================================

// Matches reports whether the document satisfies every predicate.
func Matches(d Doc, q Query) bool {
	for _, p := range q.Predicates {
		v, ok := d[p.Field]
		if !ok {
			return false
		}
		if !predMatch(v, p) {
			return false
		}
	}
	return true
}

func predMatch(v any, p Predicate) bool {
	c, comparable := Compare(v, p.Value)
	if !comparable {
		return false
	}
	switch p.Op {
	case OpEq:
		return c == 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	default:
		return false
	}
}

// Compare orders two scalar values. The second result is false when the
// values are of different kinds: cross-kind comparisons never match, so
// a timestamp-typed day is invisible to a string range and vice versa.
func Compare(a, b any) (int, bool) {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bv):
			return -1, true
		case av.After(bv):
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
