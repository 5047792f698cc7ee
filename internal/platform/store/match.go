package store

import (
	"fmt"
	"strings"
	"time"
)

// Values returns every value reachable from props through path. Arrays met
// along the way, including at the leaf, are flattened.
func Values(props map[string]any, path string) []any {
	cur := []any{props}
	for _, seg := range SplitPath(path) {
		var next []any
		for _, v := range flatten(cur) {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if child, ok := m[seg]; ok && child != nil {
				next = append(next, child)
			}
		}
		cur = next
	}
	return flatten(cur)
}

func flatten(vals []any) []any {
	var out []any
	for _, v := range vals {
		if arr, ok := v.([]any); ok {
			out = append(out, flatten(arr)...)
			continue
		}
		out = append(out, v)
	}
	return out
}

// Matches reports whether doc satisfies every predicate.
func Matches(doc *Document, preds []Predicate) bool {
	for _, p := range preds {
		if !match(doc, p) {
			return false
		}
	}
	return true
}

func match(doc *Document, p Predicate) bool {
	switch p := p.(type) {
	case IDIn:
		for _, id := range p.IDs {
			if id == doc.ID {
				return true
			}
		}
		return false
	case UpdatedAt:
		return compareTime(doc.UpdatedAt, p.Op, p.At)
	case UpdatedBetween:
		return !doc.UpdatedAt.Before(p.From) && !doc.UpdatedAt.After(p.To)
	case Equals:
		want := normalizeScalar(p.Value)
		for _, v := range Values(doc.Properties, p.Path) {
			if equalJSON(v, want) {
				return true
			}
		}
		return false
	case ContainsText:
		needle := strings.ToLower(p.Text)
		for _, path := range p.Paths {
			for _, v := range Values(doc.Properties, path) {
				if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
					return true
				}
			}
		}
		return false
	case ArrayContains:
		for _, v := range Values(doc.Properties, p.Path) {
			if m, ok := v.(map[string]any); ok && superset(m, p.Element) {
				return true
			}
		}
		return false
	case Compare:
		for _, v := range Values(doc.Properties, p.Path) {
			if s, ok := v.(string); ok && compareString(s, p.Op, p.Value) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("store: unknown predicate %T", p))
	}
}

func compareTime(a time.Time, op Op, b time.Time) bool {
	switch op {
	case OpEq:
		return a.Equal(b)
	case OpNe:
		return !a.Equal(b)
	case OpGt:
		return a.After(b)
	case OpLt:
		return a.Before(b)
	case OpGe:
		return !a.Before(b)
	case OpLe:
		return !a.After(b)
	}
	return false
}

func compareString(a string, op Op, b string) bool {
	c := strings.Compare(a, b)
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpLt:
		return c < 0
	case OpGe:
		return c >= 0
	case OpLe:
		return c <= 0
	}
	return false
}

// superset reports whether every key in want is present in have with an
// equal value. Nested objects are compared recursively and nested arrays
// match when each wanted element is contained in the stored array.
func superset(have, want map[string]any) bool {
	for k, w := range want {
		h, ok := have[k]
		if !ok {
			return false
		}
		if !contains(h, w) {
			return false
		}
	}
	return true
}

func contains(have, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		h, ok := have.(map[string]any)
		return ok && superset(h, w)
	case []any:
		h, ok := have.([]any)
		if !ok {
			return false
		}
		for _, we := range w {
			found := false
			for _, he := range h {
				if contains(he, we) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return equalJSON(have, normalizeScalar(want))
	}
}

func equalJSON(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
