package fhir

import (
	"strings"
	"time"

	"github.com/ehr/fhirbridge/internal/platform/store"
)

// SearchPrefix represents a FHIR search prefix for ordered values.
type SearchPrefix string

const (
	PrefixEq SearchPrefix = "eq"
	PrefixNe SearchPrefix = "ne"
	PrefixGt SearchPrefix = "gt"
	PrefixLt SearchPrefix = "lt"
	PrefixGe SearchPrefix = "ge"
	PrefixLe SearchPrefix = "le"
	PrefixSa SearchPrefix = "sa" // starts after
	PrefixEb SearchPrefix = "eb" // ends before
)

// ParsedSearch holds a parsed search parameter value with its prefix.
type ParsedSearch struct {
	Prefix SearchPrefix
	Value  string
}

// ParseSearchValue extracts the prefix from a FHIR search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "2023" -> (eq, "2023")
func ParseSearchValue(raw string) ParsedSearch {
	if len(raw) >= 2 {
		prefix := SearchPrefix(strings.ToLower(raw[:2]))
		switch prefix {
		case PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe, PrefixSa, PrefixEb:
			return ParsedSearch{Prefix: prefix, Value: raw[2:]}
		}
	}
	return ParsedSearch{Prefix: PrefixEq, Value: raw}
}

func (p SearchPrefix) op() store.Op {
	switch p {
	case PrefixGt, PrefixSa:
		return store.OpGt
	case PrefixLt, PrefixEb:
		return store.OpLt
	case PrefixGe:
		return store.OpGe
	case PrefixLe:
		return store.OpLe
	case PrefixNe:
		return store.OpNe
	default:
		return store.OpEq
	}
}

// ParseDate parses a date literal in one of the FHIR-supported precisions,
// always in UTC. Failures are reported as *BadRequestError.
func ParseDate(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006-01",
		"2006",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &BadRequestError{Message: "Invalid date format: " + s}
}

// dayBounds returns the first and last instant of t's calendar day.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24*time.Hour - time.Nanosecond)
}

// LastUpdatedPredicate compiles a _lastUpdated value. Without a prefix (or
// with eq) it selects the whole calendar day of the parsed date.
func LastUpdatedPredicate(raw string) (store.Predicate, error) {
	parsed := ParseSearchValue(raw)
	t, err := ParseDate(parsed.Value)
	if err != nil {
		return nil, err
	}
	if parsed.Prefix == PrefixEq {
		from, to := dayBounds(t)
		return store.UpdatedBetween{From: from, To: to}, nil
	}
	return store.UpdatedAt{Op: parsed.Prefix.op(), At: t}, nil
}

// DatePredicates compiles a date parameter against a string-valued
// dateTime property. eq selects the day; the other prefixes compare against
// the parsed instant. The literal is rendered in UTC and compared lexically,
// so stored values are only ordered correctly when they are also in UTC;
// a value such as 2024-03-05T01:00:00+05:00 is compared as written.
func DatePredicates(path, raw string) ([]store.Predicate, error) {
	parsed := ParseSearchValue(raw)
	t, err := ParseDate(parsed.Value)
	if err != nil {
		return nil, err
	}
	if parsed.Prefix == PrefixEq {
		from, _ := dayBounds(t)
		return []store.Predicate{
			store.Compare{Path: path, Op: store.OpGe, Value: from.Format("2006-01-02")},
			store.Compare{Path: path, Op: store.OpLt, Value: from.AddDate(0, 0, 1).Format("2006-01-02")},
		}, nil
	}
	return []store.Predicate{store.Compare{Path: path, Op: parsed.Prefix.op(), Value: t.Format(time.RFC3339)}}, nil
}

// TokenPredicate matches "system|code", "|code", "system|" or "code" against
// the codings found at path.
func TokenPredicate(path, value string) store.Predicate {
	system, code, hasPipe := strings.Cut(value, "|")
	if !hasPipe {
		return store.Equals{Path: path + ".code", Value: value}
	}
	elem := map[string]any{}
	if system != "" {
		elem["system"] = system
	}
	if code != "" {
		elem["code"] = code
	}
	return store.ArrayContains{Path: path, Element: elem}
}

// IdentifierPredicate matches "system|value" or "value" against an
// identifier array.
func IdentifierPredicate(path, value string) store.Predicate {
	system, v, hasPipe := strings.Cut(value, "|")
	if !hasPipe {
		return store.ArrayContains{Path: path, Element: map[string]any{"value": value}}
	}
	elem := map[string]any{}
	if system != "" {
		elem["system"] = system
	}
	if v != "" {
		elem["value"] = v
	}
	return store.ArrayContains{Path: path, Element: elem}
}

// ReferencePredicate matches a reference parameter. A bare id is widened to
// "<targetType>/<id>".
func ReferencePredicate(path, targetType, value string) store.Predicate {
	if !strings.Contains(value, "/") && targetType != "" {
		value = targetType + "/" + value
	}
	return store.Equals{Path: path + ".reference", Value: value}
}
