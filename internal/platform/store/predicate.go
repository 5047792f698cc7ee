package store

import (
	"strings"
	"time"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpGt Op = ">"
	OpLt Op = "<"
	OpGe Op = ">="
	OpLe Op = "<="
)

// Predicate is one conjunct of a query. Paths are dot separated and traverse
// arrays implicitly: a path matches when any value reachable through it
// satisfies the predicate.
type Predicate interface {
	predicate()
}

// IDIn matches documents whose id is one of IDs.
type IDIn struct {
	IDs []string
}

// UpdatedAt compares the document's update time with At.
type UpdatedAt struct {
	Op Op
	At time.Time
}

// UpdatedBetween matches update times in the inclusive range [From, To].
type UpdatedBetween struct {
	From time.Time
	To   time.Time
}

// Equals matches when any value at Path equals Value.
type Equals struct {
	Path  string
	Value any
}

// ContainsText is a case-insensitive substring match against the string
// values found at any of Paths.
type ContainsText struct {
	Paths []string
	Text  string
}

// ArrayContains matches when an element reachable at Path is a superset of Element.
type ArrayContains struct {
	Path    string
	Element map[string]any
}

// Compare applies a lexical comparison to the string values at Path. ISO 8601
// timestamps in a common zone compare correctly this way; values with mixed
// offsets do not.
type Compare struct {
	Path  string
	Op    Op
	Value string
}

func (IDIn) predicate()           {}
func (UpdatedAt) predicate()      {}
func (UpdatedBetween) predicate() {}
func (Equals) predicate()         {}
func (ContainsText) predicate()   {}
func (ArrayContains) predicate()  {}
func (Compare) predicate()        {}

// SplitPath splits a dot path into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
