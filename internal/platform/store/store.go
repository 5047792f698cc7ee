// Package store defines the schemaless property store the FHIR surface is
// built on. A Document is an opaque property bag grouped by namespace; the
// backends (memory, pgstore, mongostore) agree on the predicate semantics in
// this package.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound   = errors.New("document not found")
	ErrConstraint = errors.New("constraint violation")
)

// Document is a stored property bag. ID and Namespace never change after creation.
type Document struct {
	ID         string
	Namespace  string
	Properties map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Page bounds a query. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

// Store is the property store boundary.
//
// Query returns matching documents ordered by creation time (oldest first)
// together with the total number of matches ignoring the page.
type Store interface {
	Create(ctx context.Context, namespace string, props map[string]any) (*Document, error)
	Find(ctx context.Context, namespace, id string) (*Document, error)
	Query(ctx context.Context, namespace string, preds []Predicate, page Page) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document, props map[string]any) (*Document, error)
	Delete(ctx context.Context, doc *Document) error
}

// Normalize converts props to the generic JSON form every backend stores:
// objects become map[string]any, arrays []any and numbers float64.
func Normalize(props map[string]any) (map[string]any, error) {
	if props == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("%w: properties are not JSON: %v", ErrConstraint, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return out, nil
}

// First returns the oldest document matching preds, or ErrNotFound.
func First(ctx context.Context, s Store, namespace string, preds ...Predicate) (*Document, error) {
	docs, _, err := s.Query(ctx, namespace, preds, Page{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}
