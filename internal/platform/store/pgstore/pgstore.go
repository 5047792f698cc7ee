// Package pgstore keeps property documents in a single PostgreSQL table with
// a JSONB properties column.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/fhirbridge/internal/platform/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations returns the SQL migrations that create the documents table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// queryable is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db queryable
}

func New(db queryable) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, namespace string, props map[string]any) (*store.Document, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace is required", store.ErrConstraint)
	}
	raw, err := encodeProps(props)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO documents (id, namespace, properties, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, NOW(), NOW())
		 RETURNING `+documentCols,
		uuid.New(), namespace, raw)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *Store) Find(ctx context.Context, namespace, id string) (*store.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1 AND namespace = $2`, id, namespace)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return doc, nil
}

func (s *Store) Query(ctx context.Context, namespace string, preds []store.Predicate, page store.Page) ([]*store.Document, int, error) {
	q := newQuery(namespace)
	for _, p := range preds {
		if err := q.apply(p); err != nil {
			return nil, 0, err
		}
	}

	var total int
	if err := s.db.QueryRow(ctx, q.CountSQL(), q.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	sql, args := q.DataSQL(page)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

func (s *Store) Update(ctx context.Context, doc *store.Document, props map[string]any) (*store.Document, error) {
	raw, err := encodeProps(props)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx,
		`UPDATE documents SET properties = $1::jsonb, updated_at = NOW()
		 WHERE id = $2 AND namespace = $3
		 RETURNING `+documentCols,
		raw, doc.ID, doc.Namespace)
	updated, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update document: %w", err)
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, doc *store.Document) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND namespace = $2`, doc.ID, doc.Namespace)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeProps(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("%w: properties are not JSON: %v", store.ErrConstraint, err)
	}
	return string(raw), nil
}

func scanDocument(row pgx.Row) (*store.Document, error) {
	var (
		doc store.Document
		raw []byte
	)
	if err := row.Scan(&doc.ID, &doc.Namespace, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Properties = map[string]any{}
	if err := json.Unmarshal(raw, &doc.Properties); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	doc.CreatedAt = doc.CreatedAt.In(time.UTC)
	doc.UpdatedAt = doc.UpdatedAt.In(time.UTC)
	return &doc, nil
}
