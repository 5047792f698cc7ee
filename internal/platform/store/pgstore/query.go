package pgstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/fhirbridge/internal/platform/store"
)

const documentCols = "id::text, namespace, properties, created_at, updated_at"

var sqlOps = map[store.Op]string{
	store.OpEq: "=",
	store.OpNe: "<>",
	store.OpGt: ">",
	store.OpLt: "<",
	store.OpGe: ">=",
	store.OpLe: "<=",
}

// query accumulates a WHERE clause with positional arguments.
type query struct {
	where []string
	args  []interface{}
}

func newQuery(namespace string) *query {
	q := &query{}
	q.where = append(q.where, "namespace = "+q.arg(namespace))
	return q
}

// arg binds v and returns its placeholder.
func (q *query) arg(v interface{}) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) apply(p store.Predicate) error {
	switch p := p.(type) {
	case store.IDIn:
		var ids []string
		for _, id := range p.IDs {
			if _, err := uuid.Parse(id); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			q.where = append(q.where, "FALSE")
			return nil
		}
		q.where = append(q.where, fmt.Sprintf("id = ANY(%s::uuid[])", q.arg(ids)))
	case store.UpdatedAt:
		op, ok := sqlOps[p.Op]
		if !ok {
			return fmt.Errorf("unsupported operator %q", p.Op)
		}
		q.where = append(q.where, fmt.Sprintf("updated_at %s %s", op, q.arg(p.At)))
	case store.UpdatedBetween:
		q.where = append(q.where, fmt.Sprintf("updated_at BETWEEN %s AND %s", q.arg(p.From), q.arg(p.To)))
	case store.Equals:
		raw, err := json.Marshal(p.Value)
		if err != nil {
			return fmt.Errorf("encode value for %s: %w", p.Path, err)
		}
		q.where = append(q.where, fmt.Sprintf(
			"jsonb_path_exists(properties, %s::jsonpath, jsonb_build_object('v', %s::jsonb))",
			q.arg(jsonPath(p.Path)+" ? (@ == $v)"), q.arg(string(raw))))
	case store.ContainsText:
		pattern := "%" + escapeLike(p.Text) + "%"
		var ors []string
		for _, path := range p.Paths {
			ors = append(ors, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM jsonb_path_query(properties, %s::jsonpath) AS v WHERE jsonb_typeof(v) = 'string' AND v #>> '{}' ILIKE %s)",
				q.arg(jsonPath(path)), q.arg(pattern)))
		}
		if len(ors) == 0 {
			q.where = append(q.where, "FALSE")
			return nil
		}
		q.where = append(q.where, "("+strings.Join(ors, " OR ")+")")
	case store.ArrayContains:
		raw, err := json.Marshal(p.Element)
		if err != nil {
			return fmt.Errorf("encode element for %s: %w", p.Path, err)
		}
		q.where = append(q.where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_path_query(properties, %s::jsonpath) AS v WHERE v @> %s::jsonb)",
			q.arg(jsonPath(p.Path)), q.arg(string(raw))))
	case store.Compare:
		op, ok := sqlOps[p.Op]
		if !ok {
			return fmt.Errorf("unsupported operator %q", p.Op)
		}
		q.where = append(q.where, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM jsonb_path_query(properties, %s::jsonpath) AS v WHERE jsonb_typeof(v) = 'string' AND (v #>> '{}') COLLATE "C" %s %s)`,
			q.arg(jsonPath(p.Path)), op, q.arg(p.Value)))
	default:
		return fmt.Errorf("unsupported predicate %T", p)
	}
	return nil
}

func (q *query) whereSQL() string {
	return strings.Join(q.where, " AND ")
}

// CountSQL returns the count query SQL.
func (q *query) CountSQL() string {
	return "SELECT COUNT(*) FROM documents WHERE " + q.whereSQL()
}

// DataSQL returns the paged data query. Limit 0 leaves the result unbounded.
func (q *query) DataSQL(page store.Page) (string, []interface{}) {
	sql := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY created_at, id", documentCols, q.whereSQL())
	args := append([]interface{}{}, q.args...)
	if page.Limit > 0 {
		args = append(args, page.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return sql, args
}

// jsonPath renders a dot path as a lax-mode SQL/JSON path that unwraps arrays
// at every step, e.g. "name.given" -> $."name"[*]."given"[*].
func jsonPath(path string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range store.SplitPath(path) {
		b.WriteString(`."`)
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(seg))
		b.WriteString(`"[*]`)
	}
	return b.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
