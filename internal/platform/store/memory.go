package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryDoc struct {
	doc *Document
	seq uint64
}

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]*memoryDoc
	seq  uint64
	now  func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		docs: make(map[string]map[string]*memoryDoc),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Create(_ context.Context, namespace string, props map[string]any) (*Document, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace is required", ErrConstraint)
	}
	p, err := Normalize(props)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.seq++
	doc := &Document{
		ID:         uuid.NewString(),
		Namespace:  namespace,
		Properties: p,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ns, ok := m.docs[namespace]
	if !ok {
		ns = make(map[string]*memoryDoc)
		m.docs[namespace] = ns
	}
	ns[doc.ID] = &memoryDoc{doc: doc, seq: m.seq}
	return clone(doc), nil
}

func (m *Memory) Find(_ context.Context, namespace, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	md, ok := m.docs[namespace][id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(md.doc), nil
}

func (m *Memory) Query(_ context.Context, namespace string, preds []Predicate, page Page) ([]*Document, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []*memoryDoc
	for _, md := range m.docs[namespace] {
		if Matches(md.doc, preds) {
			hits = append(hits, md)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].doc.CreatedAt.Equal(hits[j].doc.CreatedAt) {
			return hits[i].doc.CreatedAt.Before(hits[j].doc.CreatedAt)
		}
		return hits[i].seq < hits[j].seq
	})

	total := len(hits)
	start := page.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}

	out := make([]*Document, 0, end-start)
	for _, md := range hits[start:end] {
		out = append(out, clone(md.doc))
	}
	return out, total, nil
}

func (m *Memory) Update(_ context.Context, doc *Document, props map[string]any) (*Document, error) {
	p, err := Normalize(props)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	md, ok := m.docs[doc.Namespace][doc.ID]
	if !ok {
		return nil, ErrNotFound
	}
	updated := &Document{
		ID:         md.doc.ID,
		Namespace:  md.doc.Namespace,
		Properties: p,
		CreatedAt:  md.doc.CreatedAt,
		UpdatedAt:  m.now(),
	}
	md.doc = updated
	return clone(updated), nil
}

func (m *Memory) Delete(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[doc.Namespace][doc.ID]; !ok {
		return ErrNotFound
	}
	delete(m.docs[doc.Namespace], doc.ID)
	return nil
}

// clone copies the document so callers never alias stored state.
func clone(d *Document) *Document {
	cp := *d
	cp.Properties = cloneValue(d.Properties).(map[string]any)
	return &cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
