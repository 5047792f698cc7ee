// Package schema holds the per-resource-type property schemas that back the
// FHIR surface. A Registry is built once at startup and is read-only after.
package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed namespaces.yaml
var defaultNamespaces []byte

// Property types recognised in a namespace schema.
const (
	TypeString   = "string"
	TypeBoolean  = "boolean"
	TypeInteger  = "integer"
	TypeDate     = "date"
	TypeDateTime = "datetime"
	TypeArray    = "array"
	TypeObject   = "object"
)

// Association kinds.
const (
	HasMany   = "has_many"
	BelongsTo = "belongs_to"
)

// Property describes one field of a namespace.
type Property struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required"`
	Default     any      `yaml:"default"`
	Enum        []string `yaml:"enum"`
	Description string   `yaml:"description"`
}

// HasDefault reports whether the property declares a default value.
func (p Property) HasDefault() bool { return p.Default != nil }

type Association struct {
	Namespace  string `yaml:"namespace"`
	Type       string `yaml:"type"`
	ForeignKey string `yaml:"foreignKey"`
}

// Namespace is the property schema for a single resource type.
type Namespace struct {
	Name         string        `yaml:"name"`
	Slug         string        `yaml:"slug"`
	Version      string        `yaml:"version"`
	ResourceType string        `yaml:"resourceType"`
	Properties   []Property    `yaml:"properties"`
	Associations []Association `yaml:"associations"`
}

// Property looks up a field by name.
func (n *Namespace) Property(name string) (Property, bool) {
	for _, p := range n.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// RequiredFields returns the required field names in declaration order.
func (n *Namespace) RequiredFields() []string {
	var out []string
	for _, p := range n.Properties {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

type file struct {
	Namespaces []*Namespace `yaml:"namespaces"`
}

// Registry maps resource types to their namespaces.
type Registry struct {
	order  []string
	byType map[string]*Namespace
	bySlug map[string]*Namespace
}

// Load parses a namespace document.
func Load(r io.Reader) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode namespaces: %w", err)
	}

	reg := &Registry{
		byType: make(map[string]*Namespace, len(f.Namespaces)),
		bySlug: make(map[string]*Namespace, len(f.Namespaces)),
	}
	for _, ns := range f.Namespaces {
		if err := ns.check(); err != nil {
			return nil, err
		}
		if _, dup := reg.byType[ns.ResourceType]; dup {
			return nil, fmt.Errorf("namespace %s: duplicate resource type %s", ns.Slug, ns.ResourceType)
		}
		if _, dup := reg.bySlug[ns.Slug]; dup {
			return nil, fmt.Errorf("namespace %s: duplicate slug", ns.Slug)
		}
		reg.order = append(reg.order, ns.ResourceType)
		reg.byType[ns.ResourceType] = ns
		reg.bySlug[ns.Slug] = ns
	}
	return reg, nil
}

// LoadFile reads namespaces from path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open namespaces file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the registry built from the embedded namespace definitions.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(defaultNamespaces))
}

// Namespace returns the namespace for a resource type.
func (r *Registry) Namespace(resourceType string) (*Namespace, bool) {
	ns, ok := r.byType[resourceType]
	return ns, ok
}

// BySlug returns the namespace with the given slug.
func (r *Registry) BySlug(slug string) (*Namespace, bool) {
	ns, ok := r.bySlug[slug]
	return ns, ok
}

// Types returns the registered resource types in declaration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (n *Namespace) check() error {
	if n.Slug == "" {
		return fmt.Errorf("namespace %q: slug is required", n.Name)
	}
	if n.ResourceType == "" {
		return fmt.Errorf("namespace %s: resourceType is required", n.Slug)
	}
	seen := make(map[string]bool, len(n.Properties))
	for _, p := range n.Properties {
		if p.Name == "" {
			return fmt.Errorf("namespace %s: property without a name", n.Slug)
		}
		if seen[p.Name] {
			return fmt.Errorf("namespace %s: duplicate property %s", n.Slug, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeString, TypeBoolean, TypeInteger, TypeDate, TypeDateTime, TypeArray, TypeObject:
		default:
			return fmt.Errorf("namespace %s: property %s has unknown type %q", n.Slug, p.Name, p.Type)
		}
	}
	for _, a := range n.Associations {
		if a.Type != HasMany && a.Type != BelongsTo {
			return fmt.Errorf("namespace %s: association to %s has unknown type %q", n.Slug, a.Namespace, a.Type)
		}
	}
	return nil
}
