package fhir

import (
	"strings"

	"github.com/ehr/fhirbridge/internal/platform/schema"
	"github.com/ehr/fhirbridge/internal/platform/store"
)

// Codec converts between stored documents and canonical FHIR JSON.
type Codec struct {
	registry *schema.Registry
	baseURL  string
}

func NewCodec(registry *schema.Registry, baseURL string) *Codec {
	return &Codec{registry: registry, baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL is the server root used for absolute links.
func (c *Codec) BaseURL() string { return c.baseURL }

// FullURL is the absolute URL of a resource instance.
func (c *Codec) FullURL(resourceType, id string) string {
	return c.baseURL + "/fhir/" + resourceType + "/" + id
}

// ToCanonical copies the document's properties into a new Resource and
// overlays resourceType, id and meta. The document is left untouched.
func (c *Codec) ToCanonical(doc *store.Document) Resource {
	r := make(Resource, len(doc.Properties)+3)
	for k, v := range doc.Properties {
		r[k] = v
	}

	rt, _ := doc.Properties["resourceType"].(string)
	if rt == "" {
		if ns, ok := c.registry.BySlug(doc.Namespace); ok {
			rt = ns.ResourceType
		}
	}
	r["resourceType"] = rt
	r["id"] = doc.ID
	r["meta"] = NewMeta(doc.UpdatedAt)
	return r
}

// ToDocumentProperties is the inverse of ToCanonical: it drops id and meta,
// pins resourceType and fills schema defaults for absent fields.
func (c *Codec) ToDocumentProperties(resourceType string, data map[string]any) map[string]any {
	props := make(map[string]any, len(data)+1)
	for k, v := range data {
		if k == "id" || k == "meta" {
			continue
		}
		props[k] = v
	}
	props["resourceType"] = resourceType

	if ns, ok := c.registry.Namespace(resourceType); ok {
		for _, p := range ns.Properties {
			if !p.HasDefault() {
				continue
			}
			if _, present := props[p.Name]; !present {
				props[p.Name] = p.Default
			}
		}
	}
	return props
}
