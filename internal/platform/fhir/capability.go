package fhir

import (
	"time"

	"github.com/ehr/fhirbridge/internal/platform/schema"
)

// CapabilityConfig holds top-level server metadata for the CapabilityStatement.
type CapabilityConfig struct {
	ServerName    string
	ServerVersion string
	Description   string
	BaseURL       string
}

type CapabilityStatement struct {
	ResourceType   string                   `json:"resourceType"`
	Status         string                   `json:"status"`
	Date           string                   `json:"date"`
	Kind           string                   `json:"kind"`
	Software       CapabilitySoftware       `json:"software"`
	Implementation CapabilityImplementation `json:"implementation"`
	FHIRVersion    string                   `json:"fhirVersion"`
	Format         []string                 `json:"format"`
	Rest           []CapabilityRest         `json:"rest"`
}

type CapabilitySoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type CapabilityImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url"`
}

type CapabilityRest struct {
	Mode     string               `json:"mode"`
	Resource []CapabilityResource `json:"resource"`
}

type CapabilityResource struct {
	Type        string                  `json:"type"`
	Interaction []CapabilityInteraction `json:"interaction"`
	SearchParam []CapabilitySearchParam `json:"searchParam"`
}

type CapabilityInteraction struct {
	Code string `json:"code"`
}

type CapabilitySearchParam struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Documentation string `json:"documentation,omitempty"`
}

// Interactions offered on every resource type.
var resourceInteractions = []string{"read", "create", "update", "delete", "search-type"}

// CapabilityBuilder assembles the CapabilityStatement from the namespace
// registry and the search registry.
type CapabilityBuilder struct {
	cfg      CapabilityConfig
	registry *schema.Registry
	search   *SearchRegistry
	now      func() time.Time
}

func NewCapabilityBuilder(cfg CapabilityConfig, registry *schema.Registry, search *SearchRegistry) *CapabilityBuilder {
	return &CapabilityBuilder{
		cfg:      cfg,
		registry: registry,
		search:   search,
		now:      time.Now,
	}
}

// Build returns the statement. Resource order follows the registry.
func (b *CapabilityBuilder) Build() *CapabilityStatement {
	var resources []CapabilityResource
	for _, rt := range b.registry.Types() {
		res := CapabilityResource{Type: rt}
		for _, code := range resourceInteractions {
			res.Interaction = append(res.Interaction, CapabilityInteraction{Code: code})
		}
		for _, p := range b.search.Params(rt) {
			res.SearchParam = append(res.SearchParam, CapabilitySearchParam{
				Name:          p.Name,
				Type:          string(p.Type),
				Documentation: p.Documentation,
			})
		}
		resources = append(resources, res)
	}

	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         b.now().UTC().Format(time.RFC3339),
		Kind:         "instance",
		Software: CapabilitySoftware{
			Name:    b.cfg.ServerName,
			Version: b.cfg.ServerVersion,
		},
		Implementation: CapabilityImplementation{
			Description: b.cfg.Description,
			URL:         b.cfg.BaseURL,
		},
		FHIRVersion: "4.0.1",
		Format:      []string{"json"},
		Rest: []CapabilityRest{
			{Mode: "server", Resource: resources},
		},
	}
}
