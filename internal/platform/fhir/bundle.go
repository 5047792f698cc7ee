package fhir

import (
	"github.com/ehr/fhirbridge/internal/platform/store"
	"github.com/ehr/fhirbridge/pkg/pagination"
)

// Bundle represents a FHIR searchset Bundle.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        int           `json:"total"`
	Link         []BundleLink  `json:"link"`
	Entry        []BundleEntry `json:"entry"`
}

type BundleLink = pagination.FHIRLink

type BundleEntry struct {
	FullURL  string        `json:"fullUrl"`
	Resource Resource      `json:"resource"`
	Search   *BundleSearch `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode"`
}

// ToBundle wraps docs in a searchset Bundle. total is the number of matches
// before paging; when nil the number of docs is used instead.
func (c *Codec) ToBundle(docs []*store.Document, resourceType, requestURL string, total *int, page pagination.Params) *Bundle {
	n := len(docs)
	if total != nil {
		n = *total
	}

	entries := make([]BundleEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, BundleEntry{
			FullURL:  c.FullURL(resourceType, d.ID),
			Resource: c.ToCanonical(d),
			Search:   &BundleSearch{Mode: "match"},
		})
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        n,
		Link:         page.FHIRLinks(requestURL, n),
		Entry:        entries,
	}
}
