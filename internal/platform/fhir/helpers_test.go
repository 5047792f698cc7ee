package fhir

import (
	"testing"

	"github.com/ehr/fhirbridge/internal/platform/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("load default schema: %v", err)
	}
	return reg
}
