package fhir

import (
	"testing"
	"time"
)

func TestCapabilityBuilder_Build(t *testing.T) {
	b := NewCapabilityBuilder(CapabilityConfig{
		ServerName:    "fhirbridge",
		ServerVersion: "1.0.0",
		Description:   "FHIR R4 bridge",
		BaseURL:       "http://localhost:8000",
	}, testRegistry(t), DefaultSearchRegistry())
	b.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	cs := b.Build()

	if cs.ResourceType != "CapabilityStatement" || cs.Status != "active" || cs.Kind != "instance" {
		t.Errorf("unexpected header: %+v", cs)
	}
	if cs.FHIRVersion != "4.0.1" {
		t.Errorf("fhirVersion = %s", cs.FHIRVersion)
	}
	if cs.Date != "2024-01-01T00:00:00Z" {
		t.Errorf("date = %s", cs.Date)
	}
	if len(cs.Format) != 1 || cs.Format[0] != "json" {
		t.Errorf("format = %v", cs.Format)
	}
	if cs.Implementation.URL != "http://localhost:8000" || cs.Software.Name != "fhirbridge" {
		t.Errorf("implementation = %+v software = %+v", cs.Implementation, cs.Software)
	}
	if len(cs.Rest) != 1 || cs.Rest[0].Mode != "server" {
		t.Fatalf("rest = %+v", cs.Rest)
	}

	resources := cs.Rest[0].Resource
	if len(resources) != 8 {
		t.Fatalf("expected 8 resource types, got %d", len(resources))
	}
	for _, r := range resources {
		if len(r.Interaction) != 5 {
			t.Errorf("%s interactions = %v", r.Type, r.Interaction)
		}
		if len(r.SearchParam) < 2 || r.SearchParam[0].Name != "_id" || r.SearchParam[1].Name != "_lastUpdated" {
			t.Errorf("%s search params = %v", r.Type, r.SearchParam)
		}
	}

	patient := resources[0]
	if patient.Type != "Patient" {
		t.Fatalf("first resource = %s", patient.Type)
	}
	names := map[string]string{}
	for _, p := range patient.SearchParam {
		names[p.Name] = p.Type
	}
	for name, typ := range map[string]string{"name": "string", "birthdate": "date", "gender": "token", "identifier": "token"} {
		if names[name] != typ {
			t.Errorf("Patient %s type = %q, want %q", name, names[name], typ)
		}
	}
}
