package fhir

import (
	"encoding/json"
	"strconv"
	"time"
)

// Resource is the canonical JSON form of a stored document: the document's
// properties with resourceType, id and meta overlaid.
type Resource map[string]any

// Meta is the resource metadata derived from the document's update time.
type Meta struct {
	VersionID   string `json:"versionId"`
	LastUpdated string `json:"lastUpdated"`
}

// NewMeta derives versionId (unix seconds) and lastUpdated from updatedAt.
func NewMeta(updatedAt time.Time) Meta {
	return Meta{
		VersionID:   strconv.FormatInt(updatedAt.Unix(), 10),
		LastUpdated: updatedAt.UTC().Format(time.RFC3339),
	}
}

func (r Resource) ResourceType() string {
	s, _ := r["resourceType"].(string)
	return s
}

func (r Resource) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Decode unmarshals the resource into v.
func (r Resource) Decode(v any) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+" with id "+id+" not found")
}

// FormatReference builds a relative reference such as "Patient/123".
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}
