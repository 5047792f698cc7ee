package fhir

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ehr/fhirbridge/internal/platform/schema"
	"github.com/ehr/fhirbridge/pkg/fhirmodels"
)

// Failure categories reported in details.text of an exception issue.
const (
	FailureTypeMismatch = "type-mismatch"
	FailureSyntax       = "syntax"
	FailurePanic        = "panic"
	FailureDecode       = "decode"
)

// ValidationResult holds the results of a FHIR resource validation.
type ValidationResult struct {
	Valid bool
	// Resource is the accepted input; Model its typed form. Both are nil on rejection.
	Resource Resource
	Model    fhirmodels.Model
	Issues   []OperationOutcomeIssue
}

// ToOperationOutcome converts a ValidationResult into an OperationOutcome.
func (vr *ValidationResult) ToOperationOutcome() *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        vr.Issues,
	}
}

// Validator checks resources against the namespace schemas.
type Validator struct {
	registry *schema.Registry
}

func NewValidator(registry *schema.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate runs the type check then the field check. Structural faults,
// including panics while decoding, become a single exception issue; field
// issues are collected exhaustively in schema order.
func (v *Validator) Validate(resourceType string, data map[string]any) *ValidationResult {
	ns, ok := v.registry.Namespace(resourceType)
	if !ok {
		return reject(OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeNotSupported,
			Diagnostics: fmt.Sprintf("resource type %s is not supported", resourceType),
		})
	}

	if rt, present := data["resourceType"]; present && rt != resourceType {
		return reject(OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeInvalid,
			Diagnostics: fmt.Sprintf("resourceType must be %s", resourceType),
			Expression:  []string{"resourceType"},
		})
	}

	model, err := decodeModel(resourceType, data)
	if err != nil {
		return reject(exceptionIssue(err))
	}

	if oo := checkFields(ns, data); oo.HasErrors() {
		return &ValidationResult{Valid: false, Issues: oo.Issue}
	}

	res := make(Resource, len(data))
	for k, val := range data {
		res[k] = val
	}
	return &ValidationResult{Valid: true, Resource: res, Model: model}
}

// ValidateOrError returns the accepted resource or a *ValidationError.
func (v *Validator) ValidateOrError(resourceType string, data map[string]any) (Resource, error) {
	vr := v.Validate(resourceType, data)
	if !vr.Valid {
		return nil, &ValidationError{Outcome: vr.ToOperationOutcome()}
	}
	return vr.Resource, nil
}

func reject(issue OperationOutcomeIssue) *ValidationResult {
	return &ValidationResult{Valid: false, Issues: []OperationOutcomeIssue{issue}}
}

// decodeFault is a panic recovered while decoding.
type decodeFault struct {
	value any
}

func (f *decodeFault) Error() string { return fmt.Sprint(f.value) }

func decodeModel(resourceType string, data map[string]any) (m fhirmodels.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, &decodeFault{value: r}
		}
	}()
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return fhirmodels.Decode(resourceType, raw)
}

func exceptionIssue(err error) OperationOutcomeIssue {
	var (
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
		fault     *decodeFault
	)
	category := FailureDecode
	switch {
	case errors.As(err, &typeErr):
		category = FailureTypeMismatch
	case errors.As(err, &syntaxErr):
		category = FailureSyntax
	case errors.As(err, &fault):
		category = FailurePanic
	}
	return NewOutcomeBuilder().
		AddIssueWithDetails(IssueSeverityError, IssueTypeException, err.Error(), category).
		Build().Issue[0]
}

func checkFields(ns *schema.Namespace, data map[string]any) *OperationOutcome {
	b := NewOutcomeBuilder()
	for _, p := range ns.Properties {
		val, present := data[p.Name]
		if p.Required && (!present || val == nil) {
			b.AddIssueWithLocation(IssueSeverityError, IssueTypeRequired, p.Name+" is required", p.Name)
			continue
		}
		if len(p.Enum) == 0 || val == nil {
			continue
		}
		s, isString := val.(string)
		if isString && !slices.Contains(p.Enum, s) {
			b.AddIssueWithLocation(IssueSeverityError, IssueTypeCodeInvalid,
				fmt.Sprintf("%s must be one of: %s", p.Name, strings.Join(p.Enum, ", ")), p.Name)
		}
	}
	return b.Build()
}
