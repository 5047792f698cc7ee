package fhir

import (
	"fmt"
	"strings"
)

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeStructure    = "structure"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeSecurity     = "security"
	IssueTypeLogin        = "login"
	IssueTypeNotSupported = "not-supported"
	IssueTypeException    = "exception"
	IssueTypeCodeInvalid  = "code-invalid"
	IssueTypeTooCostly    = "too-costly"
)

// OutcomeBuilder provides a fluent API for constructing OperationOutcome resources.
type OutcomeBuilder struct {
	outcome *OperationOutcome
}

func NewOutcomeBuilder() *OutcomeBuilder {
	return &OutcomeBuilder{
		outcome: &OperationOutcome{
			ResourceType: "OperationOutcome",
			Issue:        []OperationOutcomeIssue{},
		},
	}
}

func (b *OutcomeBuilder) AddIssue(severity, code, diagnostics string) *OutcomeBuilder {
	b.outcome.Issue = append(b.outcome.Issue, OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
	})
	return b
}

// AddIssueWithDetails adds an issue whose details.text carries detail.
func (b *OutcomeBuilder) AddIssueWithDetails(severity, code, diagnostics, detail string) *OutcomeBuilder {
	b.outcome.Issue = append(b.outcome.Issue, OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
		Details:     &CodeableConcept{Text: detail},
	})
	return b
}

// AddIssueWithLocation adds an issue including an expression path.
func (b *OutcomeBuilder) AddIssueWithLocation(severity, code, diagnostics, location string) *OutcomeBuilder {
	b.outcome.Issue = append(b.outcome.Issue, OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  []string{location},
	})
	return b
}

func (b *OutcomeBuilder) Build() *OperationOutcome {
	return b.outcome
}

// HasErrors returns true if the outcome contains any error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// Messages returns the diagnostics of every issue in order.
func (o *OperationOutcome) Messages() []string {
	out := make([]string, 0, len(o.Issue))
	for _, issue := range o.Issue {
		out = append(out, issue.Diagnostics)
	}
	return out
}

// OutcomeOption overrides the defaults of OperationOutcomeFrom.
type OutcomeOption func(*outcomeOptions)

type outcomeOptions struct {
	severity string
	code     string
}

func WithSeverity(severity string) OutcomeOption {
	return func(o *outcomeOptions) { o.severity = severity }
}

func WithCode(code string) OutcomeOption {
	return func(o *outcomeOptions) { o.code = code }
}

// OperationOutcomeFrom builds one issue per error. errs may be a single value
// or a slice of values; every diagnostics field is stringified. Severity and
// code default to "error" and "invalid".
func OperationOutcomeFrom(errs any, opts ...OutcomeOption) *OperationOutcome {
	o := outcomeOptions{severity: IssueSeverityError, code: IssueTypeInvalid}
	for _, opt := range opts {
		opt(&o)
	}

	b := NewOutcomeBuilder()
	for _, e := range flattenErrors(errs) {
		b.AddIssue(o.severity, o.code, diagnostic(e))
	}
	return b.Build()
}

func flattenErrors(errs any) []any {
	switch v := errs.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []error:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	default:
		return []any{v}
	}
}

func diagnostic(e any) string {
	switch v := e.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// JoinMessages joins issue diagnostics the way ValidationError reports them.
func JoinMessages(msgs []string) string {
	return strings.Join(msgs, ", ")
}

