package fhir

import (
	"errors"
	"net/http"

	"github.com/ehr/fhirbridge/internal/platform/store"
)

// BadRequestError reports a malformed request parameter.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// ValidationError is returned by ValidateOrError when a resource is rejected.
// Its message is the issue diagnostics joined with ", ".
type ValidationError struct {
	Outcome *OperationOutcome
}

func (e *ValidationError) Error() string {
	return JoinMessages(e.Outcome.Messages())
}

// NotFoundError names the resource a lookup failed for.
type NotFoundError struct {
	ResourceType string
	ID           string
}

func (e *NotFoundError) Error() string {
	return e.ResourceType + " with id " + e.ID + " not found"
}

func (e *NotFoundError) Is(target error) bool { return target == store.ErrNotFound }

// UnsupportedTypeError is returned for resource types with no namespace.
type UnsupportedTypeError struct {
	ResourceType string
}

func (e *UnsupportedTypeError) Error() string {
	return "resource type " + e.ResourceType + " is not supported"
}

// ErrorResponse maps err onto an HTTP status and the OperationOutcome body
// describing it. Unknown errors become 500 with a generic exception issue.
func ErrorResponse(err error) (int, *OperationOutcome) {
	var (
		nf *NotFoundError
		br *BadRequestError
		ve *ValidationError
		ut *UnsupportedTypeError
	)
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound, NotFoundOutcome(nf.ResourceType, nf.ID)
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, OperationOutcomeFrom(err, WithCode(IssueTypeNotFound))
	case errors.As(err, &ut):
		return http.StatusNotFound, NewOperationOutcome(IssueSeverityError, IssueTypeNotSupported, ut.Error())
	case errors.As(err, &br):
		return http.StatusBadRequest, OperationOutcomeFrom(br.Message)
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, ve.Outcome
	case errors.Is(err, store.ErrConstraint):
		return http.StatusUnprocessableEntity, OperationOutcomeFrom(err)
	default:
		return http.StatusInternalServerError, NewOperationOutcome(IssueSeverityFatal, IssueTypeException, "internal server error")
	}
}
