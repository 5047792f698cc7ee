package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirbridge/internal/platform/fhir"
)

// ErrorHandler renders every error that reaches echo as an OperationOutcome.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var status int
		var outcome *fhir.OperationOutcome
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, issueCodeFor(status), httpErrorMessage(he))
		} else {
			status, outcome = fhir.ErrorResponse(err)
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("request_id", GetRequestID(c)).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = fhir.WriteJSON(c, status, outcome)
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to write error response")
		}
	}
}

func issueCodeFor(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return fhir.IssueTypeLogin
	case http.StatusForbidden:
		return fhir.IssueTypeSecurity
	case http.StatusNotFound:
		return fhir.IssueTypeNotFound
	case http.StatusMethodNotAllowed:
		return fhir.IssueTypeNotSupported
	case http.StatusRequestEntityTooLarge:
		return fhir.IssueTypeTooCostly
	}
	if status >= http.StatusInternalServerError {
		return fhir.IssueTypeException
	}
	return fhir.IssueTypeInvalid
}

func httpErrorMessage(he *echo.HTTPError) string {
	if s, ok := he.Message.(string); ok {
		return s
	}
	if he.Message != nil {
		return fmt.Sprint(he.Message)
	}
	return http.StatusText(he.Code)
}
