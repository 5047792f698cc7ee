package fhir

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// FHIRContentType is the FHIR JSON content type with charset.
const FHIRContentType = "application/fhir+json; charset=utf-8"

// Negotiate decides whether a request can be served as FHIR JSON. _format
// wins over Accept; a request with neither is served JSON. The returned
// message explains a refusal.
func Negotiate(format, accept string) (bool, string) {
	if format != "" {
		switch {
		case isJSONFormat(format):
			return true, ""
		case isXMLFormat(format):
			return false, "XML format is not supported, use application/fhir+json"
		default:
			return false, "Unsupported _format value: " + format
		}
	}
	if accept != "" && !acceptsJSON(accept) {
		return false, "Accept header does not include application/fhir+json"
	}
	return true, ""
}

// ContentNegotiationMiddleware rejects requests that cannot take FHIR JSON
// with 406 and sets the FHIR content type on everything else.
func ContentNegotiationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, msg := Negotiate(c.QueryParam("_format"), c.Request().Header.Get(echo.HeaderAccept))
			if !ok {
				return WriteJSON(c, http.StatusNotAcceptable, ErrorOutcome(msg))
			}
			c.Response().Header().Set(echo.HeaderContentType, FHIRContentType)
			return next(c)
		}
	}
}

// WriteJSON writes v with the FHIR content type.
func WriteJSON(c echo.Context, status int, v any) error {
	c.Response().Header().Set(echo.HeaderContentType, FHIRContentType)
	c.Response().WriteHeader(status)
	return json.NewEncoder(c.Response()).Encode(v)
}

// normalizeFormat lowercases and restores a "+" that query decoding turned
// into a space ("application/fhir json").
func normalizeFormat(raw string) string {
	f := strings.TrimSpace(strings.ToLower(raw))
	f = strings.ReplaceAll(f, "fhir json", "fhir+json")
	return strings.ReplaceAll(f, "fhir xml", "fhir+xml")
}

func isJSONFormat(format string) bool {
	switch normalizeFormat(format) {
	case "json", "application/json", "application/fhir+json":
		return true
	}
	return false
}

func isXMLFormat(format string) bool {
	switch normalizeFormat(format) {
	case "xml", "text/xml", "application/xml", "application/fhir+xml":
		return true
	}
	return false
}

func acceptsJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		switch strings.ToLower(strings.TrimSpace(mediaType)) {
		case "application/fhir+json", "application/json", "json", "application/*", "*/*":
			return true
		}
	}
	return false
}
