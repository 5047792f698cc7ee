package fhir

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name   string
		format string
		accept string
		want   bool
	}{
		{"no preference", "", "", true},
		{"format json", "json", "", true},
		{"format fhir json decoded plus", "application/fhir json", "", true},
		{"format xml", "xml", "", false},
		{"format unknown", "turtle", "", false},
		{"format wins over accept", "json", "application/xml", true},
		{"accept fhir json", "", "application/fhir+json", true},
		{"accept wildcard with q", "", "text/html;q=0.9, */*;q=0.1", true},
		{"accept xml only", "", "application/fhir+xml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := Negotiate(tt.format, tt.accept); got != tt.want {
				t.Errorf("Negotiate(%q, %q) = %v, want %v", tt.format, tt.accept, got, tt.want)
			}
		})
	}
}

func TestContentNegotiationMiddleware(t *testing.T) {
	e := echo.New()
	h := ContentNegotiationMiddleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != FHIRContentType {
		t.Errorf("content type = %q", ct)
	}

	req = httptest.NewRequest(http.MethodGet, "/fhir/Patient?_format=xml", nil)
	rec = httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotAcceptable {
		t.Errorf("status = %d, want 406", rec.Code)
	}
}
