package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewProvider_Defaults(t *testing.T) {
	p := NewProvider(Config{})
	if p.cfg.ServiceName != "fhirbridge" {
		t.Errorf("service name = %q", p.cfg.ServiceName)
	}
	if p.Tracer() == nil {
		t.Error("expected a tracer")
	}
}

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	p := NewProvider(Config{})
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/fhir/:type/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fhir/Patient/"+string(rune('a'+i)), nil))
	}

	got := testutil.ToFloat64(p.requests.WithLabelValues(http.MethodGet, "/fhir/:type/:id", "204"))
	if got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
	if n := testutil.ToFloat64(p.activeRequests); n != 0 {
		t.Errorf("active requests = %v after completion", n)
	}
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	p := NewProvider(Config{})
	e := echo.New()
	e.Use(p.TracingMiddleware())
	e.GET("/fhir/Patient", func(c echo.Context) error {
		if c.Request().Context() == nil {
			t.Error("request context missing")
		}
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestPrometheusHandler(t *testing.T) {
	p := NewProvider(Config{})
	p.FHIROperation("Patient", "read")

	e := echo.New()
	e.GET("/metrics", p.PrometheusHandler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `fhir_operations_total{operation="read",resource_type="Patient"} 1`) {
		t.Errorf("metrics output missing fhir counter:\n%s", body)
	}
}

func TestExtractFHIRResourceType(t *testing.T) {
	tests := map[string]string{
		"/fhir/Patient":         "Patient",
		"/fhir/Observation/123": "Observation",
		"/fhir/metadata":        "",
		"/fhir/":                "",
		"/health":               "",
	}
	for path, want := range tests {
		if got := extractFHIRResourceType(path); got != want {
			t.Errorf("extractFHIRResourceType(%q) = %q, want %q", path, got, want)
		}
	}
}
