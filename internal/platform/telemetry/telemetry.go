// Package telemetry wires Prometheus metrics and OpenTelemetry tracing into
// the HTTP server. Spans go to the globally registered tracer provider, which
// is a no-op unless the process installs an exporter.
package telemetry

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	// GoCollectors adds the Go runtime and process collectors.
	GoCollectors bool
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "fhirbridge"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
}

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Provider owns the metric registry and the tracer used by the server.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry
	tracer   trace.Tracer

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	fhirOps        *prometheus.CounterVec
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	if cfg.GoCollectors {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	p := &Provider{
		cfg:      cfg,
		registry: reg,
		tracer:   otel.Tracer(cfg.ServiceName),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: durationBuckets,
		}, []string{"method", "route"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_server_active_requests",
			Help: "Requests currently being served.",
		}),
		fhirOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fhir_operations_total",
			Help: "FHIR interactions by resource type and operation.",
		}, []string{"resource_type", "operation"}),
	}
	reg.MustRegister(p.requests, p.duration, p.activeRequests, p.fhirOps)
	return p
}

// Registry is where other packages register their collectors.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// FHIROperation counts one FHIR interaction.
func (p *Provider) FHIROperation(resourceType, operation string) {
	p.fhirOps.WithLabelValues(resourceType, operation).Inc()
}

// TracingMiddleware starts a server span per request and stores the span
// context on the request so handlers and loggers can see it.
func (p *Provider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, span := p.tracer.Start(req.Context(), "HTTP "+req.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.target", req.URL.Path),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			route := routeOf(c)
			span.SetName("HTTP " + req.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", c.Response().Status),
			)
			if rt := extractFHIRResourceType(req.URL.Path); rt != "" {
				span.SetAttributes(attribute.String("fhir.resource_type", rt))
			}
			if err != nil {
				span.RecordError(err)
			}
			if c.Response().Status >= 500 {
				span.SetStatus(codes.Error, strconv.Itoa(c.Response().Status))
			}
			return err
		}
	}
}

// MetricsMiddleware records request counts and latency by route pattern.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := routeOf(c)
			method := c.Request().Method
			p.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			p.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// routeOf prefers the registered route pattern so label cardinality stays bounded.
func routeOf(c echo.Context) string {
	if r := c.Path(); r != "" {
		return r
	}
	return "unmatched"
}

// extractFHIRResourceType returns the resource type segment of a /fhir/ path,
// or "" when there is none.
func extractFHIRResourceType(path string) string {
	const prefix = "/fhir/"
	idx := strings.Index(path, prefix)
	if idx < 0 {
		return ""
	}
	rest := path[idx+len(prefix):]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	if rest == "" || !unicode.IsUpper(rune(rest[0])) {
		return ""
	}
	return rest
}
