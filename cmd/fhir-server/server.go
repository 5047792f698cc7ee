package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirbridge/internal/config"
	"github.com/ehr/fhirbridge/internal/domain/ingest"
	"github.com/ehr/fhirbridge/internal/domain/resource"
	"github.com/ehr/fhirbridge/internal/platform/auth"
	"github.com/ehr/fhirbridge/internal/platform/db"
	"github.com/ehr/fhirbridge/internal/platform/fhir"
	"github.com/ehr/fhirbridge/internal/platform/middleware"
	"github.com/ehr/fhirbridge/internal/platform/schema"
	"github.com/ehr/fhirbridge/internal/platform/store"
	"github.com/ehr/fhirbridge/internal/platform/store/mongostore"
	"github.com/ehr/fhirbridge/internal/platform/store/pgstore"
	"github.com/ehr/fhirbridge/internal/platform/telemetry"
)

const (
	serviceName = "fhirbridge"
	version     = "0.1.0"
)

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() && out == os.Stdout {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	if cfg.NamespacesFile != "" {
		return schema.LoadFile(cfg.NamespacesFile)
	}
	return schema.Default()
}

// backend is an opened property store plus what /health/db needs.
type backend struct {
	store  store.Store
	pinger db.Pinger
	close  func()
}

type memoryPinger struct{}

func (memoryPinger) Ping(context.Context) error { return nil }

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Schema:   cfg.DBSchema,
		})
		if err != nil {
			return nil, err
		}
		return &backend{store: pgstore.New(pool), pinger: pool, close: pool.Close}, nil
	case config.DriverMongo:
		ms, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &backend{store: ms, pinger: ms, close: func() { _ = ms.Close(context.Background()) }}, nil
	default:
		return &backend{store: store.NewMemory(), pinger: memoryPinger{}, close: func() {}}, nil
	}
}

// app is the wired server: the echo instance plus the ingestion machinery
// the serve command schedules.
type app struct {
	echo      *echo.Echo
	pipeline  *ingest.Pipeline
	runner    *ingest.Runner
	telemetry *telemetry.Provider
}

func newApp(cfg *config.Config, logger zerolog.Logger, be *backend) (*app, error) {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("load namespaces: %w", err)
	}

	tp := telemetry.NewProvider(telemetry.Config{ServiceName: serviceName, ServiceVersion: version, GoCollectors: true})
	codec := fhir.NewCodec(registry, cfg.BaseURL)
	search := fhir.DefaultSearchRegistry()

	source := ingest.NewHTTPSource(cfg.WearableAPIBase, cfg.WearableHTTPTimeout)
	refresher := ingest.NewOAuthRefresher(source.BaseURL(), cfg.WearableClientID, cfg.WearableClientSecret, source.HTTPClient())
	pipeline, err := ingest.NewPipeline(be.store, registry, codec, source, refresher,
		ingest.WithLogger(logger.With().Str("component", "ingest").Logger()),
		ingest.WithMetrics(ingest.NewMetrics(tp.Registry())),
		ingest.WithTracer(tp.Tracer()),
	)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(tp.TracingMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(tp.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("2M"))
	e.Use(auth.Middleware(cfg.ResolvedAuthMode(), []byte(cfg.AuthSigningKey)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(be.pinger, cfg.StoreDriver))
	e.GET("/metrics", tp.PrometheusHandler())

	capability := fhir.NewCapabilityBuilder(fhir.CapabilityConfig{
		ServerName:    serviceName,
		ServerVersion: version,
		Description:   "FHIR R4 facade over a schemaless property store",
		BaseURL:       cfg.BaseURL,
	}, registry, search)

	fhirGroup := e.Group("/fhir", fhir.ContentNegotiationMiddleware())
	svc := resource.NewService(be.store, registry, codec, search)
	resource.NewHandler(svc, capability, tp, logger).RegisterRoutes(fhirGroup)

	return &app{
		echo:      e,
		pipeline:  pipeline,
		runner:    ingest.NewRunner(pipeline.Run),
		telemetry: tp,
	}, nil
}
