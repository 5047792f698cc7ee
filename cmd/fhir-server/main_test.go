package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirbridge/internal/config"
	"github.com/ehr/fhirbridge/internal/domain/ingest"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		LogLevel:            "info",
		BaseURL:             "http://fhir.test",
		StoreDriver:         config.DriverMemory,
		CORSOrigins:         []string{"*"},
		WearableAPIBase:     "http://wearable.invalid",
		WearableHTTPTimeout: time.Second,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	be, err := openBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	a, err := newApp(cfg, zerolog.Nop(), be)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return a
}

func serve(a *app, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := serve(a, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" || body["version"] != version {
		t.Errorf("unexpected body %v", body)
	}

	rec = serve(a, http.MethodGet, "/health/db", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["driver"] != config.DriverMemory || body["status"] != "healthy" {
		t.Errorf("unexpected db health %v", body)
	}
}

func TestMetadata(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := serve(a, http.MethodGet, "/fhir/metadata", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["resourceType"] != "CapabilityStatement" {
		t.Errorf("expected CapabilityStatement, got %v", body["resourceType"])
	}
	if body["fhirVersion"] != "4.0.1" {
		t.Errorf("expected fhirVersion 4.0.1, got %v", body["fhirVersion"])
	}
}

func TestMetricsExposeIngestionCollectors(t *testing.T) {
	a := newTestApp(t, testConfig())
	serve(a, http.MethodGet, "/fhir/metadata", "", nil)

	rec := serve(a, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	text := rec.Body.String()
	for _, name := range []string{"http_server_requests_total", "go_goroutines", "ingest_token_refreshes_total"} {
		if !strings.Contains(text, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestUnknownTypeIsOperationOutcome(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := serve(a, http.MethodGet, "/fhir/Spaceship/1", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["resourceType"] != "OperationOutcome" {
		t.Errorf("expected OperationOutcome, got %v", body)
	}
}

func TestUnroutedPathIsOperationOutcome(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := serve(a, http.MethodGet, "/nowhere", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decode(t, rec); body["resourceType"] != "OperationOutcome" {
		t.Errorf("expected OperationOutcome, got %v", body)
	}
}

func TestCreateAndReadThroughServer(t *testing.T) {
	a := newTestApp(t, testConfig())

	payload := `{"resourceType":"Patient","name":[{"family":"Doe","given":["Jane"]}],"gender":"female","birthDate":"1990-01-01"}`
	h := http.Header{"Content-Type": []string{"application/fhir+json"}}
	rec := serve(a, http.MethodPost, "/fhir/Patient", payload, h)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := decode(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("expected an id")
	}

	rec = serve(a, http.MethodGet, "/fhir/Patient/"+id, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rid := rec.Header().Get("X-Request-ID"); rid == "" {
		t.Error("expected a request id header")
	}
}

func TestJWTModeRejectsAnonymous(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = "jwt"
	cfg.AuthSigningKey = "test-secret"
	a := newTestApp(t, cfg)

	rec := serve(a, http.MethodGet, "/fhir/Patient", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decode(t, rec); body["resourceType"] != "OperationOutcome" {
		t.Errorf("expected OperationOutcome, got %v", body)
	}

	rec = serve(a, http.MethodGet, "/fhir/metadata", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("metadata should be public, got %d", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "svc",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(cfg.AuthSigningKey))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = serve(a, http.MethodGet, "/fhir/Patient", "", http.Header{"Authorization": []string{"Bearer " + signed}})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.Env = "production"
		cfg.LogLevel = tt.level
		var buf bytes.Buffer
		if got := newLogger(cfg, &buf).GetLevel(); got != tt.want {
			t.Errorf("level %q: got %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	cfg := testConfig()
	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Info().Msg("hello")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
	if line["message"] != "hello" {
		t.Errorf("unexpected line %v", line)
	}
}

func TestRunIngestOnceWithoutClients(t *testing.T) {
	a := newTestApp(t, testConfig())
	if err := runIngestOnce(context.Background(), a, nil, nil, zerolog.Nop()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRunIngestOnceUnknownClient(t *testing.T) {
	a := newTestApp(t, testConfig())
	err := runIngestOnce(context.Background(), a, []string{"missing"}, nil, zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error for an unknown client")
	}
}

func TestRunIngestOnceUsesStoredClients(t *testing.T) {
	a := newTestApp(t, testConfig())
	if err := a.pipeline.Clients().Create(context.Background(), &ingest.ExternalClient{
		Name:      "wearable",
		PatientID: "p1",
	}); err != nil {
		t.Fatalf("create client: %v", err)
	}

	// The source points at an unreachable host, so the run fails and is
	// recorded on the client.
	if err := runIngestOnce(context.Background(), a, nil, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected the run to fail against an unreachable source")
	}
	clients, err := a.pipeline.Clients().List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clients) != 1 || clients[0].Status != ingest.StatusFailed {
		t.Errorf("expected one failed client, got %+v", clients)
	}
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENV", "development")
	err := withMigrator(context.Background(), "", nil)
	if err == nil || !strings.Contains(err.Error(), "STORE_DRIVER=postgres") {
		t.Errorf("expected postgres requirement error, got %v", err)
	}
}

func TestMigrationSchema(t *testing.T) {
	cfg := testConfig()
	cfg.DBSchema = "fhir"
	if got := migrationSchema("", cfg); got != "fhir" {
		t.Errorf("expected DB_SCHEMA fallback, got %q", got)
	}
	if got := migrationSchema("other", cfg); got != "other" {
		t.Errorf("expected flag to win, got %q", got)
	}
	cfg.DBSchema = ""
	if got := migrationSchema("", cfg); got != "public" {
		t.Errorf("expected public, got %q", got)
	}
}
