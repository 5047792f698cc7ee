package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/fhirbridge/internal/platform/fhir"
	"github.com/ehr/fhirbridge/internal/platform/schema"
	"github.com/ehr/fhirbridge/internal/platform/store"
)

const (
	// maxAuthRetries bounds token refreshes per category fetch.
	maxAuthRetries = 1

	syncWindow       = 7 * 24 * time.Hour
	refreshLookahead = time.Hour
	backtraceLines   = 10

	categorySystem = "http://terminology.hl7.org/CodeSystem/observation-category"
)

// The wearable device every derived Observation points at.
const (
	DeviceManufacturer = "WHOOP, Inc."
	DeviceName         = "WHOOP 4.0"
	DeviceModel        = "4.0"
)

var syncOrder = []string{CategoryRecovery, CategorySleep, CategoryWorkout, CategoryCycle}

// Pipeline turns wearable metric records into Observations for one external
// client per Run.
type Pipeline struct {
	store     store.Store
	clients   *Clients
	codec     *fhir.Codec
	validator *fhir.Validator
	source    MetricSource
	refresher TokenRefresher

	observationNS string
	deviceNS      string

	metrics *Metrics
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func NewPipeline(st store.Store, registry *schema.Registry, codec *fhir.Codec, source MetricSource, refresher TokenRefresher, opts ...Option) (*Pipeline, error) {
	obs, ok := registry.Namespace("Observation")
	if !ok {
		return nil, errors.New("ingest: Observation namespace is not registered")
	}
	dev, ok := registry.Namespace("Device")
	if !ok {
		return nil, errors.New("ingest: Device namespace is not registered")
	}
	p := &Pipeline{
		store:         st,
		clients:       NewClients(st),
		codec:         codec,
		validator:     fhir.NewValidator(registry),
		source:        source,
		refresher:     refresher,
		observationNS: obs.Slug,
		deviceNS:      dev.Slug,
		logger:        zerolog.Nop(),
		tracer:        otel.Tracer("fhirbridge/ingest"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Pipeline) Clients() *Clients { return p.clients }

// Run refreshes the client's token when needed, syncs every category in
// order and records the outcome on the client record. The first error or
// panic aborts the run, is recorded as a failure and is returned.
func (p *Pipeline) Run(ctx context.Context, clientID string) (err error) {
	ctx, span := p.tracer.Start(ctx, "ingest.run", trace.WithAttributes(attribute.String("ingest.client_id", clientID)))
	defer span.End()

	client, err := p.clients.Get(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r := &run{Pipeline: p, client: client}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ingestion panic: %v", rec)
		}
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.runFinished(StatusFailed)
		p.logger.Error().Err(err).Str("client_id", clientID).Msg("ingestion run failed")
		if recErr := r.recordFailure(context.WithoutCancel(ctx), err, backtrace(err)); recErr != nil {
			p.logger.Error().Err(recErr).Str("client_id", clientID).Msg("could not record ingestion failure")
		}
	}()

	if err := r.refreshIfExpiring(ctx); err != nil {
		return err
	}
	for _, category := range syncOrder {
		if err := r.sync(ctx, category); err != nil {
			return err
		}
	}
	if err := r.recordSuccess(ctx); err != nil {
		return err
	}
	p.metrics.runFinished(StatusSuccess)
	p.logger.Info().Str("client_id", clientID).Str("patient_id", client.PatientID).
		Int("observations_created", r.created).Msg("ingestion run completed")
	return nil
}

// run is the state of one Run invocation.
type run struct {
	*Pipeline
	client    *ExternalClient
	deviceRef string
	created   int
}

func (r *run) refreshIfExpiring(ctx context.Context) error {
	exp := r.client.Credential.ExpiresAt
	if exp != nil && !exp.Before(r.now().Add(refreshLookahead)) {
		return nil
	}
	return r.refresh(ctx)
}

// refresh persists the new token pair only once the grant succeeded.
func (r *run) refresh(ctx context.Context) error {
	tok, err := r.refresher.Refresh(ctx, r.client.Credential.RefreshToken)
	if err != nil {
		return traced(fmt.Errorf("token refresh failed: %w", err))
	}
	cred := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: r.client.Credential.RefreshToken,
	}
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		cred.ExpiresAt = &exp
	}

	prev := r.client.Credential
	r.client.Credential = cred
	if err := r.clients.Save(ctx, r.client); err != nil {
		r.client.Credential = prev
		return traced(err)
	}
	r.metrics.tokenRefreshed()
	return nil
}

func (r *run) sync(ctx context.Context, category string) error {
	end := r.now().UTC().Truncate(24 * time.Hour)
	start := end.Add(-syncWindow)

	records, err := r.fetch(ctx, category, start, end)
	if err != nil {
		return err
	}
	for _, rec := range records {
		for _, reading := range Derive(category, rec) {
			if err := r.createObservation(ctx, reading); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetch retries an unauthorized fetch after a token refresh, at most
// maxAuthRetries times.
func (r *run) fetch(ctx context.Context, category string, start, end time.Time) ([]Record, error) {
	ctx, span := r.tracer.Start(ctx, "ingest.fetch", trace.WithAttributes(attribute.String("ingest.category", category)))
	defer span.End()

	for attempt := 0; ; attempt++ {
		records, err := r.source.Fetch(ctx, r.client.Credential.AccessToken, category, start, end)
		if err == nil {
			span.SetAttributes(attribute.Int("ingest.records", len(records)))
			return records, nil
		}
		if !errors.Is(err, ErrUnauthorized) || attempt >= maxAuthRetries {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, traced(err)
		}
		r.logger.Warn().Str("client_id", r.client.ID).Str("category", category).Msg("access token rejected, refreshing")
		if err := r.refresh(ctx); err != nil {
			return nil, err
		}
	}
}

// createObservation writes the reading unless an Observation with the same
// effectiveDateTime, code and subject already exists.
func (r *run) createObservation(ctx context.Context, reading Reading) error {
	subject := fhir.FormatReference("Patient", r.client.PatientID)
	_, err := store.First(ctx, r.store, r.observationNS,
		store.Equals{Path: "effectiveDateTime", Value: reading.EffectiveDateTime},
		store.Equals{Path: "code.coding.code", Value: reading.Code},
		store.Equals{Path: "subject.reference", Value: subject},
	)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return traced(fmt.Errorf("check existing observation: %w", err))
	}

	deviceRef, err := r.device(ctx)
	if err != nil {
		return err
	}

	data := map[string]any{
		"resourceType": "Observation",
		"status":       "final",
		"category": []any{map[string]any{
			"coding": []any{map[string]any{"system": categorySystem, "code": reading.Category}},
		}},
		"code": map[string]any{
			"coding": []any{map[string]any{"system": reading.System, "code": reading.Code}},
		},
		"subject":           map[string]any{"reference": subject},
		"effectiveDateTime": reading.EffectiveDateTime,
		"issued":            r.now().UTC().Format(time.RFC3339),
		"valueQuantity":     map[string]any{"value": reading.Value, "unit": reading.Unit},
		"device":            map[string]any{"reference": deviceRef},
	}
	if _, err := r.insert(ctx, "Observation", r.observationNS, data); err != nil {
		return err
	}
	r.created++
	r.metrics.observationCreated(reading.Category)
	return nil
}

// device returns the reference of the manufacturer's Device, creating it on
// first use. The oldest match wins when several exist.
func (r *run) device(ctx context.Context) (string, error) {
	if r.deviceRef != "" {
		return r.deviceRef, nil
	}
	doc, err := store.First(ctx, r.store, r.deviceNS, store.Equals{Path: "manufacturer", Value: DeviceManufacturer})
	if err == nil {
		r.deviceRef = fhir.FormatReference("Device", doc.ID)
		return r.deviceRef, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", traced(fmt.Errorf("find device: %w", err))
	}

	data := map[string]any{
		"resourceType": "Device",
		"identifier":   []any{map[string]any{"system": "http://whoop.com/devices", "value": "whoop-4.0"}},
		"status":       "active",
		"manufacturer": DeviceManufacturer,
		"deviceName":   []any{map[string]any{"name": DeviceName, "type": "user-friendly-name"}},
		"modelNumber":  DeviceModel,
		"type": map[string]any{
			"coding": []any{map[string]any{
				"system":  "http://snomed.info/sct",
				"code":    "706767009",
				"display": "Wearable fitness tracker",
			}},
		},
	}
	created, err := r.insert(ctx, "Device", r.deviceNS, data)
	if err != nil {
		return "", err
	}
	r.deviceRef = fhir.FormatReference("Device", created.ID)
	return r.deviceRef, nil
}

func (r *run) insert(ctx context.Context, resourceType, namespace string, data map[string]any) (*store.Document, error) {
	res, err := r.validator.ValidateOrError(resourceType, data)
	if err != nil {
		return nil, traced(fmt.Errorf("derived %s rejected: %w", resourceType, err))
	}
	doc, err := r.store.Create(ctx, namespace, r.codec.ToDocumentProperties(resourceType, res))
	if err != nil {
		return nil, traced(fmt.Errorf("create %s: %w", resourceType, err))
	}
	return doc, nil
}

func (r *run) recordSuccess(ctx context.Context) error {
	now := r.now().UTC()
	r.client.Status = StatusSuccess
	r.client.ErrorMessage = ""
	r.client.ErrorMetadata = nil
	r.client.LastRunAt = &now
	return traced(r.clients.Save(ctx, r.client))
}

func (r *run) recordFailure(ctx context.Context, cause error, lines []string) error {
	now := r.now().UTC()
	r.client.Status = StatusFailed
	r.client.ErrorMessage = cause.Error()
	r.client.ErrorMetadata = &ErrorMetadata{Backtrace: lines}
	r.client.LastRunAt = &now
	return r.clients.Save(ctx, r.client)
}

// tracedError carries the stack of the run step where err arose.
type tracedError struct {
	err   error
	stack []string
}

func (e *tracedError) Error() string { return e.err.Error() }
func (e *tracedError) Unwrap() error { return e.err }

// traced captures the caller's stack unless err already carries one.
func traced(err error) error {
	if err == nil {
		return nil
	}
	var te *tracedError
	if errors.As(err, &te) {
		return err
	}
	return &tracedError{err: err, stack: callers(3)}
}

// backtrace is the excerpt recorded for a failed run: the stack captured
// where err arose, or for panics the panicking frames. Called only from
// Run's deferred recorder.
func backtrace(err error) []string {
	var te *tracedError
	if errors.As(err, &te) {
		return te.stack
	}
	// skip runtime.Callers, callers, backtrace and the deferred recorder
	return callers(4)
}

// callers renders at most backtraceLines frames starting skip frames up,
// leaving out runtime internals such as gopanic.
func callers(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var lines []string
	for len(lines) < backtraceLines {
		f, more := frames.Next()
		if f.Function != "" && !strings.HasPrefix(f.Function, "runtime.") {
			lines = append(lines, fmt.Sprintf("%s:%d in %s", f.File, f.Line, f.Function))
		}
		if !more {
			break
		}
	}
	return lines
}
