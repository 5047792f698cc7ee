package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnauthorized is returned by a MetricSource when the access token is
// rejected.
var ErrUnauthorized = errors.New("metric source rejected access token")

// Metric categories, in sync order.
const (
	CategoryRecovery = "recovery"
	CategorySleep    = "sleep"
	CategoryWorkout  = "workout"
	CategoryCycle    = "cycle"
)

// Record is one raw entry returned by the metric source.
type Record map[string]any

// MetricSource fetches records of one category between two dates inclusive.
type MetricSource interface {
	Fetch(ctx context.Context, accessToken, category string, start, end time.Time) ([]Record, error)
}

// HTTPSource talks to the wearable REST API.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource builds a source whose client is traced and bounded by timeout.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// HTTPClient is shared with the token refresher.
func (s *HTTPSource) HTTPClient() *http.Client { return s.client }

func (s *HTTPSource) BaseURL() string { return s.baseURL }

type recordsResponse struct {
	Records []Record `json:"records"`
}

func (s *HTTPSource) Fetch(ctx context.Context, accessToken, category string, start, end time.Time) ([]Record, error) {
	q := url.Values{}
	q.Set("start", start.Format(time.DateOnly))
	q.Set("end", end.Format(time.DateOnly))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+category+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", category, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", category, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", category, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%s: %w", category, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("metric source error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out recordsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", category, err)
	}
	return out.Records, nil
}
