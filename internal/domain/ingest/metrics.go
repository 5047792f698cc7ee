package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the ingestion collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs           *prometheus.CounterVec
	observations   *prometheus.CounterVec
	tokenRefreshes prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Ingestion runs by final status.",
		}, []string{"status"}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_observations_created_total",
			Help: "Derived observations written, by observation category.",
		}, []string{"category"}),
		tokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_token_refreshes_total",
			Help: "Successful OAuth token refreshes.",
		}),
	}
	reg.MustRegister(m.runs, m.observations, m.tokenRefreshes)
	return m
}

func (m *Metrics) runFinished(status string) {
	if m != nil {
		m.runs.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) observationCreated(category string) {
	if m != nil {
		m.observations.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) tokenRefreshed() {
	if m != nil {
		m.tokenRefreshes.Inc()
	}
}
