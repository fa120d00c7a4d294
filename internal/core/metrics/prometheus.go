package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

// PromExporter mirrors the Sink's counters into Prometheus collectors on a
// process-local registry. It is deliberately not served over HTTP here —
// the HTTP surface is out of scope — but Registry() exposes the
// *prometheus.Registry so an operator can wire a promhttp.Handler wherever
// the rest of their HTTP surface lives.
type PromExporter struct {
	registry  *prometheus.Registry
	attempts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewPromExporter builds an exporter with its own registry, so multiple
// Sinks in the same process (e.g. in tests) never collide on collector
// registration.
func NewPromExporter() *PromExporter {
	reg := prometheus.NewRegistry()
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_source_attempts_total",
		Help: "Upstream source fetch attempts by source, data type, outcome, and error kind.",
	}, []string{"source", "data_type", "outcome", "error_kind"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketdata_source_latency_ms",
		Help:    "Upstream source fetch latency in milliseconds by source and data type.",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"source", "data_type"})

	reg.MustRegister(attempts, latency)

	return &PromExporter{registry: reg, attempts: attempts, latency: latency}
}

// Observe records one completed attempt.
func (p *PromExporter) Observe(sourceID, dataType string, success bool, errorKind quote.ErrorKind, latencyMs float64) {
	outcome := "success"
	kind := ""
	if !success {
		outcome = "failure"
		kind = string(errorKind)
	}
	p.attempts.WithLabelValues(sourceID, dataType, outcome, kind).Inc()
	p.latency.WithLabelValues(sourceID, dataType).Observe(latencyMs)
}

// Registry returns the underlying Prometheus registry.
func (p *PromExporter) Registry() *prometheus.Registry { return p.registry }

// Gather returns the current metric families, useful for tests asserting
// that a given source/dataType combination was observed.
func (p *PromExporter) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}
