// Package metrics exposes resolution and generation counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autobrancher"

// Metrics records engine and generator events. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	entriesResolved    *prometheus.CounterVec
	documentsMissing   *prometheus.CounterVec
	documentsMalformed *prometheus.CounterVec
	routingOutcomes    *prometheus.CounterVec
	runs               *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
}

// New creates metrics registered on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		entriesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_resolved_total",
			Help:      "Entries appended to resolution sets, by kind.",
		}, []string{"kind"}),
		documentsMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_missing_total",
			Help:      "Referenced documents that could not be loaded, by collection.",
		}, []string{"collection"}),
		documentsMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_malformed_total",
			Help:      "Loaded documents that were not valid JSON, by collection.",
		}, []string{"collection"}),
		routingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_outcomes_total",
			Help:      "Model routing results, by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Protocol runs, by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Time to resolve and render one protocol.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.entriesResolved,
		m.documentsMissing,
		m.documentsMalformed,
		m.routingOutcomes,
		m.runs,
		m.runDuration,
	)
	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EntryResolved implements resolve.Recorder.
func (m *Metrics) EntryResolved(kind string) {
	if m == nil {
		return
	}
	m.entriesResolved.WithLabelValues(kind).Inc()
}

// DocumentMissing implements resolve.Recorder.
func (m *Metrics) DocumentMissing(collection string) {
	if m == nil {
		return
	}
	m.documentsMissing.WithLabelValues(collection).Inc()
}

// DocumentMalformed implements resolve.Recorder.
func (m *Metrics) DocumentMalformed(collection string) {
	if m == nil {
		return
	}
	m.documentsMalformed.WithLabelValues(collection).Inc()
}

// RoutingOutcome implements resolve.Recorder.
func (m *Metrics) RoutingOutcome(outcome string) {
	if m == nil {
		return
	}
	m.routingOutcomes.WithLabelValues(outcome).Inc()
}

// RunFinished implements generate.Observer.
func (m *Metrics) RunFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}
