// Package metrics provides Prometheus metrics for the reconciliation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appraisal"

// Chunk statuses.
const (
	StatusSuccess = "success"
	StatusRetry   = "retry"
	StatusFailed  = "failed"
)

// Metrics holds all reconciliation metrics.
type Metrics struct {
	// Counters
	ChunksTotal    *prometheus.CounterVec
	RecordsWritten *prometheus.CounterVec
	RunsTotal      *prometheus.CounterVec

	// Gauges
	ActiveRuns prometheus.Gauge

	// Histograms
	ChunkDuration *prometheus.HistogramVec
	RunDuration   prometheus.Histogram

	registry *prometheus.Registry
	enabled  bool
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
}

// New creates a metrics instance on a private registry. A disabled instance
// accepts every call and records nothing.
func New(cfg Config) *Metrics {
	m := &Metrics{
		enabled:  cfg.Enabled,
		registry: prometheus.NewRegistry(),
	}

	if !cfg.Enabled {
		return m
	}

	m.ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_chunks_total",
			Help:      "Total batch chunks by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	m.RecordsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Total records written by operation",
		},
		[]string{"operation"},
	)

	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Total reconciliation runs by final status",
		},
		[]string{"status"},
	)

	m.ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_active",
			Help:      "Number of reconciliation runs in flight",
		},
	)

	m.ChunkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_chunk_duration_seconds",
			Help:      "Time spent writing one chunk",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	m.RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_run_duration_seconds",
			Help:      "Wall-clock time from upload to saved report",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 900, 1800},
		},
	)

	m.registry.MustRegister(
		m.ChunksTotal,
		m.RecordsWritten,
		m.RunsTotal,
		m.ActiveRuns,
		m.ChunkDuration,
		m.RunDuration,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IsEnabled returns true if metrics are enabled.
func (m *Metrics) IsEnabled() bool {
	return m != nil && m.enabled
}

// RecordChunk counts one chunk attempt outcome. Successful chunks also add
// their records to the written total.
func (m *Metrics) RecordChunk(operation, status string, records int, duration time.Duration) {
	if !m.IsEnabled() {
		return
	}
	m.ChunksTotal.WithLabelValues(operation, status).Inc()
	m.ChunkDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if status == StatusSuccess {
		m.RecordsWritten.WithLabelValues(operation).Add(float64(records))
	}
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m.IsEnabled() {
		m.ActiveRuns.Inc()
	}
}

// RunFinished decrements the active run gauge and counts the final status.
func (m *Metrics) RunFinished(status string, duration time.Duration) {
	if !m.IsEnabled() {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
}
