package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync holds the sync counters and timings exported at /metrics.
type Sync struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewSync registers sync metrics on a private registry.
func NewSync() *Sync {
	m := &Sync{registry: prometheus.NewRegistry()}
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brickstock",
		Name:      "sync_runs_total",
		Help:      "Sync runs by platform, kind and final status.",
	}, []string{"platform", "kind", "status"})
	m.records = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brickstock",
		Name:      "sync_records_total",
		Help:      "Records handled by sync runs, by outcome.",
	}, []string{"platform", "kind", "outcome"})
	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "brickstock",
		Name:      "sync_duration_seconds",
		Help:      "Wall time of sync runs.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"platform", "kind"})

	m.registry.MustRegister(m.runs, m.records, m.duration,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveRun records one finished sync run.
func (m *Sync) ObserveRun(platform, kind, status string, created, updated, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(platform, kind, status).Inc()
	m.records.WithLabelValues(platform, kind, "created").Add(float64(created))
	m.records.WithLabelValues(platform, kind, "updated").Add(float64(updated))
	m.records.WithLabelValues(platform, kind, "failed").Add(float64(failed))
	m.duration.WithLabelValues(platform, kind).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Sync) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
