// Package metrics provides Prometheus metrics for the Slack bridge:
// queue depth per directory, job outcomes, agent invocation latency,
// dedup skips, and thread-store cleanup activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	QueueDepth         *prometheus.GaugeVec
	JobsTotal          *prometheus.CounterVec
	AgentDuration      prometheus.Histogram
	DedupSkipsTotal    prometheus.Counter
	ThreadCleanupTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics on a fresh registry (not the
// global default, so callers can hold independent instances in tests).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pai_slack_bridge_queue_depth",
				Help: "Number of job files currently in each queue directory.",
			},
			[]string{"directory"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pai_slack_bridge_jobs_total",
				Help: "Total jobs processed, by terminal outcome.",
			},
			[]string{"outcome"},
		),
		AgentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pai_slack_bridge_agent_invocation_duration_seconds",
				Help:    "Duration of external agent CLI invocations.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		DedupSkipsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pai_slack_bridge_dedup_skips_total",
				Help: "Total messages dropped by the thread-store dedup window.",
			},
		),
		ThreadCleanupTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pai_slack_bridge_thread_cleanup_files_deleted_total",
				Help: "Total thread-transcript files deleted by cleanup sweeps.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.QueueDepth)
	reg.MustRegister(m.JobsTotal)
	reg.MustRegister(m.AgentDuration)
	reg.MustRegister(m.DedupSkipsTotal)
	reg.MustRegister(m.ThreadCleanupTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetQueueDepths updates the per-directory depth gauges in one call. A
// nil Metrics is a no-op, so callers may hold an optional *Metrics.
func (m *Metrics) SetQueueDepths(pending, processing, completed, failed int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.QueueDepth.WithLabelValues("processing").Set(float64(processing))
	m.QueueDepth.WithLabelValues("completed").Set(float64(completed))
	m.QueueDepth.WithLabelValues("failed").Set(float64(failed))
}

// ObserveJobOutcome increments the jobs-total counter for the given
// terminal outcome ("completed" or "failed").
func (m *Metrics) ObserveJobOutcome(outcome string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAgentDuration records one agent CLI invocation's duration.
func (m *Metrics) ObserveAgentDuration(seconds float64) {
	if m == nil {
		return
	}
	m.AgentDuration.Observe(seconds)
}

// IncDedupSkip increments the dedup-skip counter.
func (m *Metrics) IncDedupSkip() {
	if m == nil {
		return
	}
	m.DedupSkipsTotal.Inc()
}

// AddThreadCleanup adds n to the thread-cleanup-deleted counter.
func (m *Metrics) AddThreadCleanup(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ThreadCleanupTotal.Add(float64(n))
}
