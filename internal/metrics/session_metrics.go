package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics holds the Prometheus instruments a monitoring session
// updates alongside its own counters. Each session registers into its own
// registry so repeated sessions in one process never collide.
type SessionMetrics struct {
	Registry *prometheus.Registry

	ChecksTotal         prometheus.Counter
	FailuresTotal       prometheus.Counter
	SlowResponsesTotal  prometheus.Counter
	RollbacksTotal      prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
	LatencyMs           prometheus.Histogram
}

// NewSessionMetrics creates and registers the session instruments, labeled
// with the target environment.
func NewSessionMetrics(environment string) *SessionMetrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"environment": environment}

	m := &SessionMetrics{
		Registry: reg,
		ChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "failsafe_checks_total",
			Help:        "Total health checks performed by the session",
			ConstLabels: labels,
		}),
		FailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "failsafe_check_failures_total",
			Help:        "Total failed health checks",
			ConstLabels: labels,
		}),
		SlowResponsesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "failsafe_slow_responses_total",
			Help:        "Successful checks slower than the latency threshold",
			ConstLabels: labels,
		}),
		RollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "failsafe_rollbacks_triggered_total",
			Help:        "Rollbacks triggered by breach of the failure threshold",
			ConstLabels: labels,
		}),
		ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "failsafe_consecutive_failures",
			Help:        "Current consecutive health check failure streak",
			ConstLabels: labels,
		}),
		LatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "failsafe_check_latency_ms",
			Help:        "Health check latency in milliseconds",
			ConstLabels: labels,
			Buckets:     []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
	}

	reg.MustRegister(
		m.ChecksTotal,
		m.FailuresTotal,
		m.SlowResponsesTotal,
		m.RollbacksTotal,
		m.ConsecutiveFailures,
		m.LatencyMs,
	)
	return m
}
