// Package metrics exposes Prometheus metrics for the writing engine, the
// oracle client and the HTTP layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step outcomes.
const (
	OutcomeRejected  = "rejected"
	OutcomeAccepted  = "accepted"
	OutcomeCompleted = "completed"
	OutcomeConflict  = "conflict"
	OutcomeClosed    = "closed"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Metrics holds all Prometheus metrics for penpal.
type Metrics struct {
	// Writing engine
	StepsTotal       *prometheus.CounterVec
	StepDuration     prometheus.Histogram
	StepRetries      prometheus.Counter
	SessionsStarted  prometheus.Counter
	MistakesRecorded prometheus.Counter

	// Oracle
	OracleRequests  *prometheus.CounterVec
	OracleFallbacks *prometheus.CounterVec
	OracleLatency   *prometheus.HistogramVec

	// HTTP
	RateLimited *prometheus.CounterVec

	// Background
	RemindersSent prometheus.Counter
	ConvLogDrops  prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics. Registration
// happens once per process; later calls return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			StepsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "penpal_writing_steps_total",
					Help: "Writing session steps by outcome",
				},
				[]string{"outcome"},
			),
			StepDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "penpal_writing_step_duration_seconds",
					Help:    "Duration of a writing session step in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
				},
			),
			StepRetries: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "penpal_writing_step_conflict_retries_total",
					Help: "Step attempts retried after a message order conflict",
				},
			),
			SessionsStarted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "penpal_writing_sessions_started_total",
					Help: "Writing sessions started",
				},
			),
			MistakesRecorded: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "penpal_writing_mistakes_total",
					Help: "Mistakes recorded from rejected submissions",
				},
			),
			OracleRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "penpal_oracle_requests_total",
					Help: "Oracle calls by operation and result",
				},
				[]string{"operation", "result"},
			),
			OracleFallbacks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "penpal_oracle_fallbacks_total",
					Help: "Oracle calls answered with the fallback value",
				},
				[]string{"operation"},
			),
			OracleLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "penpal_oracle_latency_seconds",
					Help:    "Oracle call latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
				},
				[]string{"operation"},
			),
			RateLimited: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "penpal_rate_limited_total",
					Help: "Requests rejected by the rate limiter",
				},
				[]string{"route"},
			),
			RemindersSent: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "penpal_reminders_sent_total",
					Help: "Practice reminders delivered",
				},
			),
			ConvLogDrops: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "penpal_conversation_log_dropped_total",
					Help: "Conversation log events dropped because the queue was full",
				},
			),
		}
	})
	return sharedMetrics
}

// RecordStep records a step outcome and its duration in seconds.
func (m *Metrics) RecordStep(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(outcome).Inc()
	m.StepDuration.Observe(seconds)
}

// RecordOracleCall records one oracle call.
func (m *Metrics) RecordOracleCall(operation string, fallback bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if fallback {
		result = "fallback"
		m.OracleFallbacks.WithLabelValues(operation).Inc()
	}
	m.OracleRequests.WithLabelValues(operation, result).Inc()
	m.OracleLatency.WithLabelValues(operation).Observe(seconds)
}
