// Package prometheus implements the metrics interfaces on
// prometheus/client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lliwi/sar-v3-sub000/pkg/metrics"
)

func init() {
	metrics.RegisterEngineMetricsConstructor(NewEngineMetrics)
}

// engineMetrics is the Prometheus implementation of metrics.EngineMetrics.
type engineMetrics struct {
	tickDuration   prometheus.Histogram
	tickDispatched prometheus.Histogram
	tasksCompleted *prometheus.CounterVec
	tasksRetried   *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	directoryErrs  *prometheus.CounterVec
}

// NewEngineMetrics creates a Prometheus-backed EngineMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewEngineMetrics() metrics.EngineMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &engineMetrics{
		tickDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "sar_tick_duration_seconds",
				Help: "Duration of orchestrator processing passes",
				Buckets: []float64{
					0.01, // empty sweep
					0.05,
					0.1,
					0.5,
					1,
					5,
					30,  // queued workflow submissions
					120, // synchronous waits
					300,
				},
			},
		),
		tickDispatched: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sar_tick_dispatched_tasks",
				Help:    "Number of tasks dispatched per orchestrator pass",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),
		tasksCompleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sar_tasks_completed_total",
				Help: "Total tasks that reached completed status, by kind",
			},
			[]string{"kind"},
		),
		tasksRetried: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sar_tasks_retried_total",
				Help: "Total failed attempts rescheduled for retry, by kind",
			},
			[]string{"kind"},
		),
		tasksFailed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sar_tasks_failed_total",
				Help: "Total tasks that exhausted their attempt budget, by kind",
			},
			[]string{"kind"},
		),
		notifications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sar_admin_notifications_total",
				Help: "Total admin notifications created, by error type",
			},
			[]string{"error_type"},
		),
		directoryErrs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sar_directory_errors_total",
				Help: "Total failed directory operations, by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *engineMetrics) ObserveTick(duration time.Duration, dispatched int) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(duration.Seconds())
	m.tickDispatched.Observe(float64(dispatched))
}

func (m *engineMetrics) TaskCompleted(kind string) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(kind).Inc()
}

func (m *engineMetrics) TaskRetried(kind string) {
	if m == nil {
		return
	}
	m.tasksRetried.WithLabelValues(kind).Inc()
}

func (m *engineMetrics) TaskFailed(kind string) {
	if m == nil {
		return
	}
	m.tasksFailed.WithLabelValues(kind).Inc()
}

func (m *engineMetrics) NotificationCreated(errorType string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(errorType).Inc()
}

func (m *engineMetrics) DirectoryError(operation string) {
	if m == nil {
		return
	}
	m.directoryErrs.WithLabelValues(operation).Inc()
}
