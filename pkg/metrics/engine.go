package metrics

import "time"

// EngineMetrics is the collection surface of the task engine. A nil instance
// disables collection.
type EngineMetrics interface {
	// ObserveTick records the duration of one orchestrator pass and the
	// number of tasks it dispatched.
	ObserveTick(duration time.Duration, dispatched int)

	// TaskCompleted counts a task reaching completed, by kind.
	TaskCompleted(kind string)

	// TaskRetried counts a failed attempt that was rescheduled, by kind.
	TaskRetried(kind string)

	// TaskFailed counts a task exhausting its attempt budget, by kind.
	TaskFailed(kind string)

	// NotificationCreated counts a deduplicated admin notification, by
	// error type.
	NotificationCreated(errorType string)

	// DirectoryError counts a failed directory operation.
	DirectoryError(operation string)
}

// NewEngineMetrics creates a Prometheus-backed EngineMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), in
// which case callers pass nil through to components.
func NewEngineMetrics() EngineMetrics {
	if !IsEnabled() || newPrometheusEngineMetrics == nil {
		return nil
	}
	return newPrometheusEngineMetrics()
}

// newPrometheusEngineMetrics is implemented in pkg/metrics/prometheus.
// The indirection keeps client_golang types out of component imports.
var newPrometheusEngineMetrics func() EngineMetrics

// RegisterEngineMetricsConstructor registers the Prometheus engine metrics
// constructor. Called by pkg/metrics/prometheus during package init.
func RegisterEngineMetricsConstructor(constructor func() EngineMetrics) {
	newPrometheusEngineMetrics = constructor
}
