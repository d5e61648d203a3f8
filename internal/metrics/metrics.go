// Package metrics holds the engine's Prometheus collectors
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Task metrics
	TasksGenerated      *prometheus.CounterVec
	ScheduleAdjustments *prometheus.CounterVec
	StageTransitions    *prometheus.CounterVec

	// Batcher metrics
	NotificationsEnqueued *prometheus.CounterVec
	PendingNotifications  prometheus.Gauge
	BatchesDispatched     *prometheus.CounterVec
	BatchesFailed         *prometheus.CounterVec
	BatchesSkipped        *prometheus.CounterVec
	BatchSize             *prometheus.HistogramVec
	SchedulingConflicts   prometheus.Counter
	DispatchRetries       prometheus.Counter
	Cancellations         *prometheus.CounterVec

	// Escalation metrics
	EscalationsSent     *prometheus.CounterVec
	EscalationFailures  prometheus.Counter
	EscalationsTracked  prometheus.Gauge
	EscalationSweepTime prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TasksGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_tasks_generated_total",
				Help: "Total number of care tasks generated",
			},
			[]string{"task_type", "stage"},
		),
		ScheduleAdjustments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_schedule_adjustments_total",
				Help: "Total number of task mutations from environmental readings",
			},
			[]string{"task_type"},
		),
		StageTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_stage_transitions_total",
				Help: "Total number of growth stage transitions detected",
			},
			[]string{"from", "to"},
		),

		NotificationsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_notifications_enqueued_total",
				Help: "Total number of notification requests enqueued",
			},
			[]string{"priority"},
		),
		PendingNotifications: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plantcare_notifications_pending",
				Help: "Notification requests waiting for the next flush",
			},
		),
		BatchesDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_batches_dispatched_total",
				Help: "Total number of notification batches dispatched",
			},
			[]string{"batch_type"},
		),
		BatchesFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_batches_failed_total",
				Help: "Total number of batches that exhausted their retries",
			},
			[]string{"batch_type"},
		),
		BatchesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_batches_skipped_total",
				Help: "Total number of notification requests skipped without dispatch",
			},
			[]string{"reason"},
		),
		BatchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plantcare_batch_size",
				Help:    "Number of task notifications per dispatched batch",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"batch_type"},
		),
		SchedulingConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plantcare_scheduling_conflicts_total",
				Help: "Batches whose scheduled time had already passed and fired immediately",
			},
		),
		DispatchRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plantcare_dispatch_retries_total",
				Help: "Total number of dispatch retry attempts",
			},
		),
		Cancellations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_notification_cancellations_total",
				Help: "Total number of notification cancellations by outcome",
			},
			[]string{"outcome"},
		),

		EscalationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plantcare_escalations_sent_total",
				Help: "Total number of overdue escalation notifications sent",
			},
			[]string{"level"},
		),
		EscalationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plantcare_escalation_failures_total",
				Help: "Total number of escalation dispatch failures",
			},
		),
		EscalationsTracked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plantcare_escalations_tracked",
				Help: "Overdue tasks currently tracked by the escalation sweep",
			},
		),
		EscalationSweepTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plantcare_escalation_sweep_duration_seconds",
				Help:    "Escalation sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// NewRegistry returns a fresh registry with the engine metrics registered
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor exposes a gatherer over HTTP
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// TaskGenerated counts one generated task
func (m *Metrics) TaskGenerated(taskType, stage string) {
	if m == nil {
		return
	}
	m.TasksGenerated.WithLabelValues(taskType, stage).Inc()
}

// ScheduleAdjusted counts one environmental mutation
func (m *Metrics) ScheduleAdjusted(taskType string) {
	if m == nil {
		return
	}
	m.ScheduleAdjustments.WithLabelValues(taskType).Inc()
}

// StageTransitioned counts a detected stage change
func (m *Metrics) StageTransitioned(from, to string) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(from, to).Inc()
}

// Enqueued counts an enqueued request and sets the pending gauge
func (m *Metrics) Enqueued(priority string, pending int) {
	if m == nil {
		return
	}
	m.NotificationsEnqueued.WithLabelValues(priority).Inc()
	m.PendingNotifications.Set(float64(pending))
}

// SetPending sets the pending gauge
func (m *Metrics) SetPending(pending int) {
	if m == nil {
		return
	}
	m.PendingNotifications.Set(float64(pending))
}

// BatchDispatched records a dispatched batch and the retries it took
func (m *Metrics) BatchDispatched(batchType string, size, retries int) {
	if m == nil {
		return
	}
	m.BatchesDispatched.WithLabelValues(batchType).Inc()
	m.BatchSize.WithLabelValues(batchType).Observe(float64(size))
	m.DispatchRetries.Add(float64(retries))
}

// BatchFailed records a batch that exhausted its retries
func (m *Metrics) BatchFailed(batchType string, retries int) {
	if m == nil {
		return
	}
	m.BatchesFailed.WithLabelValues(batchType).Inc()
	m.DispatchRetries.Add(float64(retries))
}

// BatchSkipped records a request dropped from its batch without dispatch
func (m *Metrics) BatchSkipped(reason string) {
	if m == nil {
		return
	}
	m.BatchesSkipped.WithLabelValues(reason).Inc()
}

// SchedulingConflict records a batch clamped to fire immediately
func (m *Metrics) SchedulingConflict() {
	if m == nil {
		return
	}
	m.SchedulingConflicts.Inc()
}

// Cancelled records a cancellation outcome
func (m *Metrics) Cancelled(outcome string) {
	if m == nil {
		return
	}
	m.Cancellations.WithLabelValues(outcome).Inc()
}

// EscalationSent records a sent escalation
func (m *Metrics) EscalationSent(level string) {
	if m == nil {
		return
	}
	m.EscalationsSent.WithLabelValues(level).Inc()
}

// EscalationFailed records a failed escalation dispatch
func (m *Metrics) EscalationFailed() {
	if m == nil {
		return
	}
	m.EscalationFailures.Inc()
}

// SweepFinished records sweep duration and tracked count
func (m *Metrics) SweepFinished(seconds float64, tracked int) {
	if m == nil {
		return
	}
	m.EscalationSweepTime.Observe(seconds)
	m.EscalationsTracked.Set(float64(tracked))
}
