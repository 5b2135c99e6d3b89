// Package metrics instruments the coordinator, outbox drainer, and timer
// wheel with Prometheus collectors, grounded on the teacher's
// MetricsCollector convention of one struct bundling named
// counters/gauges/histograms registered against a single registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles every metric the engine exports.
type Collector struct {
	SagasStarted      *prometheus.CounterVec
	SagasCompleted    *prometheus.CounterVec
	SagasCompensated  *prometheus.CounterVec
	SagasFailed       *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	CompensationTotal *prometheus.CounterVec
	OutboxPending     prometheus.Gauge
	OutboxDelivered   prometheus.Counter
	OutboxFailed      prometheus.Counter
	TimersFired       *prometheus.CounterVec
}

// New creates a Collector and registers every metric against reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SagasStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_started_total",
			Help: "Saga instances started, by definition name.",
		}, []string{"definition"}),
		SagasCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_completed_total",
			Help: "Saga instances completed successfully, by definition name.",
		}, []string{"definition"}),
		SagasCompensated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_compensated_total",
			Help: "Saga instances fully compensated after a failure, by definition name.",
		}, []string{"definition"}),
		SagasFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_failed_total",
			Help: "Saga instances left in a failed/compensation-failed state, by definition name.",
		}, []string{"definition"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Step handler execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"definition", "step"}),
		CompensationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_compensation_total",
			Help: "Compensation actions executed, by outcome.",
		}, []string{"definition", "step", "outcome"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "saga_outbox_pending",
			Help: "Outbox messages currently pending delivery.",
		}),
		OutboxDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_outbox_delivered_total",
			Help: "Outbox messages successfully delivered.",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_outbox_failed_total",
			Help: "Outbox messages that exhausted retries.",
		}),
		TimersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_timer_fired_total",
			Help: "Timeout/heartbeat timers fired, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.SagasStarted, c.SagasCompleted, c.SagasCompensated, c.SagasFailed,
		c.StepDuration, c.CompensationTotal,
		c.OutboxPending, c.OutboxDelivered, c.OutboxFailed,
		c.TimersFired,
	)
	return c
}

// ObserveStep records a step handler's execution latency.
func (c *Collector) ObserveStep(definition, step string, d time.Duration) {
	c.StepDuration.WithLabelValues(definition, step).Observe(d.Seconds())
}
