package scaler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/qscaler/internal/scaling"
)

const namespace = "qscaler"

// Collectors are the Prometheus series exported by the loop.
type Collectors struct {
	CPUPercent     prometheus.Gauge
	QueueDepth     prometheus.Gauge
	QueueFallbacks prometheus.Counter
	TargetProcs    prometheus.Gauge
	PersistedProcs prometheus.Gauge
	Ticks          *prometheus.CounterVec
	Rollbacks      prometheus.Counter
	Degraded       prometheus.Gauge
	Drifts         prometheus.Counter
	TickDuration   prometheus.Histogram
}

// NewCollectors creates unregistered collectors. Every outcome label is
// initialised so the series exist before the first tick.
func NewCollectors() *Collectors {
	c := &Collectors{
		CPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_percent",
			Help:      "Host CPU usage sampled on the last tick.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queue depth sampled on the last tick (0 when the queue could not be read).",
		}),
		QueueFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_depth_fallbacks_total",
			Help:      "Ticks where the queue depth could not be read and was taken as 0.",
		}),
		TargetProcs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_procs",
			Help:      "Worker count chosen by the policy on the last non-skipped tick.",
		}),
		PersistedProcs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persisted_procs",
			Help:      "Worker count in the supervisor program configuration.",
		}),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks completed, by outcome.",
		}, []string{"outcome"}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Failed applies that triggered a rollback.",
		}),
		Degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "1 while the persisted count may disagree with the running supervisor.",
		}),
		Drifts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_events_total",
			Help:      "Times the persisted count was found changed by something other than the loop.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a tick, sampling included.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	for _, o := range Outcomes() {
		c.Ticks.WithLabelValues(string(o))
	}
	return c
}

func (c *Collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.CPUPercent,
		c.QueueDepth,
		c.QueueFallbacks,
		c.TargetProcs,
		c.PersistedProcs,
		c.Ticks,
		c.Rollbacks,
		c.Degraded,
		c.Drifts,
		c.TickDuration,
	}
}

// Register adds every collector to reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range c.all() {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// RecordDrift counts an out-of-band change to the persisted count. It fits
// supervisor.DriftFunc.
func (c *Collectors) RecordDrift(persisted, expected int) {
	c.Drifts.Inc()
}

// observe records a finished tick.
func (c *Collectors) observe(res TickResult) {
	c.Ticks.WithLabelValues(string(res.Outcome)).Inc()
	c.TickDuration.Observe(res.Duration.Seconds())

	if res.Decision.Reason != scaling.ReasonCPUUnavailable {
		c.CPUPercent.Set(res.Metrics.CPUPercent)
	}
	c.QueueDepth.Set(float64(res.Metrics.QueueDepth))
	if res.Metrics.QueueDepthFallback {
		c.QueueFallbacks.Inc()
	}

	if !res.CountKnown {
		return
	}
	c.TargetProcs.Set(float64(res.Target))

	switch res.Outcome {
	case OutcomeUnchanged, OutcomeApplied:
		c.PersistedProcs.Set(float64(res.Target))
		c.Degraded.Set(0)
	case OutcomeRolledBack:
		c.Rollbacks.Inc()
		c.PersistedProcs.Set(float64(res.Previous))
		c.Degraded.Set(0)
	case OutcomeDegraded:
		c.Rollbacks.Inc()
		c.Degraded.Set(1)
	}
}
