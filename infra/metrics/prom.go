package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/citro80/core/metrics"
)

// PromSink records charge-kill events in Prometheus metrics.
type PromSink struct {
	decisions *prometheus.CounterVec
	actions   *prometheus.CounterVec
	battery   *prometheus.HistogramVec
	active    prometheus.Gauge
	enqueued  prometheus.Counter
	jobs      *prometheus.CounterVec
	jobTime   *prometheus.HistogramVec
}

// NewPromSink registers metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargekill_decisions_total",
			Help: "Number of charge-kill evaluations by outcome",
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargekill_actions_total",
			Help: "Stop-charging actions dispatched or reused, by resulting state",
		}, []string{"state", "reused"}),
		battery: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chargekill_battery_level_at_stop_percent",
			Help:    "Battery level reported when a stop command was issued",
			Buckets: prometheus.LinearBuckets(50, 5, 11),
		}, []string{"reused"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargekill_active_vehicles",
			Help: "Number of vehicles with an armed policy at the last tick",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargekill_jobs_enqueued_total",
			Help: "Number of kill-charging jobs enqueued by the scheduler",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Background job attempts by name and result",
		}, []string{"job", "result"}),
		jobTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobs_duration_seconds",
			Help:    "Background job execution time",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	s.decisions = register(reg, s.decisions)
	s.actions = register(reg, s.actions)
	s.battery = register(reg, s.battery)
	s.active = register(reg, s.active)
	s.enqueued = register(reg, s.enqueued)
	s.jobs = register(reg, s.jobs)
	s.jobTime = register(reg, s.jobTime)
	return s, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// RecordDecision counts the evaluation outcome.
func (s *PromSink) RecordDecision(ev coremetrics.DecisionEvent) error {
	s.decisions.WithLabelValues(ev.Outcome).Inc()
	return nil
}

// RecordAction counts the action and observes the battery level at stop.
func (s *PromSink) RecordAction(ev coremetrics.ActionEvent) error {
	reused := strconv.FormatBool(ev.Reused)
	s.actions.WithLabelValues(ev.State.String(), reused).Inc()
	if ev.BatteryLevel != nil {
		s.battery.WithLabelValues(reused).Observe(float64(*ev.BatteryLevel))
	}
	return nil
}

// RecordTick sets the active-vehicle gauge.
func (s *PromSink) RecordTick(ev coremetrics.TickEvent) error {
	s.active.Set(float64(ev.ActiveVehicles))
	s.enqueued.Add(float64(ev.Enqueued))
	return nil
}

// RecordJob counts a job attempt and its duration.
func (s *PromSink) RecordJob(ev coremetrics.JobEvent) error {
	result := "ok"
	if ev.Failed {
		result = "error"
	}
	s.jobs.WithLabelValues(ev.Name, result).Inc()
	s.jobTime.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
	return nil
}
