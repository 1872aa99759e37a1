package metrics

import coremetrics "github.com/kilianp07/citro80/core/metrics"

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDecision forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordDecision(ev coremetrics.DecisionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordDecision(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordAction forwards action events.
func (m *MultiSink) RecordAction(ev coremetrics.ActionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAction(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordTick forwards tick events when supported by the sink.
func (m *MultiSink) RecordTick(ev coremetrics.TickEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.TickRecorder); ok {
			if err := rec.RecordTick(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordJob forwards job events when supported by the sink.
func (m *MultiSink) RecordJob(ev coremetrics.JobEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.JobRecorder); ok {
			if err := rec.RecordJob(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// New builds the sink described by cfg: Prometheus, InfluxDB, both or none.
func New(cfg coremetrics.Config) (coremetrics.Sink, error) {
	var sinks []coremetrics.Sink
	if cfg.PrometheusEnabled {
		sink, err := NewPromSink()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, NewInfluxSinkWithFallback(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket))
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
