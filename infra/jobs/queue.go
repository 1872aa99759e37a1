package jobs

import (
	"context"

	corejobs "github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/core/metrics"
)

// Backend is a queue that can also consume and be closed.
type Backend interface {
	corejobs.Queue
	corejobs.Consumer
	Close()
}

// New returns the backend selected by cfg.Backend.
func New(ctx context.Context, cfg Config, sink metrics.Sink) (Backend, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == "nats" {
		q, err := NewNATSQueue(ctx, cfg, sink)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	return NewMemoryQueue(cfg, sink), nil
}
