package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/core/logger"
	"github.com/kilianp07/citro80/core/metrics"
	"github.com/kilianp07/citro80/core/model"
)

// DefaultConcurrency bounds parallel enqueues during a tick.
const DefaultConcurrency = 16

// ActiveLister returns the vehicles whose policy is armed.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]model.VehicleSettings, error)
}

// Trigger enqueues kill-charging jobs for every active vehicle.
type Trigger struct {
	store       ActiveLister
	queue       jobs.Queue
	metrics     metrics.Sink
	logger      logger.Logger
	concurrency int
	now         func() time.Time
}

// NewTrigger creates a Trigger. A nil sink disables tick metrics.
func NewTrigger(store ActiveLister, queue jobs.Queue, sink metrics.Sink, log logger.Logger, concurrency int) (*Trigger, error) {
	if store == nil || queue == nil || log == nil {
		return nil, fmt.Errorf("scheduler: nil parameter provided to NewTrigger")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Trigger{store: store, queue: queue, metrics: sink, logger: log, concurrency: concurrency, now: time.Now}, nil
}

// Tick runs one pass and returns the number of jobs enqueued. Enqueue
// failures do not stop the other vehicles; the first one is returned.
func (t *Trigger) Tick(ctx context.Context) (int, error) {
	active, err := t.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list active vehicles: %w", err)
	}

	var enqueued atomic.Int64
	var firstErr atomic.Value
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, v := range active {
		id := v.ExternalID
		g.Go(func() error {
			if err := t.queue.Enqueue(gctx, jobs.KillCharging, jobs.KillChargingPayload{VehicleID: id}); err != nil {
				t.logger.Errorf("enqueue kill-charging for %s: %v", id, err)
				firstErr.CompareAndSwap(nil, fmt.Errorf("scheduler: enqueue %s: %w", id, err))
				return nil
			}
			enqueued.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(enqueued.Load())
	if rec, ok := t.metrics.(metrics.TickRecorder); ok {
		if err := rec.RecordTick(metrics.TickEvent{ActiveVehicles: len(active), Enqueued: n, Time: t.now()}); err != nil {
			t.logger.Warnf("record tick: %v", err)
		}
	}
	t.logger.Infof("tick: %d active vehicle(s), %d job(s) enqueued", len(active), n)
	if e, ok := firstErr.Load().(error); ok {
		return n, e
	}
	return n, nil
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := t.Tick(ctx); err != nil {
			t.logger.Errorf("tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
