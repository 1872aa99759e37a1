package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	corejobs "github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/core/metrics"
	"github.com/kilianp07/citro80/infra/logger"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("jobs: queue closed")

// MemoryQueue is an in-process queue. Jobs are lost when the process exits.
type MemoryQueue struct {
	cfg    Config
	policy RetryPolicy
	sink   metrics.Sink
	log    logger.Logger
	ch     chan corejobs.Job
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
	timers  map[*time.Timer]struct{}
}

var (
	_ corejobs.Queue    = (*MemoryQueue)(nil)
	_ corejobs.Consumer = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(cfg Config, sink metrics.Sink) *MemoryQueue {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &MemoryQueue{
		cfg:    cfg,
		policy: cfg.Policy(),
		sink:   sink,
		log:    logger.New("jobs_memory"),
		ch:     make(chan corejobs.Job, 1024),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue adds a job to the queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, name string, payload any) error {
	j, err := corejobs.New(name, payload)
	if err != nil {
		return err
	}
	return q.push(ctx, j)
}

func (q *MemoryQueue) push(ctx context.Context, j corejobs.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending.Add(1)
	q.mu.Unlock()
	defer q.pending.Done()
	select {
	case q.ch <- j:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs cfg.Concurrency workers until ctx is cancelled.
func (q *MemoryQueue) Consume(ctx context.Context, reg *corejobs.Registry) error {
	runner := &corejobs.Runner{Registry: reg, Timeout: q.cfg.Timeout(), Metrics: q.sink, Logger: q.log}
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-q.ch:
					q.handle(ctx, runner, j)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *MemoryQueue) handle(ctx context.Context, runner *corejobs.Runner, j corejobs.Job) {
	err := runner.Run(ctx, j)
	if err == nil {
		return
	}
	if !q.policy.ShouldRetry(j.Attempt, err) {
		runner.Exhausted(j, err)
		return
	}
	delay := q.policy.Delay(j.Attempt)
	q.log.Warnf("job %s (%s) attempt %d failed, retrying in %s: %v", j.Name, j.ID, j.Attempt, delay, err)
	j.Attempt++
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		if err := q.push(context.Background(), j); err != nil && !errors.Is(err, ErrQueueClosed) {
			q.log.Errorf("requeue %s: %v", j.ID, err)
		}
	})
	q.timers[t] = struct{}{}
	q.mu.Unlock()
}

// Len reports the number of jobs waiting to be consumed.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Close stops accepting jobs, cancels scheduled retries and releases pushes
// blocked on a full queue.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	q.mu.Unlock()
	q.pending.Wait()
}
