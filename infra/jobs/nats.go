package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	corejobs "github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/core/metrics"
	"github.com/kilianp07/citro80/infra/logger"
)

const fetchWait = 5 * time.Second

// NATSQueue stores jobs in a JetStream work-queue stream. Each job is
// delivered to one worker and redelivered with backoff until it succeeds
// or MaxAttempts is reached.
type NATSQueue struct {
	cfg    Config
	policy RetryPolicy
	sink   metrics.Sink
	log    logger.Logger
	nc     *nats.Conn
	js     jetstream.JetStream
}

var (
	_ corejobs.Queue    = (*NATSQueue)(nil)
	_ corejobs.Consumer = (*NATSQueue)(nil)
)

// NewNATSQueue connects to NATS and ensures the job stream exists.
func NewNATSQueue(ctx context.Context, cfg Config, sink metrics.Sink) (*NATSQueue, error) {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	log := logger.New("jobs_nats")
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("citro80"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs: connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jobs: jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jobs: ensure stream %s: %w", cfg.Stream, err)
	}
	return &NATSQueue{cfg: cfg, policy: cfg.Policy(), sink: sink, log: log, nc: nc, js: js}, nil
}

func (q *NATSQueue) subject(name string) string { return q.cfg.Subject + "." + name }

// Enqueue publishes a job. The job id doubles as the JetStream message id
// so duplicate publishes within the dedup window are dropped.
func (q *NATSQueue) Enqueue(ctx context.Context, name string, payload any) error {
	j, err := corejobs.New(name, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(ctx, q.subject(name), data, jetstream.WithMsgID(j.ID.String())); err != nil {
		return fmt.Errorf("jobs: publish %s: %w", name, err)
	}
	return nil
}

// Consume pulls jobs with a durable consumer until ctx is cancelled.
func (q *NATSQueue) Consume(ctx context.Context, reg *corejobs.Registry) error {
	cons, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       q.cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.Timeout() + 30*time.Second,
		MaxDeliver:    q.cfg.MaxAttempts,
		MaxAckPending: q.cfg.Concurrency * 4,
		FilterSubject: q.cfg.Subject + ".>",
	})
	if err != nil {
		return fmt.Errorf("jobs: create consumer %s: %w", q.cfg.Durable, err)
	}
	runner := &corejobs.Runner{Registry: reg, Timeout: q.cfg.Timeout(), Metrics: q.sink, Logger: q.log}
	q.log.Infof("consuming %s on stream %s as %s", q.cfg.Subject+".>", q.cfg.Stream, q.cfg.Durable)

	sem := make(chan struct{}, q.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()
	for ctx.Err() == nil {
		batch, err := cons.Fetch(q.cfg.Concurrency, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			q.log.Errorf("fetch jobs: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for msg := range batch.Messages() {
			sem <- struct{}{}
			wg.Add(1)
			go func(m jetstream.Msg) {
				defer wg.Done()
				defer func() { <-sem }()
				q.handle(ctx, runner, m)
			}(msg)
		}
		if err := batch.Error(); err != nil && ctx.Err() == nil {
			q.log.Debugf("fetch batch: %v", err)
		}
	}
	return nil
}

func (q *NATSQueue) handle(ctx context.Context, runner *corejobs.Runner, msg jetstream.Msg) {
	var j corejobs.Job
	if err := json.Unmarshal(msg.Data(), &j); err != nil {
		q.log.Errorf("drop malformed job on %s: %v", msg.Subject(), err)
		_ = msg.Term()
		return
	}
	if md, err := msg.Metadata(); err == nil {
		j.Attempt = int(md.NumDelivered)
	}
	err := runner.Run(ctx, j)
	if err == nil {
		if aerr := msg.Ack(); aerr != nil {
			q.log.Warnf("ack %s: %v", j.ID, aerr)
		}
		return
	}
	if !q.policy.ShouldRetry(j.Attempt, err) {
		runner.Exhausted(j, err)
		_ = msg.Term()
		return
	}
	delay := q.policy.Delay(j.Attempt)
	q.log.Warnf("job %s (%s) attempt %d failed, redelivery in %s: %v", j.Name, j.ID, j.Attempt, delay, err)
	if nerr := msg.NakWithDelay(delay); nerr != nil {
		q.log.Errorf("nak %s: %v", j.ID, nerr)
	}
}

// Close drains the connection.
func (q *NATSQueue) Close() {
	if err := q.nc.Drain(); err != nil {
		q.nc.Close()
	}
}
