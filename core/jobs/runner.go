package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/citro80/core/logger"
	"github.com/kilianp07/citro80/core/metrics"
	"github.com/kilianp07/citro80/core/monitoring"
)

// Runner executes single job attempts with a timeout, panic recovery and
// metrics. Queue backends share it.
type Runner struct {
	Registry *Registry
	Timeout  time.Duration
	Metrics  metrics.Sink
	Logger   logger.Logger
}

// Run executes one attempt of j.
func (r *Runner) Run(ctx context.Context, j Job) (err error) {
	h, ok := r.Registry.Lookup(j.Name)
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrUnknownJob, j.Name))
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = Permanent(fmt.Errorf("jobs: %s panicked: %v", j.Name, p))
		}
		r.record(j, err, time.Since(start))
	}()
	return h(ctx, j)
}

// Exhausted reports and logs a job that will not be retried anymore.
func (r *Runner) Exhausted(j Job, err error) {
	r.Logger.Errorf("job %s (%s) failed permanently after %d attempt(s): %v", j.Name, j.ID, j.Attempt, err)
	monitoring.CaptureException(err, map[string]string{
		"module":  "jobs",
		"job":     j.Name,
		"job_id":  j.ID.String(),
		"attempt": fmt.Sprint(j.Attempt),
	})
}

func (r *Runner) record(j Job, err error, d time.Duration) {
	rec, ok := r.Metrics.(metrics.JobRecorder)
	if !ok {
		return
	}
	if rerr := rec.RecordJob(metrics.JobEvent{Name: j.Name, Attempt: j.Attempt, Failed: err != nil, Duration: d}); rerr != nil {
		r.Logger.Warnf("record job: %v", rerr)
	}
}
