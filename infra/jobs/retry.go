package jobs

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	corejobs "github.com/kilianp07/citro80/core/jobs"
)

const backoffJitter = 0.2

// RetryPolicy decides whether and when a failed attempt is redelivered.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Jitter      float64
}

// Delay returns the wait before the attempt following attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ShouldRetry reports whether a job that failed its attempt-th try with err
// is delivered again.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil || corejobs.IsPermanent(err) {
		return false
	}
	return attempt < p.MaxAttempts
}
