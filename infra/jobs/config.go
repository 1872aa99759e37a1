package jobs

import (
	"fmt"
	"time"
)

// Config selects and tunes the job queue backend.
type Config struct {
	// Backend is "memory" or "nats".
	Backend string `json:"backend"`
	// NATSURL is the server the JetStream backend connects to.
	NATSURL string `json:"nats_url"`
	Stream  string `json:"stream"`
	Subject string `json:"subject"`
	Durable string `json:"durable"`

	// MaxAttempts bounds deliveries of a failing job.
	MaxAttempts       int `json:"max_attempts"`
	TimeoutSeconds    int `json:"timeout_seconds"`
	Concurrency       int `json:"concurrency"`
	InitialBackoffMS  int `json:"initial_backoff_ms"`
	MaxBackoffSeconds int `json:"max_backoff_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.NATSURL == "" {
		c.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Stream == "" {
		c.Stream = "CITRO80_JOBS"
	}
	if c.Subject == "" {
		c.Subject = "citro80.jobs"
	}
	if c.Durable == "" {
		c.Durable = "citro80-worker"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 60
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.InitialBackoffMS <= 0 {
		c.InitialBackoffMS = 1000
	}
	if c.MaxBackoffSeconds <= 0 {
		c.MaxBackoffSeconds = 300
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("jobs: unknown backend %s", c.Backend)
	}
	if c.Backend == "nats" && c.NATSURL == "" {
		return fmt.Errorf("jobs: nats_url is required")
	}
	return nil
}

// Timeout is the per-attempt execution limit.
func (c Config) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

// Policy returns the retry policy described by the config.
func (c Config) Policy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		Initial:     time.Duration(c.InitialBackoffMS) * time.Millisecond,
		Max:         time.Duration(c.MaxBackoffSeconds) * time.Second,
		Jitter:      backoffJitter,
	}
}
