package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/citro80/infra/postgres"
)

// StoreConfig selects the settings and user store.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver     string          `json:"driver"`
	Postgres   postgres.Config `json:"postgres"`
	SQLitePath string          `json:"sqlite_path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		if c.Postgres.URL != "" {
			c.Driver = "postgres"
		} else {
			c.Driver = "sqlite"
		}
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "citro80.db"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("store: postgres.url is required")
		}
		return nil
	default:
		return fmt.Errorf("store: unknown driver %q", c.Driver)
	}
}

// SchedulerConfig configures the periodic trigger.
type SchedulerConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
	Concurrency     int `json:"concurrency"`
}

// SetDefaults applies sane defaults.
func (c *SchedulerConfig) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 60
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
}

// Validate checks mandatory fields.
func (c SchedulerConfig) Validate() error {
	if c.IntervalSeconds < 10 {
		return fmt.Errorf("scheduler: interval_seconds must be at least 10")
	}
	return nil
}

// Interval returns the trigger period.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
