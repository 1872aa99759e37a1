package api

import (
	"fmt"
	"net/url"
	"time"
)

// Config configures the HTTP server.
type Config struct {
	Addr                string   `json:"addr"`
	PublicURL           string   `json:"public_url"`
	AllowedOrigins      []string `json:"allowed_origins"`
	ReadTimeoutSeconds  int      `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `json:"write_timeout_seconds"`
	ShutdownSeconds     int      `json:"shutdown_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.PublicURL == "" {
		c.PublicURL = "http://localhost:8080"
	}
	if c.ReadTimeoutSeconds <= 0 {
		c.ReadTimeoutSeconds = 15
	}
	if c.WriteTimeoutSeconds <= 0 {
		c.WriteTimeoutSeconds = 30
	}
	if c.ShutdownSeconds <= 0 {
		c.ShutdownSeconds = 10
	}
}

// Validate checks the public URL.
func (c Config) Validate() error {
	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("http: invalid public_url %q", c.PublicURL)
	}
	return nil
}

func (c Config) readTimeout() time.Duration  { return time.Duration(c.ReadTimeoutSeconds) * time.Second }
func (c Config) writeTimeout() time.Duration { return time.Duration(c.WriteTimeoutSeconds) * time.Second }
func (c Config) shutdown() time.Duration     { return time.Duration(c.ShutdownSeconds) * time.Second }
