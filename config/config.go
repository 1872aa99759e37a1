package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/citro80/api"
	"github.com/kilianp07/citro80/auth"
	"github.com/kilianp07/citro80/core/metrics"
	"github.com/kilianp07/citro80/infra/cache"
	"github.com/kilianp07/citro80/infra/enode"
	"github.com/kilianp07/citro80/infra/jobs"
	"github.com/kilianp07/citro80/infra/mail"
	"github.com/kilianp07/citro80/infra/mqtt"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore, e.g. CITRO_ENODE__CLIENT_ID.
const EnvPrefix = "CITRO_"

type Config struct {
	AppEnv    string            `json:"app_env"`
	HTTP      api.Config        `json:"http"`
	Store     StoreConfig       `json:"store"`
	Redis     cache.RedisConfig `json:"redis"`
	Jobs      jobs.Config       `json:"jobs"`
	Scheduler SchedulerConfig   `json:"scheduler"`
	Enode     enode.Config      `json:"enode"`
	Auth      auth.Config       `json:"auth"`
	Mail      mail.Config       `json:"mail"`
	MQTT      mqtt.Config       `json:"mqtt"`
	Metrics   metrics.Config    `json:"metrics"`
	Sentry    SentryConfig      `json:"sentry"`
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored and variables already set win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the optional file at path, applies environment overrides and
// defaults, and validates the sections every command needs.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			ext := strings.ToLower(filepath.Ext(path))
			var parser koanf.Parser
			switch ext {
			case ".yaml", ".yml":
				parser = yaml.Parser()
			case ".json":
				parser = json.Parser()
			default:
				return nil, fmt.Errorf("unsupported config format: %s", ext)
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies sane defaults to every section.
func (c *Config) SetDefaults() {
	if c.AppEnv == "" {
		c.AppEnv = "production"
	}
	c.HTTP.SetDefaults()
	c.Store.SetDefaults()
	c.Redis.SetDefaults()
	c.Jobs.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Enode.SetDefaults()
	c.Auth.SetDefaults()
	c.Mail.SetDefaults()
	c.MQTT.SetDefaults()
	c.Metrics.SetDefaults()
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = c.AppEnv
	}
}

// Validate checks the sections shared by all commands.
func (c Config) Validate() error {
	sections := []interface{ Validate() error }{
		c.HTTP, c.Store, c.Redis, c.Jobs, c.Scheduler, c.Mail, c.MQTT, c.Metrics, c.Sentry,
	}
	for _, v := range sections {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateServices checks the sections needed to talk to the vehicle
// provider and to sign sessions.
func (c Config) ValidateServices() error {
	if err := c.Enode.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}
