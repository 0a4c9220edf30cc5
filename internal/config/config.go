// Package config loads service and planner settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"loadplanner/internal/opt"
)

// Config is the full runtime configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	Planner PlannerConfig `yaml:"planner"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type ServerConfig struct {
	Port      string  `yaml:"port"`
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
	// RedisURL enables cross-instance plan events when set.
	RedisURL string `yaml:"redis_url"`
}

type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
	Migrate     bool   `yaml:"migrate"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"` // dev or hmac
	HMACSecret string `yaml:"hmac_secret"`
}

// WebhookConfig enables signed delivery of plan events to one endpoint.
type WebhookConfig struct {
	URL         string `yaml:"url"`
	Secret      string `yaml:"secret"`
	MaxAttempts int    `yaml:"max_attempts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// PlannerConfig holds the defaults every planning run starts from.
type PlannerConfig struct {
	Timezone    string           `yaml:"timezone"`
	Parallelism int              `yaml:"parallelism"`
	Weights     opt.WeightConfig `yaml:"weights"`
}

// Default returns the configuration used when no file or env var says otherwise.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", RateRPS: 20, RateBurst: 40},
		Store:   StoreConfig{Migrate: true},
		Auth:    AuthConfig{Mode: "dev"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Planner: PlannerConfig{Timezone: "UTC", Weights: opt.DefaultWeightConfig()},
		Webhook: WebhookConfig{MaxAttempts: 10},
	}
}

// Load reads path over the defaults and then applies env overrides. A missing
// file is not an error; an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = f
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("PORT", &c.Server.Port)
	str("REDIS_URL", &c.Server.RedisURL)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	if v, ok := lookup("DB_MIGRATE"); ok {
		c.Store.Migrate = !strings.EqualFold(strings.TrimSpace(v), "false")
	}
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("PLANNER_TIMEZONE", &c.Planner.Timezone)
	str("WEBHOOK_URL", &c.Webhook.URL)
	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	if v, ok := lookup("HIGH_VOLUME_STATES"); ok && strings.TrimSpace(v) != "" {
		var states []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				states = append(states, s)
			}
		}
		c.Planner.Weights.HighVolumeStates = states
	}

	w := &c.Planner.Weights
	for _, f := range []func() error{
		func() error { return num("RATE_RPS", &c.Server.RateRPS) },
		func() error { return integer("RATE_BURST", &c.Server.RateBurst) },
		func() error { return integer("PLANNER_PARALLELISM", &c.Planner.Parallelism) },
		func() error { return integer("WEBHOOK_MAX_ATTEMPTS", &c.Webhook.MaxAttempts) },
		func() error { return num("TX_MAX_LBS", &w.HighVolume.Max) },
		func() error { return num("TX_MIN_LBS", &w.HighVolume.Min) },
		func() error { return num("OTHER_MAX_LBS", &w.Other.Max) },
		func() error { return num("OTHER_MIN_LBS", &w.Other.Min) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks settings that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if err := c.Planner.Weights.Validate(); err != nil {
		return fmt.Errorf("config: planner weights: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("config: AUTH_HMAC_SECRET is required in hmac mode")
		}
	default:
		return fmt.Errorf("config: unsupported auth mode %q", c.Auth.Mode)
	}
	if c.Server.RateRPS < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("config: rate limits must be >= 0")
	}
	if c.Webhook.URL != "" && c.Webhook.MaxAttempts < 1 {
		return fmt.Errorf("config: webhook max_attempts must be >= 1")
	}
	return nil
}

// Location resolves the planner's reference timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Planner.Timezone == "" || strings.EqualFold(c.Planner.Timezone, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Planner.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: planner timezone: %w", err)
	}
	return loc, nil
}

// PlannerOptions builds engine options for a run on today.
func (c *Config) PlannerOptions(today time.Time, weights opt.WeightConfig) opt.Options {
	loc, _ := c.Location()
	return opt.Options{Today: today, Location: loc, Weights: weights, Parallelism: c.Planner.Parallelism}
}

// Redacted is a copy safe to expose on debug endpoints.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"port":            c.Server.Port,
		"rateRps":         c.Server.RateRPS,
		"rateBurst":       c.Server.RateBurst,
		"hasRedisUrl":     c.Server.RedisURL != "",
		"hasDatabaseUrl":  c.Store.DatabaseURL != "",
		"dbMigrate":       c.Store.Migrate,
		"authMode":        c.Auth.Mode,
		"logLevel":        c.Logging.Level,
		"logFormat":       c.Logging.Format,
		"plannerTimezone": c.Planner.Timezone,
		"plannerParallel": c.Planner.Parallelism,
		"defaultWeights":  c.Planner.Weights,
		"hasWebhookUrl":   c.Webhook.URL != "",
	}
}
