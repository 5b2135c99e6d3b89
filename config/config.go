// Package config loads the engine's runtime configuration from YAML,
// applying defaults field-by-field the way the teacher's
// EventStoreServiceConfig documents its DBPath/RetentionDays defaults,
// rather than pulling in a generic reflection-based defaulting library.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the durable state store backend.
type StoreConfig struct {
	Driver string `yaml:"driver" default:"memory"` // memory | sqlite | postgres
	DSN    string `yaml:"dsn"`
}

// DispatchConfig selects and configures the outbox dispatch transport.
type DispatchConfig struct {
	Driver string `yaml:"driver" default:"memory"` // memory | nats | kafka
	Brokers []string `yaml:"brokers"`
	Subject string  `yaml:"subject" default:"saga.events"`
}

// Config is the engine's top-level runtime configuration.
type Config struct {
	MaxConcurrency      int            `yaml:"max_concurrency" default:"64"`
	DefaultStepTimeout  time.Duration  `yaml:"default_step_timeout" default:"30s"`
	SagaRetentionPeriod time.Duration  `yaml:"saga_retention_period" default:"720h"`
	SnapshotInterval    int            `yaml:"snapshot_interval" default:"50"`
	OutboxPollInterval  time.Duration  `yaml:"outbox_poll_interval" default:"250ms"`
	OutboxShardCount    int            `yaml:"outbox_shard_count" default:"4"`
	Store               StoreConfig    `yaml:"store"`
	Dispatch             DispatchConfig `yaml:"dispatch"`
}

// Load reads and parses a YAML config file at path, applying defaults for
// any field left unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML bytes into a Config with defaults applied.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills in zero-valued fields with the documented defaults.
// Written out field-by-field rather than driven by struct-tag reflection,
// matching the teacher's explicit-fallback convention.
func (c *Config) applyDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 64
	}
	if c.DefaultStepTimeout == 0 {
		c.DefaultStepTimeout = 30 * time.Second
	}
	if c.SagaRetentionPeriod == 0 {
		c.SagaRetentionPeriod = 720 * time.Hour
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 50
	}
	if c.OutboxPollInterval == 0 {
		c.OutboxPollInterval = 250 * time.Millisecond
	}
	if c.OutboxShardCount == 0 {
		c.OutboxShardCount = 4
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Dispatch.Driver == "" {
		c.Dispatch.Driver = "memory"
	}
	if c.Dispatch.Subject == "" {
		c.Dispatch.Subject = "saga.events"
	}
}
