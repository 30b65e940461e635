// Package config loads the static configuration snapshot the ingester is
// handed at startup. Configuration loading is an external collaborator:
// this package's only job is to produce one immutable Config value and
// fail fast if it is malformed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MainnetGenesisTime is the fixed genesis constant used to compute the
// expected wall-clock slot.
const MainnetGenesisTime uint64 = 1606824023

const (
	DefaultMaxConcurrentRequests = 30
	DefaultBatchSize             = 100
	DefaultPollingIntervalSec    = 60
	DefaultEpochsBeforeFinal     = 1
	DefaultStaleThresholdSlots   = 10
	DefaultNotificationRateLimit = 30 * time.Minute
	DefaultBeaconURL             = "http://127.0.0.1:5052"
)

// Config is the static snapshot of options the core runs against for its
// entire lifetime. It is loaded once and never mutated.
type Config struct {
	CursorInitial           uint64              `yaml:"cursor_initial"`
	MaxConcurrentRequests   uint32              `yaml:"max_concurrent_requests"`
	BatchSize               uint32              `yaml:"batch_size"`
	PollingIntervalSec      uint32              `yaml:"polling_interval_sec"`
	EpochsBeforeFinal       uint32              `yaml:"epochs_before_final"`
	StaleThresholdSlots     uint64              `yaml:"stale_threshold_slots"`
	NotificationRateLimitMs uint64              `yaml:"notification_rate_limit_ms"`
	Validators              map[string][]uint64 `yaml:"validators"`
	BeaconURL               string              `yaml:"beacon_url"`
	TestMode                bool                `yaml:"test_mode"`
	CursorFilePath          string              `yaml:"cursor_file_path"`

	// ValidatorLabels is the reverse of Validators (ValidatorIndex -> label),
	// derived once at load time.
	ValidatorLabels map[uint64]string `yaml:"-"`
}

// Load reads a YAML configuration file from path, applies defaults for any
// zero-valued tunables, honors the BEACON_URL environment override, derives
// the reverse validator index, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file [%s]: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file [%s]: %w", path, err)
	}

	cfg.applyDefaults()

	if override := os.Getenv("BEACON_URL"); override != "" {
		cfg.BeaconURL = override
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.deriveValidatorLabels()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollingIntervalSec == 0 {
		c.PollingIntervalSec = DefaultPollingIntervalSec
	}
	if c.StaleThresholdSlots == 0 {
		c.StaleThresholdSlots = DefaultStaleThresholdSlots
	}
	if c.EpochsBeforeFinal == 0 {
		c.EpochsBeforeFinal = DefaultEpochsBeforeFinal
	}
	if c.NotificationRateLimitMs == 0 {
		c.NotificationRateLimitMs = uint64(DefaultNotificationRateLimit / time.Millisecond)
	}
	if c.BeaconURL == "" {
		c.BeaconURL = DefaultBeaconURL
	}
	if c.CursorFilePath == "" {
		c.CursorFilePath = "cursor.yaml"
	}
}

// ConfigurationError marks a fatal, startup-only configuration failure.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (c *Config) validate() error {
	if len(c.Validators) == 0 {
		return &ConfigurationError{Reason: "validators map is required and must be non-empty"}
	}
	for label, indices := range c.Validators {
		if label == "" {
			return &ConfigurationError{Reason: "validator label must not be blank"}
		}
		if len(indices) == 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("label [%s] has no validator indices", label)}
		}
	}
	if c.BeaconURL == "" {
		return &ConfigurationError{Reason: "beacon_url must not be blank"}
	}
	return nil
}

func (c *Config) deriveValidatorLabels() {
	c.ValidatorLabels = make(map[uint64]string)
	for label, indices := range c.Validators {
		for _, idx := range indices {
			c.ValidatorLabels[idx] = label
		}
	}
}

// MonitoredSet returns the full set of monitored validator indices.
func (c *Config) MonitoredSet() map[uint64]struct{} {
	out := make(map[uint64]struct{})
	for idx := range c.ValidatorLabels {
		out[idx] = struct{}{}
	}
	return out
}

// LabelFor returns the label a validator index was registered under, and
// whether it is monitored at all.
func (c *Config) LabelFor(index uint64) (string, bool) {
	label, ok := c.ValidatorLabels[index]
	return label, ok
}

// NotificationRateLimit returns the configured rate limit as a Duration.
func (c *Config) NotificationRateLimit() time.Duration {
	return time.Duration(c.NotificationRateLimitMs) * time.Millisecond
}
