// Package config loads toursync settings from a YAML file with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/toursync/internal/queue"
	"github.com/roach88/toursync/internal/remote"
	"github.com/roach88/toursync/internal/replay"
	"github.com/roach88/toursync/internal/tourpack"
)

// Environment overrides.
const (
	EnvDatabase  = "TOURSYNC_DB"
	EnvRemoteURL = "TOURSYNC_REMOTE_URL"
	EnvAuthToken = "TOURSYNC_AUTH_TOKEN"
	EnvEphemeral = "TOURSYNC_EPHEMERAL"
)

// Config holds all settings.
type Config struct {
	// Database is the SQLite file backing the persistence provider.
	Database string `yaml:"database"`

	// Ephemeral keeps all state in memory.
	Ephemeral bool `yaml:"ephemeral"`

	Replay    ReplayConfig    `yaml:"replay"`
	Queue     QueueConfig     `yaml:"queue"`
	Health    HealthConfig    `yaml:"health"`
	Staleness StalenessConfig `yaml:"staleness"`
	Remote    RemoteConfig    `yaml:"remote"`
}

type ReplayConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type QueueConfig struct {
	ProcessedCap int `yaml:"processed_cap"`
}

type HealthConfig struct {
	MaxFailed        int           `yaml:"max_failed"`
	MaxPendingAge    time.Duration `yaml:"max_pending_age"`
	MaxSkippedFailed int           `yaml:"max_skipped_failed"`
}

type StalenessConfig struct {
	Fresh time.Duration `yaml:"fresh"`
	Stale time.Duration `yaml:"stale"`
}

type RemoteConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	AuthToken string        `yaml:"auth_token"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database: "toursync.db",
		Replay: ReplayConfig{
			MaxAttempts: replay.DefaultPolicy.MaxAttempts,
			BackoffCap:  replay.DefaultPolicy.BackoffCap,
			MinInterval: replay.DefaultMinInterval,
		},
		Queue: QueueConfig{ProcessedCap: queue.DefaultProcessedCap},
		Health: HealthConfig{
			MaxFailed:        queue.DefaultThresholds.MaxFailed,
			MaxPendingAge:    queue.DefaultThresholds.MaxPendingAge,
			MaxSkippedFailed: queue.DefaultThresholds.MaxSkippedFailed,
		},
		Staleness: StalenessConfig{
			Fresh: tourpack.DefaultThresholds.Fresh,
			Stale: tourpack.DefaultThresholds.Stale,
		},
		Remote: RemoteConfig{Timeout: remote.DefaultTimeout},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path or a missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := decode(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		c.Remote.AuthToken = v
	}
	if os.Getenv(EnvEphemeral) == "1" {
		c.Ephemeral = true
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" && !c.Ephemeral {
		errs = append(errs, errors.New("database is required unless ephemeral"))
	}
	if c.Replay.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("replay.max_attempts must be positive, got %d", c.Replay.MaxAttempts))
	}
	if c.Replay.BackoffCap <= 0 {
		errs = append(errs, fmt.Errorf("replay.backoff_cap must be positive, got %s", c.Replay.BackoffCap))
	}
	if c.Replay.MinInterval < 0 {
		errs = append(errs, fmt.Errorf("replay.min_interval must not be negative, got %s", c.Replay.MinInterval))
	}
	if c.Queue.ProcessedCap <= 0 {
		errs = append(errs, fmt.Errorf("queue.processed_cap must be positive, got %d", c.Queue.ProcessedCap))
	}
	if c.Health.MaxFailed <= 0 || c.Health.MaxSkippedFailed <= 0 || c.Health.MaxPendingAge <= 0 {
		errs = append(errs, errors.New("health thresholds must be positive"))
	}
	if c.Staleness.Fresh <= 0 || c.Staleness.Stale < c.Staleness.Fresh {
		errs = append(errs, fmt.Errorf("staleness.fresh (%s) must be positive and not above staleness.stale (%s)", c.Staleness.Fresh, c.Staleness.Stale))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("remote.timeout must be positive, got %s", c.Remote.Timeout))
	}
	return errors.Join(errs...)
}

// ReplayPolicy converts the replay section.
func (c *Config) ReplayPolicy() replay.Policy {
	return replay.Policy{
		MaxAttempts: c.Replay.MaxAttempts,
		BackoffUnit: replay.DefaultPolicy.BackoffUnit,
		BackoffCap:  c.Replay.BackoffCap,
	}
}

// HealthThresholds converts the health section.
func (c *Config) HealthThresholds() queue.Thresholds {
	return queue.Thresholds{
		MaxFailed:        c.Health.MaxFailed,
		MaxPendingAge:    c.Health.MaxPendingAge,
		MaxSkippedFailed: c.Health.MaxSkippedFailed,
	}
}

// StalenessThresholds converts the staleness section.
func (c *Config) StalenessThresholds() tourpack.Thresholds {
	return tourpack.Thresholds{Fresh: c.Staleness.Fresh, Stale: c.Staleness.Stale}
}

// RemoteOptions converts the remote section.
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		BaseURL:   c.Remote.BaseURL,
		AuthToken: c.Remote.AuthToken,
		Timeout:   c.Remote.Timeout,
	}
}
