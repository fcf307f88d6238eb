// Package config loads and validates the weaved daemon's TOML
// configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root daemon configuration.
type Config struct {
	General    General    `toml:"general"`
	Supervisor Supervisor `toml:"supervisor"`
	EventBus   EventBus   `toml:"event_bus"`
	EventStore EventStore `toml:"event_store"`
	Shutdown   Shutdown   `toml:"shutdown"`
	Worker     Worker     `toml:"worker"`
}

// General carries process-wide settings.
type General struct {
	LogLevel string `toml:"log_level"` // debug, info, warn, error
	StateDB  string `toml:"state_db"`  // path to the SQLite persistence file
}

// Supervisor mirrors the supervisor package's Config fields (spec §4.6).
type Supervisor struct {
	BaseBackoff   Duration `toml:"base_backoff"`
	MaxBackoff    Duration `toml:"max_backoff"`
	MaxRestarts   int      `toml:"max_restarts"`
	Window        Duration `toml:"window"`
	WarningRate   float64  `toml:"warning_rate"`
	MeltdownRate  float64  `toml:"meltdown_rate"`
	ShutdownGrace Duration `toml:"shutdown_grace"`
}

// EventBus carries the event bus's channel capacity and default
// per-subscriber circuit breaker threshold (spec §4.5).
type EventBus struct {
	ChannelCapacity   int `toml:"channel_capacity"`
	BreakerThreshold  int `toml:"breaker_threshold"`
	BroadcastCapacity int `toml:"broadcast_capacity"`
}

// EventStore carries the append-only event log's in-memory retention
// policy (spec §4.4). Zero means unlimited: no events are ever dropped.
type EventStore struct {
	RetentionMaxEvents int `toml:"retention_max_events"`
}

// Shutdown carries the shutdown coordinator's global deadline (spec
// §4.8).
type Shutdown struct {
	Deadline Duration `toml:"deadline"`
}

// Worker carries the docker-backed worker's connection and execution
// settings (see internal/worker).
type Worker struct {
	Image           string   `toml:"image"`
	ClaimPoll       Duration `toml:"claim_poll"`
	ExecTimeout     Duration `toml:"exec_timeout"`
	RemoveOnFinish  bool     `toml:"remove_on_finish"`
	MaxBeadRestarts int      `toml:"max_bead_restarts"`
}

// Clone returns a deep copy of cfg so callers can safely hand it to an
// actor that must not share mutable config with the loader.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	return &cloned
}

// Load reads and validates a weaved TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "weave.db"
	}

	if cfg.Supervisor.BaseBackoff.Duration == 0 {
		cfg.Supervisor.BaseBackoff.Duration = 100 * time.Millisecond
	}
	if cfg.Supervisor.MaxBackoff.Duration == 0 {
		cfg.Supervisor.MaxBackoff.Duration = 30 * time.Second
	}
	if cfg.Supervisor.MaxRestarts == 0 {
		cfg.Supervisor.MaxRestarts = 10
	}
	if cfg.Supervisor.Window.Duration == 0 {
		cfg.Supervisor.Window.Duration = 60 * time.Second
	}
	if cfg.Supervisor.WarningRate == 0 {
		cfg.Supervisor.WarningRate = 0.5
	}
	if cfg.Supervisor.MeltdownRate == 0 {
		cfg.Supervisor.MeltdownRate = 1.0
	}
	if cfg.Supervisor.ShutdownGrace.Duration == 0 {
		cfg.Supervisor.ShutdownGrace.Duration = 5 * time.Second
	}

	if cfg.EventBus.ChannelCapacity == 0 {
		cfg.EventBus.ChannelCapacity = 64
	}
	if cfg.EventBus.BreakerThreshold == 0 {
		cfg.EventBus.BreakerThreshold = 5
	}
	if cfg.EventBus.BroadcastCapacity == 0 {
		cfg.EventBus.BroadcastCapacity = 256
	}

	if cfg.Shutdown.Deadline.Duration == 0 {
		cfg.Shutdown.Deadline.Duration = 10 * time.Second
	}

	if cfg.Worker.ClaimPoll.Duration == 0 {
		cfg.Worker.ClaimPoll.Duration = time.Second
	}
	if cfg.Worker.ExecTimeout.Duration == 0 {
		cfg.Worker.ExecTimeout.Duration = 15 * time.Minute
	}
	if cfg.Worker.MaxBeadRestarts == 0 {
		cfg.Worker.MaxBeadRestarts = 3
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.General.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("general.log_level %q must be one of debug, info, warn, error", cfg.General.LogLevel)
	}

	if cfg.Supervisor.MaxRestarts < 0 {
		return fmt.Errorf("supervisor.max_restarts cannot be negative")
	}
	if cfg.Supervisor.BaseBackoff.Duration <= 0 {
		return fmt.Errorf("supervisor.base_backoff must be > 0")
	}
	if cfg.Supervisor.MaxBackoff.Duration < cfg.Supervisor.BaseBackoff.Duration {
		return fmt.Errorf("supervisor.max_backoff must be >= base_backoff")
	}
	if cfg.Supervisor.Window.Duration <= 0 {
		return fmt.Errorf("supervisor.window must be > 0")
	}
	if cfg.Supervisor.WarningRate < 0 || cfg.Supervisor.MeltdownRate < 0 {
		return fmt.Errorf("supervisor warning_rate/meltdown_rate cannot be negative")
	}
	if cfg.Supervisor.WarningRate > cfg.Supervisor.MeltdownRate {
		return fmt.Errorf("supervisor.warning_rate must be <= meltdown_rate")
	}

	if cfg.EventBus.ChannelCapacity <= 0 {
		return fmt.Errorf("event_bus.channel_capacity must be > 0")
	}
	if cfg.EventBus.BreakerThreshold <= 0 {
		return fmt.Errorf("event_bus.breaker_threshold must be > 0")
	}

	if cfg.Shutdown.Deadline.Duration <= 0 {
		return fmt.Errorf("shutdown.deadline must be > 0")
	}

	if cfg.Worker.ExecTimeout.Duration <= 0 {
		return fmt.Errorf("worker.exec_timeout must be > 0")
	}
	if cfg.Worker.MaxBeadRestarts < 0 {
		return fmt.Errorf("worker.max_bead_restarts cannot be negative")
	}

	return nil
}
