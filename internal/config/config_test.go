package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "weave.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
[general]
log_level = "info"
state_db = "/tmp/weave-test.db"

[supervisor]
base_backoff = "100ms"
max_backoff = "30s"
max_restarts = 10
window = "60s"
warning_rate = 0.5
meltdown_rate = 1.0

[event_bus]
channel_capacity = 64
breaker_threshold = 5

[shutdown]
deadline = "10s"

[worker]
image = "weave-worker:latest"
exec_timeout = "15m"
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v, want nil", err)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.General.LogLevel)
	}
	if cfg.Supervisor.BaseBackoff.Duration != 100*time.Millisecond {
		t.Errorf("BaseBackoff = %v, want 100ms", cfg.Supervisor.BaseBackoff.Duration)
	}
	if cfg.Worker.ExecTimeout.Duration != 15*time.Minute {
		t.Errorf("ExecTimeout = %v, want 15m", cfg.Worker.ExecTimeout.Duration)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v, want nil", err)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.General.LogLevel)
	}
	if cfg.Supervisor.MaxRestarts != 10 {
		t.Errorf("default MaxRestarts = %d, want 10", cfg.Supervisor.MaxRestarts)
	}
	if cfg.EventBus.ChannelCapacity != 64 {
		t.Errorf("default ChannelCapacity = %d, want 64", cfg.EventBus.ChannelCapacity)
	}
	if cfg.Shutdown.Deadline.Duration != 10*time.Second {
		t.Errorf("default Shutdown.Deadline = %v, want 10s", cfg.Shutdown.Deadline.Duration)
	}
	if cfg.Worker.MaxBeadRestarts != 3 {
		t.Errorf("default MaxBeadRestarts = %d, want 3", cfg.Worker.MaxBeadRestarts)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeTestConfig(t, `
[general]
log_level = "verbose"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load with invalid log_level = nil error, want error")
	}
}

func TestLoad_MaxBackoffBelowBase(t *testing.T) {
	path := writeTestConfig(t, `
[supervisor]
base_backoff = "1s"
max_backoff = "500ms"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load with max_backoff < base_backoff = nil error, want error")
	}
}

func TestLoad_WarningRateAboveMeltdownRate(t *testing.T) {
	path := writeTestConfig(t, `
[supervisor]
warning_rate = 2.0
meltdown_rate = 1.0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load with warning_rate > meltdown_rate = nil error, want error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load of missing file = nil error, want error")
	}
}

func TestClone_IsIndependentCopy(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	clone := cfg.Clone()
	clone.General.LogLevel = "debug"
	if cfg.General.LogLevel == "debug" {
		t.Fatal("mutating clone affected original config")
	}
}

func TestClone_Nil(t *testing.T) {
	var cfg *Config
	if cfg.Clone() != nil {
		t.Fatal("Clone of nil config = non-nil, want nil")
	}
}
