package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "auto")
	}
	if cfg.Data.Root != ".ocw/data" {
		t.Errorf("Data.Root = %q, want %q", cfg.Data.Root, ".ocw/data")
	}
	if cfg.Data.Scratch != ".ocw/scratch" {
		t.Errorf("Data.Scratch = %q, want %q", cfg.Data.Scratch, ".ocw/scratch")
	}
	if cfg.Workflow.DefaultType != "build" {
		t.Errorf("Workflow.DefaultType = %q, want %q", cfg.Workflow.DefaultType, "build")
	}
	if cfg.Swarm.DefaultConcurrency != 4 {
		t.Errorf("Swarm.DefaultConcurrency = %d, want 4", cfg.Swarm.DefaultConcurrency)
	}
	if cfg.Swarm.StaleTimeoutMs != 180000 {
		t.Errorf("Swarm.StaleTimeoutMs = %d, want 180000", cfg.Swarm.StaleTimeoutMs)
	}
	if cfg.Swarm.ProgressTimeoutMs != 600000 {
		t.Errorf("Swarm.ProgressTimeoutMs = %d, want 600000", cfg.Swarm.ProgressTimeoutMs)
	}
	if cfg.Launcher.Path != "opencode" {
		t.Errorf("Launcher.Path = %q, want %q", cfg.Launcher.Path, "opencode")
	}
	if cfg.Server.Port != 8844 {
		t.Errorf("Server.Port = %d, want 8844", cfg.Server.Port)
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}
}

func TestLoaderDefaultsMatchDefault(t *testing.T) {
	loaded, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(loaded, Default()) {
		t.Errorf("loader defaults diverge from Default():\nloaded:  %+v\ndefault: %+v", loaded, Default())
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("OCW_LOG_LEVEL", "debug")
	t.Setenv("OCW_SWARM_DEFAULT_CONCURRENCY", "8")
	t.Setenv("OCW_DATA_ROOT", "/var/lib/ocw")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Swarm.DefaultConcurrency != 8 {
		t.Errorf("Swarm.DefaultConcurrency = %d, want 8", cfg.Swarm.DefaultConcurrency)
	}
	if cfg.Data.Root != "/var/lib/ocw" {
		t.Errorf("Data.Root = %q, want %q", cfg.Data.Root, "/var/lib/ocw")
	}
}

func TestLoader_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: warn
data:
  root: /srv/ocw/data
  scratch: /srv/ocw/scratch
swarm:
  default_concurrency: 2
  provider_concurrency:
    anthropic: 6
    openai: 3
  stale_timeout_ms: 240000
launcher:
  path: /usr/local/bin/opencode
  models:
    light: haiku
    heavy: claude-opus
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
	if cfg.Data.Root != "/srv/ocw/data" {
		t.Errorf("Data.Root = %q, want %q", cfg.Data.Root, "/srv/ocw/data")
	}
	if cfg.Swarm.DefaultConcurrency != 2 {
		t.Errorf("Swarm.DefaultConcurrency = %d, want 2", cfg.Swarm.DefaultConcurrency)
	}
	if got := cfg.Swarm.ProviderConcurrency["anthropic"]; got != 6 {
		t.Errorf("ProviderConcurrency[anthropic] = %d, want 6", got)
	}
	if got := cfg.Swarm.ProviderConcurrency["openai"]; got != 3 {
		t.Errorf("ProviderConcurrency[openai] = %d, want 3", got)
	}
	if cfg.Swarm.StaleTimeoutMs != 240000 {
		t.Errorf("StaleTimeoutMs = %d, want 240000", cfg.Swarm.StaleTimeoutMs)
	}
	// Untouched sections keep their defaults.
	if cfg.Swarm.ProgressTimeoutMs != 600000 {
		t.Errorf("ProgressTimeoutMs = %d, want default 600000", cfg.Swarm.ProgressTimeoutMs)
	}
	if got := cfg.Launcher.Models["heavy"]; got != "claude-opus" {
		t.Errorf("Launcher.Models[heavy] = %q, want claude-opus", got)
	}
}

func TestLoader_MalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log: [unclosed"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := NewLoader().WithConfigFile(path).Load(); err == nil {
		t.Fatal("Load() should fail on malformed YAML")
	}
}

func TestSwarmConfig_DurationAccessors(t *testing.T) {
	cfg := SwarmConfig{
		StaleTimeoutMs:    180000,
		ProgressTimeoutMs: 600000,
		MinTimeoutMs:      60000,
		StartupGraceMs:    30000,
		PollIntervalMs:    5000,
	}
	if got := cfg.StaleTimeout().Seconds(); got != 180 {
		t.Errorf("StaleTimeout = %vs, want 180s", got)
	}
	if got := cfg.ProgressTimeout().Seconds(); got != 600 {
		t.Errorf("ProgressTimeout = %vs, want 600s", got)
	}
	if got := cfg.MinTimeout().Seconds(); got != 60 {
		t.Errorf("MinTimeout = %vs, want 60s", got)
	}
	if got := cfg.StartupGrace().Seconds(); got != 30 {
		t.Errorf("StartupGrace = %vs, want 30s", got)
	}
	if got := cfg.PollInterval().Seconds(); got != 5 {
		t.Errorf("PollInterval = %vs, want 5s", got)
	}
}

func TestLauncherConfig_SessionTimeout(t *testing.T) {
	fallback := 30 * time.Minute

	if got := (LauncherConfig{}).SessionTimeout(fallback); got != fallback {
		t.Errorf("empty timeout = %v, want fallback", got)
	}
	if got := (LauncherConfig{Timeout: "15m"}).SessionTimeout(fallback); got != 15*time.Minute {
		t.Errorf("15m timeout = %v, want 15m", got)
	}
	if got := (LauncherConfig{Timeout: "nonsense"}).SessionTimeout(fallback); got != fallback {
		t.Errorf("unparseable timeout = %v, want fallback", got)
	}
	if got := (LauncherConfig{Timeout: "-5m"}).SessionTimeout(fallback); got != fallback {
		t.Errorf("negative timeout = %v, want fallback", got)
	}
}
