// Package config loads and validates the coordinator's configuration.
// Everything here is plain data handed to constructors; no component
// reads ambient process state to find its directories.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Data     DataConfig     `mapstructure:"data"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Swarm    SwarmConfig    `mapstructure:"swarm"`
	Launcher LauncherConfig `mapstructure:"launcher"`
	Server   ServerConfig   `mapstructure:"server"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
	History  HistoryConfig  `mapstructure:"history"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DataConfig locates the two trees the state store may touch: the
// workflow-data root (active/ and completed/ records) and the scratch
// root (session markers and bindings).
type DataConfig struct {
	Root    string `mapstructure:"root"`
	Scratch string `mapstructure:"scratch"`
}

// WorkflowConfig configures workflow creation defaults.
type WorkflowConfig struct {
	DefaultType string `mapstructure:"default_type"`
	DefaultMode string `mapstructure:"default_mode"`
	// Pipelines optionally points at a pipelines.yaml overriding the
	// built-in gate orderings and policy tables.
	Pipelines string `mapstructure:"pipelines"`
}

// SwarmConfig tunes fan-out execution. Timeouts are milliseconds in
// the file; the accessor methods hand out durations.
type SwarmConfig struct {
	DefaultConcurrency  int            `mapstructure:"default_concurrency"`
	ProviderConcurrency map[string]int `mapstructure:"provider_concurrency"`
	StaleTimeoutMs      int            `mapstructure:"stale_timeout_ms"`
	ProgressTimeoutMs   int            `mapstructure:"progress_timeout_ms"`
	MinTimeoutMs        int            `mapstructure:"min_timeout_ms"`
	StartupGraceMs      int            `mapstructure:"startup_grace_ms"`
	PollIntervalMs      int            `mapstructure:"poll_interval_ms"`
	MaxPollErrors       int            `mapstructure:"max_poll_errors"`
}

// StaleTimeout returns the configured no-output threshold.
func (c SwarmConfig) StaleTimeout() time.Duration {
	return time.Duration(c.StaleTimeoutMs) * time.Millisecond
}

// ProgressTimeout returns the configured output-then-silence threshold.
func (c SwarmConfig) ProgressTimeout() time.Duration {
	return time.Duration(c.ProgressTimeoutMs) * time.Millisecond
}

// MinTimeout returns the configured threshold floor.
func (c SwarmConfig) MinTimeout() time.Duration {
	return time.Duration(c.MinTimeoutMs) * time.Millisecond
}

// StartupGrace returns the configured startup grace period.
func (c SwarmConfig) StartupGrace() time.Duration {
	return time.Duration(c.StartupGraceMs) * time.Millisecond
}

// PollInterval returns the configured base poll cadence.
func (c SwarmConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// LauncherConfig configures the OpenCode session launcher.
type LauncherConfig struct {
	Path string `mapstructure:"path"`
	// Timeout is the per-session budget as a duration string ("30m").
	Timeout string `mapstructure:"timeout"`
	// Models maps tier names to model names.
	Models map[string]string `mapstructure:"models"`
	Env    map[string]string `mapstructure:"env"`
}

// SessionTimeout parses the configured per-session budget. Unset or
// unparseable values fall back to the given default; the validator
// reports unparseable ones.
func (c LauncherConfig) SessionTimeout(fallback time.Duration) time.Duration {
	if c.Timeout == "" {
		return fallback
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ServerConfig configures the inspection API server.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	Metrics     bool     `mapstructure:"metrics"`
}

// JanitorConfig configures serve-mode maintenance.
type JanitorConfig struct {
	// Schedule is a cron expression for the sweep.
	Schedule string `mapstructure:"schedule"`
	// MarkerTTL is how long session markers live, as a duration string.
	MarkerTTL string `mapstructure:"marker_ttl"`
	// AutoArchive moves complete workflows to the completed root.
	AutoArchive bool `mapstructure:"auto_archive"`
}

// MarkerTTLDuration parses the marker TTL, falling back on parse
// failure.
func (c JanitorConfig) MarkerTTLDuration(fallback time.Duration) time.Duration {
	if c.MarkerTTL == "" {
		return fallback
	}
	d, err := time.ParseDuration(c.MarkerTTL)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// HistoryConfig configures the archived-workflow index.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}
