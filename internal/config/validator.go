package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateData(&cfg.Data)
	v.validateWorkflow(&cfg.Workflow)
	v.validateSwarm(&cfg.Swarm)
	v.validateLauncher(&cfg.Launcher)
	v.validateServer(&cfg.Server)
	v.validateJanitor(&cfg.Janitor)
	v.validateHistory(&cfg.History)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateData(cfg *DataConfig) {
	if cfg.Root == "" {
		v.addError("data.root", cfg.Root, "workflow data root required")
	}
	if cfg.Scratch == "" {
		v.addError("data.scratch", cfg.Scratch, "scratch root required")
	}
}

func (v *Validator) validateWorkflow(cfg *WorkflowConfig) {
	if _, err := core.ParseWorkflowType(cfg.DefaultType); err != nil {
		v.addError("workflow.default_type", cfg.DefaultType, "must be one of: build, explore")
	}
	if cfg.DefaultMode == "" {
		v.addError("workflow.default_mode", cfg.DefaultMode, "default mode required")
	}
}

func (v *Validator) validateSwarm(cfg *SwarmConfig) {
	if cfg.DefaultConcurrency < 1 {
		v.addError("swarm.default_concurrency", cfg.DefaultConcurrency, "must be at least 1")
	}
	for provider, limit := range cfg.ProviderConcurrency {
		if limit < 1 {
			v.addError("swarm.provider_concurrency."+provider, limit, "must be at least 1")
		}
	}
	if cfg.StaleTimeoutMs < 0 {
		v.addError("swarm.stale_timeout_ms", cfg.StaleTimeoutMs, "cannot be negative")
	}
	if cfg.ProgressTimeoutMs < 0 {
		v.addError("swarm.progress_timeout_ms", cfg.ProgressTimeoutMs, "cannot be negative")
	}
	if cfg.MinTimeoutMs < 0 {
		v.addError("swarm.min_timeout_ms", cfg.MinTimeoutMs, "cannot be negative")
	}
	if cfg.PollIntervalMs < 1 {
		v.addError("swarm.poll_interval_ms", cfg.PollIntervalMs, "must be at least 1")
	}
	if cfg.MaxPollErrors < 1 {
		v.addError("swarm.max_poll_errors", cfg.MaxPollErrors, "must be at least 1")
	}
}

func (v *Validator) validateLauncher(cfg *LauncherConfig) {
	if cfg.Path == "" {
		v.addError("launcher.path", cfg.Path, "launcher binary required")
	}
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err != nil || d <= 0 {
			v.addError("launcher.timeout", cfg.Timeout, "must be a positive duration like 30m")
		}
	}
	for tier := range cfg.Models {
		if !core.ValidTier(core.Tier(tier)) {
			v.addError("launcher.models."+tier, tier, "must be one of: light, medium, heavy")
		}
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Host == "" {
		v.addError("server.host", cfg.Host, "host required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
}

func (v *Validator) validateJanitor(cfg *JanitorConfig) {
	if cfg.Schedule == "" {
		v.addError("janitor.schedule", cfg.Schedule, "cron schedule required")
	}
	if cfg.MarkerTTL != "" {
		if d, err := time.ParseDuration(cfg.MarkerTTL); err != nil || d <= 0 {
			v.addError("janitor.marker_ttl", cfg.MarkerTTL, "must be a positive duration like 24h")
		}
	}
}

func (v *Validator) validateHistory(cfg *HistoryConfig) {
	if cfg.Enabled && cfg.Path == "" {
		v.addError("history.path", cfg.Path, "path required when history is enabled")
	}
}
