package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "OCW",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "OCW",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (OCW_*)
// 3. Project config (.ocw/config.yaml in current directory)
// 4. User config (~/.config/ocw/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		// Project config takes precedence over user config.
		l.v.AddConfigPath(".ocw")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "ocw"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("data.root", ".ocw/data")
	l.v.SetDefault("data.scratch", ".ocw/scratch")

	l.v.SetDefault("workflow.default_type", "build")
	l.v.SetDefault("workflow.default_mode", "balanced")
	l.v.SetDefault("workflow.pipelines", ".ocw/pipelines.yaml")

	l.v.SetDefault("swarm.default_concurrency", 4)
	l.v.SetDefault("swarm.stale_timeout_ms", 180000)
	l.v.SetDefault("swarm.progress_timeout_ms", 600000)
	l.v.SetDefault("swarm.min_timeout_ms", 60000)
	l.v.SetDefault("swarm.startup_grace_ms", 30000)
	l.v.SetDefault("swarm.poll_interval_ms", 5000)
	l.v.SetDefault("swarm.max_poll_errors", 3)

	l.v.SetDefault("launcher.path", "opencode")
	l.v.SetDefault("launcher.timeout", "30m")

	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8844)
	l.v.SetDefault("server.metrics", true)

	l.v.SetDefault("janitor.schedule", "*/10 * * * *")
	l.v.SetDefault("janitor.marker_ttl", "24h")
	l.v.SetDefault("janitor.auto_archive", true)

	l.v.SetDefault("history.enabled", true)
	l.v.SetDefault("history.path", ".ocw/history.db")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
