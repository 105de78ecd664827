package config

// Default returns the built-in configuration. The loader's defaults
// mirror this struct; TestLoaderDefaultsMatchDefault keeps the two in
// sync.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Data: DataConfig{
			Root:    ".ocw/data",
			Scratch: ".ocw/scratch",
		},
		Workflow: WorkflowConfig{
			DefaultType: "build",
			DefaultMode: "balanced",
			Pipelines:   ".ocw/pipelines.yaml",
		},
		Swarm: SwarmConfig{
			DefaultConcurrency: 4,
			StaleTimeoutMs:     180000,
			ProgressTimeoutMs:  600000,
			MinTimeoutMs:       60000,
			StartupGraceMs:     30000,
			PollIntervalMs:     5000,
			MaxPollErrors:      3,
		},
		Launcher: LauncherConfig{
			Path:    "opencode",
			Timeout: "30m",
		},
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    8844,
			Metrics: true,
		},
		Janitor: JanitorConfig{
			Schedule:    "*/10 * * * *",
			MarkerTTL:   "24h",
			AutoArchive: true,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    ".ocw/history.db",
		},
	}
}
