package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	// Save and restore args
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"ocw", "--help"}
	err := Execute()
	// Help returns nil, cobra handles the output
	assert.NoError(t, err)
}

func TestSetVersion(t *testing.T) {
	SetVersion("test-version", "test-commit", "test-date")

	assert.Equal(t, "test-version", appVersion)
	assert.Equal(t, "test-commit", appCommit)
	assert.Equal(t, "test-date", appDate)
}

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "ocw", rootCmd.Use)
	assert.True(t, rootCmd.SilenceUsage)
	assert.True(t, rootCmd.SilenceErrors)
}

func TestRootCommandFlags(t *testing.T) {
	// Test that persistent flags are registered
	flag := rootCmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, flag)
	assert.Equal(t, "config", flag.Name)

	flag = rootCmd.PersistentFlags().Lookup("log-level")
	assert.NotNil(t, flag)
	assert.Equal(t, "log-level", flag.Name)

	flag = rootCmd.PersistentFlags().Lookup("log-format")
	assert.NotNil(t, flag)
	assert.Equal(t, "log-format", flag.Name)

	flag = rootCmd.PersistentFlags().Lookup("no-color")
	assert.NotNil(t, flag)
	assert.Equal(t, "no-color", flag.Name)

	flag = rootCmd.PersistentFlags().Lookup("quiet")
	assert.NotNil(t, flag)
	assert.Equal(t, "quiet", flag.Name)
	assert.Equal(t, "q", flag.Shorthand)
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{
		"run", "status", "gates", "bind", "unbind",
		"archive", "doctor", "serve", "history", "version",
	} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestInitRuntime(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer os.Chdir(oldDir)

	t.Run("defaults without config file", func(t *testing.T) {
		viper.Reset()
		cfgFile = ""

		require.NoError(t, os.Chdir(tmpDir))

		rt, err := initRuntime()
		require.NoError(t, err)
		assert.Equal(t, "info", rt.cfg.Log.Level)
		assert.Equal(t, "127.0.0.1", rt.cfg.Server.Host)
		assert.Equal(t, 8844, rt.cfg.Server.Port)
		assert.NotNil(t, rt.log)
	})

	t.Run("explicit config file", func(t *testing.T) {
		viper.Reset()

		configPath := filepath.Join(tmpDir, "config.yaml")
		err := os.WriteFile(configPath, []byte("log:\n  level: debug\n"), 0600)
		require.NoError(t, err)

		cfgFile = configPath
		defer func() { cfgFile = "" }()

		rt, err := initRuntime()
		require.NoError(t, err)
		assert.Equal(t, "debug", rt.cfg.Log.Level)
	})

	t.Run("invalid config file", func(t *testing.T) {
		viper.Reset()

		invalidPath := filepath.Join(tmpDir, "invalid.yaml")
		err := os.WriteFile(invalidPath, []byte("invalid: yaml: [[["), 0600)
		require.NoError(t, err)

		cfgFile = invalidPath
		defer func() { cfgFile = "" }()

		_, err = initRuntime()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "loading config")
	})

	t.Run("config failing validation", func(t *testing.T) {
		viper.Reset()

		configPath := filepath.Join(tmpDir, "badlevel.yaml")
		err := os.WriteFile(configPath, []byte("log:\n  level: shout\n"), 0600)
		require.NoError(t, err)

		cfgFile = configPath
		defer func() { cfgFile = "" }()

		_, err = initRuntime()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "validating config")
	})
}

func TestRuntimeOpenStore(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer os.Chdir(oldDir)
	require.NoError(t, os.Chdir(tmpDir))

	viper.Reset()
	cfgFile = ""

	rt, err := initRuntime()
	require.NoError(t, err)

	store := rt.openStore()
	require.NotNil(t, store)
	assert.Contains(t, store.ActiveRoot(), "active")

	machine, err := rt.openMachine()
	require.NoError(t, err)
	assert.NotNil(t, machine)

	registry := rt.openRegistry(store)
	assert.NotNil(t, registry)

	launcher := rt.openLauncher()
	assert.NotNil(t, launcher)
}

func TestSchedulerConfigFromDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer os.Chdir(oldDir)
	require.NoError(t, os.Chdir(tmpDir))

	viper.Reset()
	cfgFile = ""

	rt, err := initRuntime()
	require.NoError(t, err)

	sc := rt.schedulerConfig()
	assert.Equal(t, 4, sc.Limiter.Default)
	assert.Equal(t, 3, sc.MaxPollErrors)
	assert.Positive(t, sc.PollInterval)
	assert.Positive(t, sc.Detector.StaleTimeout)
	assert.Positive(t, sc.Detector.StartupGrace)
}
