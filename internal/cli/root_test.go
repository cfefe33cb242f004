package cli

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "protoengine", cmd.Use)
	assert.Contains(t, cmd.Long, "replayed")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "run", "replay", "test", "trace"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-file"))
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"db", "run-id", "metrics-addr"} {
		flag := runCmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue)
	}
	timeoutFlag := runCmd.Flags().Lookup("timeout")
	require.NotNil(t, timeoutFlag)
	assert.Equal(t, "0s", timeoutFlag.DefValue)
}

func TestReplayCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	replayCmd, _, err := cmd.Find([]string{"replay"})
	require.NoError(t, err)

	require.NotNil(t, replayCmd.Flags().Lookup("db"))
	require.NotNil(t, replayCmd.Flags().Lookup("run"))
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	modeFlag := testCmd.Flags().Lookup("mode")
	require.NotNil(t, modeFlag)
	assert.Equal(t, "simulate", modeFlag.DefValue)

	require.NotNil(t, testCmd.Flags().Lookup("filter"))
	require.NotNil(t, testCmd.Flags().Lookup("golden"))
}

func TestTraceCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	traceCmd, _, err := cmd.Find([]string{"trace"})
	require.NoError(t, err)

	for _, name := range []string{"db", "run", "type", "command"} {
		require.NotNil(t, traceCmd.Flags().Lookup(name), name)
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "invalid", "validate", "protocol.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults_without_path", func(t *testing.T) {
		cfg, err := loadConfig("")
		require.NoError(t, err)
		assert.Equal(t, time.Second, cfg.ModulePollInterval)
		assert.Equal(t, 128, cfg.DefinitionCacheSize)
	})

	t.Run("overrides_defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("block_on_door_open: true\nmax_commands: 50\nmodule_poll_interval: 250ms\n"), 0o644))

		cfg, err := loadConfig(path)
		require.NoError(t, err)
		assert.True(t, cfg.BlockOnDoorOpen)
		assert.Equal(t, 50, cfg.MaxCommands)
		assert.Equal(t, 250*time.Millisecond, cfg.ModulePollInterval)
		assert.Equal(t, 128, cfg.DefinitionCacheSize)
	})

	t.Run("empty_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		cfg, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, time.Second, cfg.ModulePollInterval)
	})

	t.Run("unknown_field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("block_on_door: true\n"), 0o644))

		_, err := loadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config")
	})

	t.Run("invalid_buffer", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("subscriber_buffer: 0\n"), 0o644))

		_, err := loadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber_buffer")
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestNewLogger_FansOutToLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "engine.log")
	stderr := &bytes.Buffer{}

	logger, closeFn, err := newLogger(&RootOptions{LogFile: logPath}, stderr)
	require.NoError(t, err)

	logger.Debug("debug only in file", "k", 1)
	logger.Info("run starting", "run_id", "r1")
	require.NoError(t, closeFn())

	assert.Contains(t, stderr.String(), "run starting")
	assert.NotContains(t, stderr.String(), "debug only in file")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"run starting"`)
	assert.Contains(t, string(data), `"msg":"debug only in file"`)
}

func TestNewLogger_VerboseEnablesDebug(t *testing.T) {
	stderr := &bytes.Buffer{}
	logger, closeFn, err := newLogger(&RootOptions{Verbose: true}, stderr)
	require.NoError(t, err)
	defer closeFn()

	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
	logger.Debug("polling")
	assert.Contains(t, stderr.String(), "polling")
}
