package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.False(t, cfg.Hook.LeaveInPage)
	assert.Equal(t, "pagebridge-hook-js", cfg.Hook.ArtifactPrefix)
	assert.Equal(t, "pagebridge-hook", cfg.Hook.MarkerPrefix)
	assert.Equal(t, "pagebridgeHook", cfg.Hook.GlobalPrefix)

	assert.Equal(t, 5*time.Second, cfg.Page.ScriptTimeout.Duration)
	assert.Equal(t, 10000, cfg.Page.TaskBudget)
	assert.Equal(t, "about:blank", cfg.Page.URL)

	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout.Duration)
	assert.Equal(t, 3, cfg.Fetch.Retries)
	assert.False(t, cfg.Serializer.Lenient)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	require.NotNil(t, cfg)
	assert.Equal(t, "pagebridge-hook-js", cfg.Hook.ArtifactPrefix)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PAGEBRIDGE_LOG_LEVEL":       "debug",
		"PAGEBRIDGE_LOG_DEV":         "true",
		"PAGEBRIDGE_LEAVE_IN_PAGE":   "true",
		"PAGEBRIDGE_GLOBAL_PREFIX":   "hookMgr",
		"PAGEBRIDGE_SCRIPT_TIMEOUT":  "250ms",
		"PAGEBRIDGE_TASK_BUDGET":     "12",
		"PAGEBRIDGE_FETCH_RETRIES":   "0",
		"PAGEBRIDGE_FETCH_RPS":       "2.5",
		"PAGEBRIDGE_LENIENT":         "true",
		"PAGEBRIDGE_ARTIFACT_PREFIX": "x-js",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.True(t, cfg.Hook.LeaveInPage)
	assert.Equal(t, "hookMgr", cfg.Hook.GlobalPrefix)
	assert.Equal(t, "x-js", cfg.Hook.ArtifactPrefix)
	assert.Equal(t, 250*time.Millisecond, cfg.Page.ScriptTimeout.Duration)
	assert.Equal(t, 12, cfg.Page.TaskBudget)
	assert.Equal(t, 0, cfg.Fetch.Retries)
	assert.InDelta(t, 2.5, cfg.Fetch.RPS, 1e-9)
	assert.True(t, cfg.Serializer.Lenient)

	// Unset values keep their defaults.
	assert.Equal(t, "pagebridge-hook", cfg.Hook.MarkerPrefix)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("PAGEBRIDGE_SCRIPT_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
	assert.Equal(t, 5*time.Second, LoadOrDefault().Page.ScriptTimeout.Duration)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagebridge.toml")
	content := `
[logging]
level = "warn"

[hook]
leave_in_page = true
marker_prefix = "custom"

[page]
script_timeout = "2s"
url = "https://example.test/app"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PAGEBRIDGE_LOG_LEVEL", "error")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// Environment beats the file.
	assert.Equal(t, "error", cfg.Logging.Level)
	// File beats the defaults.
	assert.True(t, cfg.Hook.LeaveInPage)
	assert.Equal(t, "custom", cfg.Hook.MarkerPrefix)
	assert.Equal(t, 2*time.Second, cfg.Page.ScriptTimeout.Duration)
	assert.Equal(t, "https://example.test/app", cfg.Page.URL)
	// Untouched sections keep defaults.
	assert.Equal(t, "pagebridgeHook", cfg.Hook.GlobalPrefix)
	assert.Equal(t, 3, cfg.Fetch.Retries)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[hook\nleave_in_page = "), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
