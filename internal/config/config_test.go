// ABOUTME: Tests for configuration loading, env expansion, and validation.
// ABOUTME: Validates defaults, duration parsing, and required-field errors.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	path := writeConfig(t, `
daemon:
  binary_path: /usr/local/bin/covend
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/covend", cfg.Daemon.BinaryPath)
	// Defaults survive a partial file.
	assert.Equal(t, "agent", cfg.Daemon.Subcommand)
	assert.Equal(t, "anthropic", cfg.Daemon.Provider)
	assert.Equal(t, 60, cfg.Readiness.Attempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Readiness.Interval)
	assert.NotEmpty(t, cfg.Daemon.WorkingDir)
	assert.NotEmpty(t, cfg.Host.StateDir)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_COVEND_PATH", "/opt/covend")

	path := writeConfig(t, `
daemon:
  binary_path: ${TEST_COVEND_PATH}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/covend", cfg.Daemon.BinaryPath)
}

func TestLoad_DurationParsing(t *testing.T) {
	path := writeConfig(t, `
daemon:
  binary_path: /bin/covend
readiness:
  attempts: 10
  interval: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Readiness.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Readiness.Interval)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
daemon:
  binary_path: /bin/covend
readiness:
  interval: not-a-duration
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readiness.interval")
}

func TestLoad_MissingBinaryPath(t *testing.T) {
	path := writeConfig(t, `
daemon:
  provider: openai
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon.binary_path")
}

func TestLoad_ExtensionValidation(t *testing.T) {
	path := writeConfig(t, `
daemon:
  binary_path: /bin/covend
  extensions:
    - type: stdio
      name: files
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extensions[0].command")
}

func TestValidate_Defaults(t *testing.T) {
	cfg := Default()
	cfg.Daemon.BinaryPath = "/bin/covend"
	assert.NoError(t, cfg.Validate())
}
