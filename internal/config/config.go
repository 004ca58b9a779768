// ABOUTME: Configuration loading and parsing for coven-host.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-host configuration.
type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Host      HostConfig      `yaml:"host"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DaemonConfig describes the agent daemon binary and how to configure it.
type DaemonConfig struct {
	// BinaryPath is the agent daemon executable. Required.
	BinaryPath string `yaml:"binary_path"`

	// Subcommand is the fixed argument the daemon is invoked with.
	Subcommand string `yaml:"subcommand"`

	// WorkingDir is the daemon's working directory. Defaults to the
	// user's home directory.
	WorkingDir string `yaml:"working_dir"`

	// Provider/Model/Version select the agent configuration created
	// against POST /agent after the daemon is ready.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Version  string `yaml:"version"`

	// Extensions are added via POST /extensions/add during startup.
	Extensions []ExtensionConfig `yaml:"extensions"`

	// Env holds extra environment variables passed to the daemon verbatim.
	Env map[string]string `yaml:"env"`
}

// ExtensionConfig describes one agent extension to register at startup.
type ExtensionConfig struct {
	Type    string   `yaml:"type" json:"type"`
	Name    string   `yaml:"name" json:"name"`
	Command string   `yaml:"command" json:"cmd"`
	Args    []string `yaml:"args" json:"args"`
}

// ReadinessConfig controls startup polling of the daemon status endpoint.
type ReadinessConfig struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
}

// HostConfig holds host-side state configuration.
type HostConfig struct {
	// StateDir holds the instance lock and the local transcript mirror.
	StateDir string `yaml:"state_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every optional field populated.
// BinaryPath stays empty and must come from the file or the caller.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Daemon: DaemonConfig{
			Subcommand: "agent",
			WorkingDir: home,
			Provider:   "anthropic",
		},
		Readiness: ReadinessConfig{
			Attempts: 60,
			Interval: 100 * time.Millisecond,
		},
		Host: HostConfig{
			StateDir: filepath.Join(home, ".local", "share", "coven-host"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config layered over Default. Environment variables in the format
// ${VAR_NAME} are expanded. Duration strings are parsed into time.Duration
// values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Daemon.BinaryPath == "" {
		return fmt.Errorf("daemon.binary_path is required")
	}
	if c.Daemon.Provider == "" {
		return fmt.Errorf("daemon.provider is required")
	}
	if c.Readiness.Attempts <= 0 {
		return fmt.Errorf("readiness.attempts must be positive, got %d", c.Readiness.Attempts)
	}
	if c.Readiness.Interval <= 0 {
		return fmt.Errorf("readiness.interval must be positive, got %s", c.Readiness.Interval)
	}
	for i, ext := range c.Daemon.Extensions {
		if ext.Name == "" {
			return fmt.Errorf("daemon.extensions[%d].name is required", i)
		}
		if ext.Command == "" {
			return fmt.Errorf("daemon.extensions[%d].command is required", i)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Readiness.IntervalRaw != "" {
		interval, err := time.ParseDuration(cfg.Readiness.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing readiness.interval %q: %w", cfg.Readiness.IntervalRaw, err)
		}
		cfg.Readiness.Interval = interval
	}
	return nil
}
