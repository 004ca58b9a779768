// ABOUTME: Entry point for coven-host, the agent daemon supervisor and chat client.
// ABOUTME: Wires the cobra command tree and resolves the configuration file path.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/2389/coven-host/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:     "coven-host",
	Short:   "Supervise an agent daemon and chat with it",
	Version: version,
	Long: `coven-host launches an agent daemon on a private local port, waits for
it to become ready, and provides an interactive chat session on top of
its streaming API. Conversations are organized into named sessions.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file path")
	rootCmd.AddCommand(runCmd, statusCmd, sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath resolves the config file location.
// Priority: --config flag > COVEN_HOST_CONFIG env > XDG config dir.
func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	if envPath := os.Getenv("COVEN_HOST_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "coven-host.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven-host", "config.yaml")
}

// loadConfig reads the resolved config file, falling back to defaults when
// no file exists at the default location.
func loadConfig() (*config.Config, error) {
	path := configPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if configFlag != "" {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return config.Default(), nil
	}
	return config.Load(path)
}
