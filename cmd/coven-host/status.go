// ABOUTME: The status command: reports configuration and whether an instance is running.
// ABOUTME: Running detection reuses the instance lock file rather than a pid file.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and instance state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Printf("config:      %s\n", configPath())
	fmt.Printf("binary:      %s\n", cfg.Daemon.BinaryPath)
	fmt.Printf("working dir: %s\n", cfg.Daemon.WorkingDir)
	fmt.Printf("state dir:   %s\n", cfg.Host.StateDir)

	// If the lock is free, no instance holds it. Probing this way avoids a
	// pid file that can go stale.
	lock := flock.New(filepath.Join(cfg.Host.StateDir, "coven-host.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		fmt.Printf("instance:    %s\n", color.YellowString("unknown (%v)", err))
		return nil
	}
	if locked {
		lock.Unlock()
		fmt.Printf("instance:    %s\n", color.HiBlackString("not running"))
	} else {
		fmt.Printf("instance:    %s\n", color.GreenString("running"))
	}
	return nil
}
