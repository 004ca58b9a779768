// ABOUTME: The sessions command: lists locally mirrored sessions from the transcript store.
// ABOUTME: Works offline; the daemon-side registry remains the source of truth.

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-host/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List locally mirrored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions(cmd.Context())
	},
}

func runSessions(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	mirror, err := store.NewSQLiteStore(filepath.Join(cfg.Host.StateDir, "transcripts.db"), logger)
	if err != nil {
		return fmt.Errorf("opening transcript mirror: %w", err)
	}
	defer mirror.Close()

	sessions, err := mirror.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("no mirrored sessions")
		return nil
	}

	for _, s := range sessions {
		msgs, err := mirror.MessagesForSession(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("counting messages for %s: %w", s.ID, err)
		}
		fmt.Printf("%s  %-30s  %3d messages  %s\n",
			color.CyanString(shortID(s.ID)),
			s.Description,
			len(msgs),
			color.HiBlackString(s.UpdatedAt.Format("2006-01-02 15:04")))
	}
	return nil
}
