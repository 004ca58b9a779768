// ABOUTME: The run command: starts the daemon and drives an interactive chat loop.
// ABOUTME: Slash commands manage sessions; plain input is sent as a chat message.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-host/internal/host"
	"github.com/2389/coven-host/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent daemon and chat with it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func runChat() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := host.New(cfg, logger)

	events, unsub := h.Subscribe()
	defer unsub()
	go printEvents(events)

	fmt.Printf("Starting %s ...\n", cfg.Daemon.BinaryPath)
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	defer h.Stop()

	fmt.Printf("Daemon ready on port %d (pid %d)\n", h.Port(), h.Pid())
	fmt.Println("Type a message and press Enter. /help for commands. /quit to exit.")
	fmt.Println()

	return chatLoop(ctx, h)
}

// printEvents renders host events that arrive outside a send: activity
// updates while streaming and errors such as a daemon crash.
func printEvents(events <-chan host.Event) {
	faint := color.New(color.Faint)
	for ev := range events {
		switch ev.Kind {
		case host.EventActivity:
			if ev.Activity != "" {
				faint.Printf("  %s\n", ev.Activity)
			}
		case host.EventError:
			color.Red("error: %v", ev.Err)
		case host.EventStatus:
			if ev.Status == host.StatusStopped {
				color.Yellow("daemon stopped")
			}
		}
	}
}

func chatLoop(ctx context.Context, h *host.Host) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		printPrompt(h)

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else if err := scanner.Err(); err != nil {
				errCh <- err
			} else {
				errCh <- io.EOF
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := handleCommand(ctx, h, input)
			if err != nil {
				color.Red("error: %v", err)
			}
			if quit {
				return nil
			}
			fmt.Println()
			continue
		}

		final, err := h.SendMessage(ctx, input)
		if err != nil {
			color.Red("error: %v", err)
		} else if final != nil {
			fmt.Println(final.Text())
		}
		fmt.Println()
	}
}

func printPrompt(h *host.Host) {
	reg := h.Registry()
	if reg == nil {
		fmt.Print("> ")
		return
	}
	if current := reg.Current(); current != nil {
		fmt.Printf("[%s]> ", shortID(current.ID))
		return
	}
	fmt.Print("> ")
}

// handleCommand dispatches one slash command. Returns true to exit.
func handleCommand(ctx context.Context, h *host.Host, input string) (bool, error) {
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		printHelp()
		return false, nil

	case "/status":
		fmt.Printf("status: %s", h.Status())
		if h.Status() == host.StatusRunning {
			fmt.Printf("  port: %d  pid: %d", h.Port(), h.Pid())
		}
		fmt.Println()
		return false, nil

	case "/sessions":
		reg := h.Registry()
		if reg == nil {
			return false, host.ErrNotRunning
		}
		sessions, err := reg.FetchAll(ctx)
		if err != nil {
			color.Yellow("warning: session list may be stale: %v", err)
			sessions = reg.Sessions()
		}
		printSessions(sessions, reg.Current())
		return false, nil

	case "/new":
		meta, err := h.NewSession("", rest)
		if err != nil {
			return false, err
		}
		fmt.Printf("new session %s\n", shortID(meta.ID))
		return false, nil

	case "/switch":
		if rest == "" {
			return false, fmt.Errorf("usage: /switch <session-id>")
		}
		if err := h.SwitchSession(ctx, rest); err != nil {
			return false, err
		}
		fmt.Printf("switched to %s (%d messages restored)\n", shortID(rest), len(h.Messages()))
		return false, nil

	case "/rename":
		if rest == "" {
			return false, fmt.Errorf("usage: /rename <description>")
		}
		reg := h.Registry()
		if reg == nil {
			return false, host.ErrNotRunning
		}
		current := reg.Current()
		if current == nil {
			return false, fmt.Errorf("no current session")
		}
		if err := reg.Rename(ctx, current.ID, rest); err != nil {
			return false, err
		}
		fmt.Println("renamed")
		return false, nil

	case "/delete":
		if rest == "" {
			return false, fmt.Errorf("usage: /delete <session-id>")
		}
		reg := h.Registry()
		if reg == nil {
			return false, host.ErrNotRunning
		}
		if err := reg.Delete(ctx, rest); err != nil {
			return false, err
		}
		fmt.Printf("deleted %s\n", shortID(rest))
		return false, nil

	case "/restart":
		fmt.Println("restarting daemon ...")
		if err := h.Restart(ctx); err != nil {
			return false, err
		}
		fmt.Printf("daemon ready on port %d (pid %d)\n", h.Port(), h.Pid())
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /sessions           List sessions (* marks current)")
	fmt.Println("  /new [description]  Start a fresh session")
	fmt.Println("  /switch <id>        Switch to a session and restore its history")
	fmt.Println("  /rename <desc>      Rename the current session")
	fmt.Println("  /delete <id>        Delete a session")
	fmt.Println("  /status             Show daemon status")
	fmt.Println("  /restart            Restart the daemon")
	fmt.Println("  /help               Show this help")
	fmt.Println("  /quit               Exit")
}

func printSessions(sessions []session.Metadata, current *session.Metadata) {
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return
	}
	for _, s := range sessions {
		marker := " "
		if current != nil && s.ID == current.ID {
			marker = color.GreenString("*")
		}
		desc := s.Description
		if s.Unsaved {
			desc += color.HiBlackString(" (unsaved)")
		}
		fmt.Printf("%s %s  %s  %s\n",
			marker,
			color.CyanString(shortID(s.ID)),
			desc,
			color.HiBlackString(formatUpdated(s.UpdatedAt)))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
