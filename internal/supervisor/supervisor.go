// ABOUTME: Spawns and owns the agent daemon process: env construction, output relay, shutdown.
// ABOUTME: Platform-specific start/kill semantics live in proc_unix.go and proc_windows.go.

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// ErrBinaryNotFound indicates the configured daemon binary does not exist.
var ErrBinaryNotFound = errors.New("agent daemon binary not found")

// SecretEnvVar is the environment variable carrying the shared secret to
// the daemon.
const SecretEnvVar = "COVEN_SERVER__SECRET_KEY"

// stopGracePeriod is how long Stop waits for the process to exit after a
// polite termination before force-killing it.
const stopGracePeriod = 5 * time.Second

// credentialAllowList enumerates the host environment variables that may be
// forwarded to the daemon. Provider credentials only; anything not listed
// here is never forwarded.
var credentialAllowList = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GOOGLE_API_KEY",
	"GROQ_API_KEY",
	"OPENROUTER_API_KEY",
	"DATABRICKS_HOST",
	"DATABRICKS_TOKEN",
	"OLLAMA_HOST",
}

// Config describes one daemon launch.
type Config struct {
	// BinaryPath is the daemon executable. Must exist; on POSIX a missing
	// exec bit is repaired before spawning.
	BinaryPath string

	// Subcommand is the single fixed argument the daemon is invoked with.
	Subcommand string

	// WorkingDir is the daemon's working directory. Defaults to the user's
	// home directory.
	WorkingDir string

	// Port the daemon should listen on (exported as PORT).
	Port int

	// Secret is the per-instance shared secret (exported as SecretEnvVar).
	Secret string

	// ExtraEnv is passed to the daemon verbatim, after the allow-listed
	// credentials.
	ExtraEnv map[string]string

	Logger *slog.Logger
}

// Handle represents a running daemon process. It is exclusively owned by
// the supervisor that created it; other components see only the immutable
// (Port, Secret) pair.
type Handle struct {
	Port       int
	WorkingDir string
	Secret     string

	cmd      *exec.Cmd
	done     chan error
	logger   *slog.Logger
	stopOnce sync.Once
}

// Start verifies the binary, builds the environment, and spawns the daemon
// with an argument vector (never through a shell). The child's stdout and
// stderr are relayed line-by-line to the logger.
func Start(cfg Config) (*Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "supervisor")

	if err := ensureExecutable(cfg.BinaryPath); err != nil {
		return nil, err
	}

	workingDir := cfg.WorkingDir
	if workingDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		workingDir = home
	}

	subcommand := cfg.Subcommand
	if subcommand == "" {
		subcommand = "agent"
	}

	cmd := exec.Command(cfg.BinaryPath, subcommand)
	cmd.Dir = workingDir
	cmd.Env = buildEnv(cfg, workingDir)
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %s: %w", cfg.BinaryPath, err)
	}

	logger.Info("agent daemon started",
		"binary", cfg.BinaryPath,
		"pid", cmd.Process.Pid,
		"port", cfg.Port,
		"working_dir", workingDir)

	h := &Handle{
		Port:       cfg.Port,
		WorkingDir: workingDir,
		Secret:     cfg.Secret,
		cmd:        cmd,
		done:       make(chan error, 1),
		logger:     logger,
	}

	var relay sync.WaitGroup
	relay.Add(2)
	go func() {
		defer relay.Done()
		relayLines(stdout, logger, slog.LevelInfo)
	}()
	go func() {
		defer relay.Done()
		relayLines(stderr, logger, slog.LevelWarn)
	}()

	go func() {
		relay.Wait()
		err := cmd.Wait()
		if err != nil {
			logger.Warn("agent daemon exited", "pid", cmd.Process.Pid, "error", err)
		} else {
			logger.Info("agent daemon exited", "pid", cmd.Process.Pid)
		}
		h.done <- err
		close(h.done)
	}()

	return h, nil
}

// Done returns a channel that receives the process exit error (nil for a
// clean exit) and is then closed. Used for crash detection.
func (h *Handle) Done() <-chan error {
	return h.done
}

// Pid returns the child process id.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Stop terminates the daemon. Idempotent: calling Stop on an already
// stopped handle is a no-op. Termination is polite first (signal on POSIX,
// tree-kill on Windows) with a bounded wait before escalating.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		terminate(h.cmd, h.logger)

		select {
		case <-h.done:
		case <-time.After(stopGracePeriod):
			h.logger.Warn("agent daemon did not exit in time, force killing", "pid", h.cmd.Process.Pid)
			forceKill(h.cmd, h.logger)
			<-h.done
		}
	})
}

// relayLines streams one pipe into the logger line by line. The scanner
// buffer is bounded so a misbehaving child cannot grow host memory.
func relayLines(r io.Reader, logger *slog.Logger, level slog.Level) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Log(context.Background(), level, "agentd: "+scanner.Text())
	}
}

// buildEnv constructs the child environment: port, secret, home, PATH,
// allow-listed provider credentials, then any configured extras.
func buildEnv(cfg Config, workingDir string) []string {
	env := []string{
		"PORT=" + strconv.Itoa(cfg.Port),
		SecretEnvVar + "=" + cfg.Secret,
		"PATH=" + os.Getenv("PATH"),
	}

	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "windows" {
			env = append(env, "USERPROFILE="+home)
		} else {
			env = append(env, "HOME="+home)
		}
	}

	for _, name := range credentialAllowList {
		if val, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+val)
		}
	}

	for name, val := range cfg.ExtraEnv {
		env = append(env, name+"="+val)
	}

	return env
}
