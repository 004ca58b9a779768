// ABOUTME: POSIX process semantics: exec-bit repair, process groups, signal-based kill.
// ABOUTME: The daemon runs in its own process group so children die with it.

//go:build !windows

package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// ensureExecutable verifies the binary exists and carries the exec bit,
// repairing the mode if the file is present but not executable.
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBinaryNotFound, path)
		}
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrBinaryNotFound, path)
	}

	if info.Mode()&0111 == 0 {
		if err := os.Chmod(path, info.Mode()|0755); err != nil {
			return fmt.Errorf("repairing exec permission on %s: %w", path, err)
		}
	}
	return nil
}

// configureSysProcAttr places the child in its own process group so the
// whole daemon tree can be signaled at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the daemon's process group.
func terminate(cmd *exec.Cmd, logger *slog.Logger) {
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		logger.Debug("SIGTERM failed", "pid", pid, "error", err)
	}
}

// forceKill sends SIGKILL to the daemon's process group.
func forceKill(cmd *exec.Cmd, logger *slog.Logger) {
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		logger.Debug("SIGKILL failed", "pid", pid, "error", err)
	}
}
