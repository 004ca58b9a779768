// ABOUTME: Windows process semantics: detached start and taskkill-based tree termination.
// ABOUTME: The child gets its own console so it does not keep the host alive or share Ctrl+C.

//go:build windows

package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

// ensureExecutable verifies the binary exists. Windows has no exec bit to
// repair; existence is the whole check.
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
	return nil
}

// configureSysProcAttr detaches the child from the host's console and
// process group so it neither receives the host's Ctrl+C nor keeps the
// host process alive.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
}

// terminate force-kills the daemon's process tree by PID. Windows offers no
// polite cross-console signal for a detached child, so the tree kill is
// both the polite and the forced path.
func terminate(cmd *exec.Cmd, logger *slog.Logger) {
	pid := cmd.Process.Pid
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	if err := kill.Run(); err != nil {
		logger.Debug("taskkill failed", "pid", pid, "error", err)
	}
}

// forceKill falls back to killing the immediate process if taskkill failed.
func forceKill(cmd *exec.Cmd, logger *slog.Logger) {
	if err := cmd.Process.Kill(); err != nil {
		logger.Debug("process kill failed", "pid", cmd.Process.Pid, "error", err)
	}
}
