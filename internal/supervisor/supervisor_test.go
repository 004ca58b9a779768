// ABOUTME: Tests for daemon process spawning, env construction, and termination.
// ABOUTME: Uses real shell scripts on POSIX; Windows-only paths are skipped.

package supervisor

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer makes a bytes.Buffer safe for the relay goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// writeScript drops a shell script into a temp dir and returns its path.
func writeScript(t *testing.T, body string, mode os.FileMode) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tests are POSIX-only")
	}
	path := filepath.Join(t.TempDir(), "covend")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), mode))
	return path
}

func TestStart_MissingBinary(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	_, err := Start(Config{BinaryPath: missing, Logger: testLogger(io.Discard)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
	assert.Contains(t, err.Error(), missing)
}

func TestStart_RepairsMissingExecBit(t *testing.T) {
	// Present but not executable: the supervisor repairs the mode instead
	// of failing.
	script := writeScript(t, "sleep 30\n", 0644)

	h, err := Start(Config{BinaryPath: script, WorkingDir: t.TempDir(), Logger: testLogger(io.Discard)})
	require.NoError(t, err)
	defer h.Stop()

	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0111)
}

func TestStop_Idempotent(t *testing.T) {
	script := writeScript(t, "sleep 30\n", 0755)

	h, err := Start(Config{BinaryPath: script, WorkingDir: t.TempDir(), Logger: testLogger(io.Discard)})
	require.NoError(t, err)

	h.Stop()
	// Second call is a no-op, not a panic or error.
	h.Stop()

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after Stop")
	}
}

func TestStart_RelaysOutputLines(t *testing.T) {
	script := writeScript(t, "echo hello from agentd\necho warn line >&2\n", 0755)

	var buf syncBuffer
	h, err := Start(Config{BinaryPath: script, WorkingDir: t.TempDir(), Logger: testLogger(&buf)})
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("script did not finish")
	}

	out := buf.String()
	assert.Contains(t, out, "hello from agentd")
	assert.Contains(t, out, "warn line")
}

func TestStart_ExitCodeSurfacesOnDone(t *testing.T) {
	script := writeScript(t, "exit 3\n", 0755)

	h, err := Start(Config{BinaryPath: script, WorkingDir: t.TempDir(), Logger: testLogger(io.Discard)})
	require.NoError(t, err)

	select {
	case exitErr := <-h.Done():
		require.Error(t, exitErr)
		assert.Contains(t, exitErr.Error(), "3")
	case <-time.After(10 * time.Second):
		t.Fatal("script did not finish")
	}
}

func TestStart_ChildSeesPortSecretAndWorkingDir(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, `echo "port=$PORT secret=$COVEN_SERVER__SECRET_KEY pwd=$(pwd)"`+"\n", 0755)

	var buf syncBuffer
	h, err := Start(Config{
		BinaryPath: script,
		WorkingDir: dir,
		Port:       41234,
		Secret:     "s3cr3tvalue",
		Logger:     testLogger(&buf),
	})
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("script did not finish")
	}

	out := buf.String()
	assert.Contains(t, out, "port=41234")
	assert.Contains(t, out, "secret=s3cr3tvalue")
	assert.Contains(t, out, fmt.Sprintf("pwd=%s", dir))
}

func TestBuildEnv_CredentialAllowList(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-allowed")
	t.Setenv("SOME_RANDOM_TOKEN", "never-forwarded")

	env := buildEnv(Config{Port: 9999, Secret: "s"}, t.TempDir())
	joined := strings.Join(env, "\n")

	assert.Contains(t, joined, "ANTHROPIC_API_KEY=sk-allowed")
	assert.NotContains(t, joined, "SOME_RANDOM_TOKEN")
	assert.Contains(t, joined, "PORT=9999")
	assert.Contains(t, joined, SecretEnvVar+"=s")
}

func TestBuildEnv_ExtraEnvAppended(t *testing.T) {
	env := buildEnv(Config{ExtraEnv: map[string]string{"COVEN_MODE": "dev"}}, t.TempDir())
	assert.Contains(t, strings.Join(env, "\n"), "COVEN_MODE=dev")
}
