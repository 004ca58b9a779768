// ABOUTME: Tests for readiness polling against httptest servers.
// ABOUTME: Validates retry budget, eventual success, cancellation, and the false-not-error contract.

package probe

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serverPort extracts the port an httptest server is listening on.
func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestWaitUntilReady_ImmediateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(5, 10*time.Millisecond, discardLogger())
	assert.True(t, p.WaitUntilReady(context.Background(), serverPort(t, srv), "secret"))
}

func TestWaitUntilReady_SucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 4 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(10, 5*time.Millisecond, discardLogger())
	assert.True(t, p.WaitUntilReady(context.Background(), serverPort(t, srv), "secret"))
	assert.GreaterOrEqual(t, calls.Load(), int32(4))
}

func TestWaitUntilReady_ExhaustsBudget(t *testing.T) {
	// No listener at all: every attempt is connection-refused.
	port, err := freePort()
	require.NoError(t, err)

	p := New(3, 5*time.Millisecond, discardLogger())
	assert.False(t, p.WaitUntilReady(context.Background(), port, "secret"))
}

func TestWaitUntilReady_SendsSecretHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Secret-Key") != "expected-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(3, 5*time.Millisecond, discardLogger())
	assert.True(t, p.WaitUntilReady(context.Background(), serverPort(t, srv), "expected-secret"))
	assert.False(t, p.WaitUntilReady(context.Background(), serverPort(t, srv), "wrong-secret"))
}

func TestWaitUntilReady_CancelledContext(t *testing.T) {
	port, err := freePort()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(1000, time.Hour, discardLogger())

	start := time.Now()
	assert.False(t, p.WaitUntilReady(ctx, port, "secret"))
	assert.Less(t, time.Since(start), 5*time.Second, "cancelled probe must not run the full budget")
}

// freePort grabs an unused loopback port for negative tests.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
