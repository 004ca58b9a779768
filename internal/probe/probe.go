// ABOUTME: Bounded fixed-interval readiness polling of the daemon status endpoint.
// ABOUTME: Never returns an error; the caller decides whether exhaustion is fatal.

package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultAttempts bounds the number of status probes per startup.
	DefaultAttempts = 60

	// DefaultInterval is the fixed sleep between probes. Startup latency is
	// small and bounded, so there is no backoff.
	DefaultInterval = 100 * time.Millisecond

	// probeTimeout caps a single status request.
	probeTimeout = 2 * time.Second
)

// Probe polls GET /status on the daemon until it answers 2xx or the
// attempt budget runs out.
type Probe struct {
	Attempts int
	Interval time.Duration

	client *http.Client
	logger *slog.Logger
}

// New returns a probe with the given budget. Zero values fall back to the
// defaults.
func New(attempts int, interval time.Duration, logger *slog.Logger) *Probe {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		Attempts: attempts,
		Interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
		logger:   logger.With("component", "probe"),
	}
}

// WaitUntilReady polls the status endpoint. Returns true on the first 2xx
// response. Failed attempts are swallowed except the last, which is logged
// for diagnosis. Returns false once the budget is exhausted or ctx is
// cancelled; it never returns an error.
func (p *Probe) WaitUntilReady(ctx context.Context, port int, secretKey string) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/status", port)

	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if ok, status, err := p.check(ctx, url, secretKey); ok {
			p.logger.Debug("daemon ready", "port", port, "attempts", attempt)
			return true
		} else {
			lastErr = err
			lastStatus = status
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("readiness polling cancelled", "port", port)
			return false
		case <-time.After(p.Interval):
		}
	}

	if lastErr != nil {
		p.logger.Warn("daemon never became ready", "port", port, "attempts", p.Attempts, "last_error", lastErr)
	} else {
		p.logger.Warn("daemon never became ready", "port", port, "attempts", p.Attempts, "last_status", lastStatus)
	}
	return false
}

// check issues a single status request. Returns (ok, statusCode, err).
func (p *Probe) check(ctx context.Context, url, secretKey string) (bool, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, 0, err
	}
	req.Header.Set("X-Secret-Key", secretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, resp.StatusCode, nil
	}
	return false, resp.StatusCode, nil
}
