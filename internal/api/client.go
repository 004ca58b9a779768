// ABOUTME: Authenticated HTTP client for the local agent daemon.
// ABOUTME: Injects the shared secret header, negotiates JSON, and surfaces uniform request errors.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// secretHeader carries the per-instance shared secret on every request.
const secretHeader = "X-Secret-Key"

// unaryTimeout caps non-streaming requests. The daemon is on loopback, so
// anything slower than this is wedged, not slow.
const unaryTimeout = 30 * time.Second

// RequestError is returned for any non-2xx response. It always carries the
// full status line and response body so callers never see a partial or
// ambiguous failure.
type RequestError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("daemon request failed: %s: %s", e.Status, e.Body)
}

// Client talks to one daemon instance. The (port, secret) pair is fixed at
// construction; a new daemon instance gets a new client.
type Client struct {
	baseURL string
	secret  string

	unary  *http.Client
	stream *http.Client // no timeout: responses are long-lived SSE bodies
	logger *slog.Logger
}

// New builds a client bound to the daemon on the given loopback port.
func New(port int, secret string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		secret:  secret,
		unary:   &http.Client{Timeout: unaryTimeout},
		stream:  &http.Client{},
		logger:  logger.With("component", "api"),
	}
}

// Port-free accessor used in logs and status output.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do issues an authenticated JSON request. A non-nil body is marshaled as
// JSON; a non-nil out receives the decoded response body. Non-2xx responses
// become a *RequestError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(secretHeader, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.unary.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newRequestError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// newRequestError drains the response body into a RequestError.
func newRequestError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return &RequestError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(bytes.TrimSpace(body)),
	}
}

// CheckStatus reports daemon liveness. It never returns an error: any
// network failure or non-2xx response is false. It is an advisory signal
// for polling loops and status rendering, not a control-flow call.
func (c *Client) CheckStatus(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.unary.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
