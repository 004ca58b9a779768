// ABOUTME: The streaming chat call: POST /reply with an SSE response body.
// ABOUTME: Cancellation closes the underlying connection, not just local reads.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/2389/coven-host/internal/chat"
)

// ReplyRequest is the body for POST /reply.
type ReplyRequest struct {
	Messages          []chat.Message `json:"messages"`
	SessionID         string         `json:"session_id,omitempty"`
	SessionWorkingDir string         `json:"session_working_dir"`
}

// StreamReply sends the conversation so far and returns the raw SSE body.
// The caller owns the ReadCloser; cancelling ctx aborts the underlying
// connection promptly, which surfaces as an error from the next Read.
func (c *Client) StreamReply(ctx context.Context, reply ReplyRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("marshaling reply request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reply", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating reply request: %w", err)
	}
	req.Header.Set(secretHeader, c.secret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST /reply: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newRequestError(resp)
	}

	return resp.Body, nil
}
