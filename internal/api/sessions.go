// ABOUTME: Typed session endpoints: create, list, history, rename, delete.
// ABOUTME: The list response stays loosely typed; the session registry normalizes it.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/coven-host/internal/chat"
)

// CreateSessionRequest is the body for POST /sessions/new.
type CreateSessionRequest struct {
	WorkingDir  string `json:"working_dir"`
	Description string `json:"description,omitempty"`
}

// CreateSessionResponse is the daemon's acknowledgement of a new session.
type CreateSessionResponse struct {
	ID string `json:"id"`
}

// SessionHistory is the response of GET /sessions/{id}: the persisted
// message timeline plus whatever metadata the daemon tracks.
type SessionHistory struct {
	SessionID string          `json:"session_id"`
	Metadata  json.RawMessage `json:"metadata"`
	Messages  []chat.Message  `json:"messages"`
}

// CreateSession asks the daemon to persist a new session.
func (c *Client) CreateSession(ctx context.Context, workingDir, description string) (*CreateSessionResponse, error) {
	var resp CreateSessionResponse
	req := CreateSessionRequest{WorkingDir: workingDir, Description: description}
	if err := c.do(ctx, http.MethodPost, "/sessions/new", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("daemon returned a session with no id")
	}
	return &resp, nil
}

// ListSessions returns the raw session list payload. The daemon has shipped
// both a wrapped {"sessions": [...]} object and a bare array; callers
// normalize via the session package rather than here.
func (c *Client) ListSessions(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetSessionHistory fetches the full message history of one session.
func (c *Client) GetSessionHistory(ctx context.Context, sessionID string) (*SessionHistory, error) {
	var hist SessionHistory
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID, nil, &hist); err != nil {
		return nil, err
	}
	return &hist, nil
}

// RenameSession updates a session's description.
func (c *Client) RenameSession(ctx context.Context, sessionID, description string) error {
	body := map[string]string{"description": description}
	return c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/rename", body, nil)
}

// DeleteSession removes a session from the daemon.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+sessionID, nil, nil)
}
