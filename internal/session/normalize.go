// ABOUTME: Normalizes the daemon's heterogeneous session-list payloads into canonical metadata.
// ABOUTME: Accepts a wrapped {"sessions":[...]} object or a bare array; fallback keys are explicit.

package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireSession enumerates every field the daemon has ever used for session
// metadata. Older daemons send "name" instead of "description" and "path"
// instead of "working_dir".
type wireSession struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	WorkingDir   string `json:"working_dir"`
	Path         string `json:"path"`
	Description  string `json:"description"`
	Name         string `json:"name"`
	MessageCount int    `json:"message_count"`
	TotalTokens  int    `json:"total_tokens"`
	UpdatedAt    string `json:"updated_at"`
	Modified     string `json:"modified"`
}

// wireSessionList is the wrapped shape.
type wireSessionList struct {
	Sessions []wireSession `json:"sessions"`
}

// Normalize parses a session-list payload into canonical Metadata.
// Precedence per field, first non-empty wins:
//
//	id:          id, session_id
//	workingDir:  working_dir, path
//	description: description, name, "Session {first 8 chars of id}"
//	lastModified: updated_at, modified (RFC3339)
//
// Entries without any id are dropped. The UI never has to special-case
// missing fields.
func Normalize(raw json.RawMessage) ([]Metadata, error) {
	var entries []wireSession

	var wrapped wireSessionList
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Sessions != nil {
		entries = wrapped.Sessions
	} else if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("unrecognized session list shape: %w", err)
	}

	out := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = e.SessionID
		}
		if id == "" {
			continue
		}

		workingDir := e.WorkingDir
		if workingDir == "" {
			workingDir = e.Path
		}

		description := e.Description
		if description == "" {
			description = e.Name
		}
		if description == "" {
			description = placeholderDescription(id)
		}

		out = append(out, Metadata{
			ID:           id,
			WorkingDir:   workingDir,
			Description:  description,
			MessageCount: e.MessageCount,
			TotalTokens:  e.TotalTokens,
			UpdatedAt:    parseModified(e.UpdatedAt, e.Modified),
		})
	}
	return out, nil
}

// placeholderDescription is the deterministic fallback title.
func placeholderDescription(id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "Session " + short
}

func parseModified(candidates ...string) time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, c); err == nil {
			return ts
		}
	}
	return time.Time{}
}
