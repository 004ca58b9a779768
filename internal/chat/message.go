// ABOUTME: Message and content-part types shared by the wire protocol, decoder, and timeline.
// ABOUTME: Content parts are a tagged union discriminated by the "type" field.

package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType discriminates the content-part union.
type PartType string

const (
	PartText             PartType = "text"
	PartToolRequest      PartType = "toolRequest"
	PartToolResponse     PartType = "toolResponse"
	PartThinking         PartType = "thinking"
	PartRedactedThinking PartType = "redacted_thinking"
)

// ContentPart is one element of a message's ordered content sequence.
// Which fields are meaningful depends on Type:
//
//   - text, thinking, redacted_thinking: Text
//   - toolRequest: ToolID, ToolName, Arguments, Status
//   - toolResponse: ToolID, Result or Error
type ContentPart struct {
	Type      PartType        `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolID    string          `json:"toolId,omitempty"`
	ToolName  string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    string          `json:"status,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Message is a single entry in a conversation timeline. ID is assigned by
// the message's creator and stays stable across streamed updates to the
// same logical message; content order is meaningful and preserved.
type Message struct {
	ID      string        `json:"id"`
	Role    Role          `json:"role"`
	Created int64         `json:"created"`
	Content []ContentPart `json:"content"`
}

// NewUserMessage builds a user message with a fresh id and the current time.
func NewUserMessage(text string) Message {
	return Message{
		ID:      uuid.New().String(),
		Role:    RoleUser,
		Created: time.Now().Unix(),
		Content: []ContentPart{{Type: PartText, Text: text}},
	}
}

// Text concatenates the plain text parts of the message in order.
// Thinking and tool parts are excluded.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Fingerprint derives a content identity for update deduplication: the
// concatenation of all text parts. Two updates to the same message id with
// equal fingerprints are treated as identical and the second is dropped.
func (m Message) Fingerprint() string {
	return m.Text()
}

// HasIntermediateContent reports whether the message carries thinking or
// in-flight tool-request parts, which must not land in the timeline as
// ordinary chat messages.
func (m Message) HasIntermediateContent() bool {
	for _, p := range m.Content {
		switch p.Type {
		case PartThinking, PartRedactedThinking:
			return true
		case PartToolRequest:
			if p.Status == "" || p.Status == "pending" || p.Status == "running" {
				return true
			}
		}
	}
	return false
}

// ActivitySummary renders a short status line for intermediate content:
// thinking text for thinking parts, "tool (args)" for tool requests.
// Returns "" when the message has no intermediate content.
func (m Message) ActivitySummary() string {
	for _, p := range m.Content {
		switch p.Type {
		case PartThinking:
			return strings.TrimSpace(p.Text)
		case PartRedactedThinking:
			return "thinking..."
		case PartToolRequest:
			return fmt.Sprintf("%s %s", p.ToolName, summarizeArguments(p.Arguments))
		}
	}
	return ""
}

// summarizeArguments flattens a tool-call argument object into a short
// human-readable "k=v" list, truncated for status-line display.
func summarizeArguments(raw json.RawMessage) string {
	const maxLen = 80

	if len(raw) == 0 {
		return ""
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		s := string(raw)
		if len(s) > maxLen {
			s = s[:maxLen-3] + "..."
		}
		return s
	}

	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	s := "(" + strings.Join(parts, ", ") + ")"
	if len(s) > maxLen {
		s = s[:maxLen-3] + "..."
	}
	return s
}
