// ABOUTME: Incremental decoder for the daemon's SSE chat stream.
// ABOUTME: Reassembles arbitrary chunk boundaries; the latest assistant frame is authoritative.

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-host/internal/chat"
)

// dataPrefix marks an SSE payload line.
const dataPrefix = "data:"

// doneSentinel optionally terminates the stream.
const doneSentinel = "[DONE]"

// frame is one parsed SSE payload.
type frame struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// Decoder turns one SSE response body into a sequence of events. A Decoder
// handles exactly one in-flight response; the message id it stamps on
// updates is fixed at construction.
type Decoder struct {
	logger    *slog.Logger
	messageID string
}

// NewDecoder returns a decoder for one chat response.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		logger:    logger.With("component", "decoder"),
		messageID: uuid.New().String(),
	}
}

// reconstruction is the decoder's current view of the buffered stream.
type reconstruction struct {
	best       *chat.Message // latest assistant message frame, if any
	fallback   string        // best-effort text from the latest non-assistant frame
	parsedAny  bool          // at least one frame parsed as JSON
	wireErr    string        // Error frame content, terminal
	wireReason string        // Finish frame reason, if the daemon sent one
}

// Decode reads the body to completion, emitting events as frames arrive.
// The stream may be chunked at arbitrary byte boundaries; the final
// reconstruction depends only on the total bytes received, never on how
// they were split. Decode closes the body before returning and always ends
// with exactly one Finish or Error event.
func (d *Decoder) Decode(ctx context.Context, body io.ReadCloser, emit func(Event)) {
	defer body.Close()

	var (
		buf          []byte
		chunk        = make([]byte, 4096)
		lastFP       string
		lastActivity string
	)

	finish := func(reason FinishReason) {
		rec := d.reparse(buf, true)
		if rec.wireErr != "" {
			emit(Event{Kind: KindError, Err: errors.New(rec.wireErr)})
			return
		}
		final := d.currentMessage(rec, buf)
		if lastActivity != "" {
			emit(Event{Kind: KindActivity, Activity: ""})
		}
		emit(Event{Kind: KindFinish, Reason: reason, Message: final})
	}

	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			rec := d.reparse(buf, false)

			if rec.wireErr != "" {
				emit(Event{Kind: KindError, Err: errors.New(rec.wireErr)})
				return
			}

			// Transient activity: thinking text or an in-flight tool call.
			activity := ""
			if rec.best != nil && rec.best.HasIntermediateContent() {
				activity = rec.best.ActivitySummary()
			}

			if msg := d.currentMessage(rec, buf); msg != nil {
				if fp := msg.Fingerprint(); fp != lastFP {
					lastFP = fp
					// A real message frame clears the activity slot.
					if activity == "" && lastActivity != "" {
						emit(Event{Kind: KindActivity, Activity: ""})
						lastActivity = ""
					}
					emit(Event{Kind: KindMessage, Message: msg})
				}
			}

			if activity != "" && activity != lastActivity {
				lastActivity = activity
				emit(Event{Kind: KindActivity, Activity: activity})
			}

			if rec.wireReason != "" {
				// The daemon declared the response finished; do not wait
				// for transport EOF.
				finish(mapReason(rec.wireReason))
				return
			}
		}

		if readErr != nil {
			switch {
			case errors.Is(readErr, io.EOF):
				finish(FinishComplete)
			case ctx.Err() != nil:
				// Caller cancelled: the aborted transport read is expected.
				finish(FinishStopped)
			default:
				d.logger.Warn("chat stream transport error", "error", readErr)
				emit(Event{Kind: KindError, Err: readErr})
			}
			return
		}

		// Cancellation is also checked between reads in case the transport
		// does not fail fast.
		if ctx.Err() != nil {
			finish(FinishStopped)
			return
		}
	}
}

// reparse splits the whole buffer on newlines and parses every data: line.
// Later frames supersede earlier ones: the daemon re-sends progressively
// fuller message states, not deltas. The trailing partial line is skipped
// unless includeTail is set (at end of stream).
func (d *Decoder) reparse(buf []byte, includeTail bool) reconstruction {
	var rec reconstruction

	lines := bytes.Split(buf, []byte("\n"))
	if !includeTail && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	for _, rawLine := range lines {
		line := strings.TrimSpace(string(rawLine))
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" || payload == doneSentinel {
			continue
		}

		var f frame
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			// A single corrupt frame must not abort the stream.
			d.logger.Debug("skipping malformed frame", "error", err, "payload", truncate(payload, 120))
			continue
		}
		rec.parsedAny = true

		switch f.Type {
		case "Message":
			if f.Message == nil {
				continue
			}
			if f.Message.Role == chat.RoleAssistant {
				msg := *f.Message
				rec.best = &msg
			} else if text := f.Message.Text(); text != "" {
				rec.fallback = text
			}
		case "Error":
			if f.Error != "" {
				rec.wireErr = f.Error
			} else {
				rec.wireErr = "daemon reported an unspecified error"
			}
		case "Finish":
			rec.wireReason = f.Reason
			if rec.wireReason == "" {
				rec.wireReason = "complete"
			}
		default:
			// Unknown structured frame: keep whatever text it carried as a
			// fallback body.
			if f.Message != nil {
				if text := f.Message.Text(); text != "" {
					rec.fallback = text
				}
			} else if f.Error != "" {
				rec.fallback = f.Error
			}
		}
	}

	return rec
}

// currentMessage builds the update message for the current buffer state:
// the latest assistant frame with intermediate parts stripped, else the
// best-effort fallback text, else the raw accumulated bytes when nothing
// parsed at all. Returns nil when there is nothing worth emitting yet.
// Each call re-stamps Created with local receive time; the daemon's
// embedded timestamp is deliberately discarded so the UI reflects arrival
// order.
func (d *Decoder) currentMessage(rec reconstruction, buf []byte) *chat.Message {
	now := time.Now().Unix()

	if rec.best != nil {
		content := stripIntermediate(rec.best.Content)
		if len(content) == 0 {
			return nil
		}
		return &chat.Message{
			ID:      d.messageID,
			Role:    chat.RoleAssistant,
			Created: now,
			Content: content,
		}
	}

	text := rec.fallback
	if text == "" && !rec.parsedAny {
		// Nothing parsed as a frame: treat the raw bytes as the reply.
		text = strings.TrimSpace(string(buf))
	}
	if text == "" {
		return nil
	}
	return &chat.Message{
		ID:      d.messageID,
		Role:    chat.RoleAssistant,
		Created: now,
		Content: []chat.ContentPart{{Type: chat.PartText, Text: text}},
	}
}

// stripIntermediate drops thinking and in-flight tool-request parts, which
// surface as activity rather than timeline content.
func stripIntermediate(parts []chat.ContentPart) []chat.ContentPart {
	out := make([]chat.ContentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case chat.PartThinking, chat.PartRedactedThinking:
			continue
		case chat.PartToolRequest:
			if p.Status == "" || p.Status == "pending" || p.Status == "running" {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// mapReason translates a wire finish reason into the local enum.
func mapReason(reason string) FinishReason {
	switch reason {
	case "stopped", "cancelled", "canceled", "aborted":
		return FinishStopped
	default:
		return FinishComplete
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
