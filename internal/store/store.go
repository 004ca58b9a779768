// ABOUTME: TranscriptStore interface and record types for the local conversation mirror.
// ABOUTME: The daemon owns history; this mirror is advisory and survives daemon restarts.

package store

import (
	"context"
	"time"

	"github.com/2389/coven-host/internal/chat"
)

// SessionRecord is the locally mirrored session row.
type SessionRecord struct {
	ID          string
	WorkingDir  string
	Description string
	UpdatedAt   time.Time
}

// TranscriptStore persists sessions and completed messages locally.
// Implementations must upsert by id: streamed messages are re-saved as they
// finalize.
type TranscriptStore interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	SaveMessage(ctx context.Context, sessionID string, msg chat.Message) error
	MessagesForSession(ctx context.Context, sessionID string) ([]chat.Message, error)
	Sessions(ctx context.Context) ([]SessionRecord, error)
	Close() error
}
