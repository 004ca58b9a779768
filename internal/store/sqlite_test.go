// ABOUTME: Tests for the SQLite transcript mirror.
// ABOUTME: Validates schema bootstrap, upserts, and round-tripped message content.

package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-host/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "transcripts.db")
	s, err := NewSQLiteStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveSession_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "s1", Description: "first"}))
	require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "s1", Description: "renamed", UpdatedAt: time.Now()}))

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "renamed", sessions[0].Description)
}

func TestSaveMessage_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "s1"}))

	msg := chat.Message{
		ID:      "m1",
		Role:    chat.RoleAssistant,
		Created: 1700000000,
		Content: []chat.ContentPart{
			{Type: chat.PartText, Text: "hello"},
			{Type: chat.PartToolResponse, ToolID: "t1", Result: json.RawMessage(`{"ok":true}`)},
		},
	}
	require.NoError(t, s.SaveMessage(ctx, "s1", msg))

	got, err := s.MessagesForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, chat.RoleAssistant, got[0].Role)
	assert.Equal(t, "hello", got[0].Text())
	require.Len(t, got[0].Content, 2)
	assert.JSONEq(t, `{"ok":true}`, string(got[0].Content[1].Result))
}

func TestSaveMessage_UpsertReplacesContent(t *testing.T) {
	// Streamed assistant messages are re-saved under the same id as the
	// reconstruction grows.
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "s1"}))

	partial := chat.Message{ID: "m1", Role: chat.RoleAssistant, Created: 1, Content: []chat.ContentPart{{Type: chat.PartText, Text: "par"}}}
	full := chat.Message{ID: "m1", Role: chat.RoleAssistant, Created: 2, Content: []chat.ContentPart{{Type: chat.PartText, Text: "partial became full"}}}

	require.NoError(t, s.SaveMessage(ctx, "s1", partial))
	require.NoError(t, s.SaveMessage(ctx, "s1", full))

	got, err := s.MessagesForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "partial became full", got[0].Text())
}

func TestMessagesForSession_OrderedByArrival(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "s1"}))
	for i, text := range []string{"one", "two", "three"} {
		msg := chat.Message{
			ID:      text,
			Role:    chat.RoleUser,
			Created: int64(1000 + i),
			Content: []chat.ContentPart{{Type: chat.PartText, Text: text}},
		}
		require.NoError(t, s.SaveMessage(ctx, "s1", msg))
	}

	got, err := s.MessagesForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Text())
	assert.Equal(t, "three", got[2].Text())
}

func TestSessions_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "old", UpdatedAt: older}))
	require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "new", UpdatedAt: time.Now()}))

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)
}
