// ABOUTME: Tests for the conversation timeline's upsert and fingerprint-dedup behavior.
// ABOUTME: Validates in-place replacement, order preservation, and reset.

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMsg(id, text string) Message {
	return Message{
		ID:      id,
		Role:    RoleAssistant,
		Content: []ContentPart{{Type: PartText, Text: text}},
	}
}

func TestTimeline_UpsertAppends(t *testing.T) {
	tl := NewTimeline()

	assert.True(t, tl.Upsert(textMsg("a", "one")))
	assert.True(t, tl.Upsert(textMsg("b", "two")))
	assert.Equal(t, 2, tl.Len())
}

func TestTimeline_UpsertReplacesInPlace(t *testing.T) {
	tl := NewTimeline()
	tl.Upsert(textMsg("a", "first"))
	tl.Upsert(textMsg("b", "second"))

	// A fuller version of "a" replaces it at its original position.
	assert.True(t, tl.Upsert(textMsg("a", "first, extended")))

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "first, extended", msgs[0].Text())
	assert.Equal(t, "b", msgs[1].ID)
}

func TestTimeline_UpsertDropsIdenticalFingerprint(t *testing.T) {
	tl := NewTimeline()
	require.True(t, tl.Upsert(textMsg("a", "same")))

	// Same id, same text: no churn.
	assert.False(t, tl.Upsert(textMsg("a", "same")))
	assert.Equal(t, 1, tl.Len())
}

func TestTimeline_MessagesReturnsCopy(t *testing.T) {
	tl := NewTimeline()
	tl.Upsert(textMsg("a", "one"))

	msgs := tl.Messages()
	msgs[0] = textMsg("mutated", "mutated")

	assert.Equal(t, "a", tl.Messages()[0].ID)
}

func TestTimeline_Reset(t *testing.T) {
	tl := NewTimeline()
	tl.Upsert(textMsg("old", "stale"))

	tl.Reset([]Message{textMsg("h1", "hello"), textMsg("h2", "there")})

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "h1", msgs[0].ID)
	assert.Equal(t, "h2", msgs[1].ID)

	// Fingerprints carry over from the loaded history.
	assert.False(t, tl.Upsert(textMsg("h1", "hello")))
	assert.True(t, tl.Upsert(textMsg("h1", "hello again")))
}
