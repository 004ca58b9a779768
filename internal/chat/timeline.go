// ABOUTME: Ordered conversation timeline with in-place replacement of streaming messages.
// ABOUTME: Deduplicates updates by content fingerprint so repeated frames cause no churn.

package chat

import "sync"

// Timeline holds the ordered message history of one conversation. It is
// append-only from the caller's perspective, but a trailing message may be
// replaced in place while its response is still streaming (matched by id).
// All mutation goes through methods; callers never splice the slice.
type Timeline struct {
	mu           sync.Mutex
	messages     []Message
	index        map[string]int    // message id -> position
	fingerprints map[string]string // message id -> last stored fingerprint
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		index:        make(map[string]int),
		fingerprints: make(map[string]string),
	}
}

// Upsert appends the message, or replaces the stored message with the same
// id in place. A replacement only happens when the content fingerprint
// changed; an identical update is dropped. Returns whether the timeline
// was modified.
func (t *Timeline) Upsert(msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	fp := msg.Fingerprint()
	if pos, ok := t.index[msg.ID]; ok {
		if t.fingerprints[msg.ID] == fp {
			return false
		}
		t.messages[pos] = msg
		t.fingerprints[msg.ID] = fp
		return true
	}

	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
	t.fingerprints[msg.ID] = fp
	return true
}

// Messages returns a copy of the timeline in order.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Reset clears the timeline, used when switching sessions.
func (t *Timeline) Reset(history []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = t.messages[:0]
	t.index = make(map[string]int)
	t.fingerprints = make(map[string]string)
	for _, msg := range history {
		if _, ok := t.index[msg.ID]; ok {
			continue
		}
		t.index[msg.ID] = len(t.messages)
		t.messages = append(t.messages, msg)
		t.fingerprints[msg.ID] = msg.Fingerprint()
	}
}
