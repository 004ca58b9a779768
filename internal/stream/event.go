// ABOUTME: Event types emitted by the streaming chat decoder to its consumer.
// ABOUTME: Message updates, transient activity, terminal finish, and transport errors.

package stream

import "github.com/2389/coven-host/internal/chat"

// Kind discriminates decoder events.
type Kind int

const (
	// KindMessage carries the current best reconstruction of the in-flight
	// assistant message. The consumer upserts it into the timeline.
	KindMessage Kind = iota

	// KindActivity carries transient status text (thinking, in-flight tool
	// call). An empty Activity string clears the slot.
	KindActivity

	// KindFinish is terminal: the response completed or was stopped.
	KindFinish

	// KindError is terminal: the transport failed mid-stream.
	KindError
)

// FinishReason says why a response ended.
type FinishReason string

const (
	FinishComplete FinishReason = "complete"
	FinishStopped  FinishReason = "stopped"
)

// Event is one decoder emission. Exactly one Finish or Error event ends
// every decode; no events follow it.
type Event struct {
	Kind     Kind
	Message  *chat.Message // KindMessage and KindFinish (final reconstruction, may be nil)
	Activity string        // KindActivity
	Reason   FinishReason  // KindFinish
	Err      error         // KindError
}
