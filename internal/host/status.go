// ABOUTME: Daemon lifecycle status enum and the event type fanned out to observers.
// ABOUTME: Status transitions are strictly sequential; observers see every transition.

package host

import "github.com/2389/coven-host/internal/chat"

// Status is the authoritative daemon lifecycle state.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind discriminates host events.
type EventKind int

const (
	// EventStatus reports a lifecycle transition.
	EventStatus EventKind = iota

	// EventMessage reports a new or updated timeline message.
	EventMessage

	// EventActivity reports transient status text (thinking, running tool).
	// Empty text clears the slot.
	EventActivity

	// EventError reports a failure of an in-flight response.
	EventError
)

// Event is one notification delivered to subscribers.
type Event struct {
	Kind     EventKind
	Status   Status        // EventStatus
	Message  *chat.Message // EventMessage
	Activity string        // EventActivity
	Err      error         // EventError
}
