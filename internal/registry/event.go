package registry

import (
	"time"

	"github.com/bunctl/bunctl/internal/app"
)

// EventKind enumerates the supervisor- and controller-level notifications
// the bus fans out.
type EventKind string

const (
	EventProcessStarted   EventKind = "process_started"
	EventProcessExited    EventKind = "process_exited"
	EventProcessFailed    EventKind = "process_failed"
	EventBackoffExhausted EventKind = "backoff_exhausted"
	EventStateChanged     EventKind = "state_changed"
)

// Event is one notification carried on the bus. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind   EventKind
	App    app.ID
	PID    int
	Exit   *app.ExitStatus
	State  app.State
	Reason string
	At     time.Time
}

// Filter selects which events a Subscription receives. A zero-value Filter
// matches everything. AppID, when non-empty, restricts to one app; Kinds,
// when non-empty, restricts to that set.
type Filter struct {
	AppID app.ID
	Kinds []EventKind
}

func (f Filter) matches(e Event) bool {
	if f.AppID != "" && f.AppID != e.App {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}
