package watcher

// EventKind is the normalized type of a change.
type EventKind int

const (
	// EventCreated indicates an entry was added or renamed into place.
	EventCreated EventKind = iota
	// EventRemoved indicates an entry was removed or renamed away.
	EventRemoved
	// EventModified indicates an entry's content or attributes changed.
	EventModified
	// EventUnknown indicates the OS reported an action code we do not recognize.
	EventUnknown
	// EventInvalidate indicates changes under the watched root were lost
	// and the whole subtree must be treated as stale.
	EventInvalidate
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "CREATED"
	case EventRemoved:
		return "REMOVED"
	case EventModified:
		return "MODIFIED"
	case EventInvalidate:
		return "INVALIDATE"
	default:
		return "UNKNOWN"
	}
}

// Event is a single decoded change.
type Event struct {
	// Kind is the type of change.
	Kind EventKind

	// Path is the absolute path of the affected entry, without any
	// extended-length prefix. For EventInvalidate it is the watched root.
	Path string
}

// Sink receives everything the engine reports. Both methods are called on the
// engine goroutine, one at a time, and must not call back into the Server.
type Sink interface {
	// OnEvent receives one decoded change.
	OnEvent(Event)

	// OnWatchFinalized is called exactly once per watch that stops, whether
	// by StopWatching, a runtime failure or Shutdown.
	OnWatchFinalized(path string)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are ignored.
type SinkFuncs struct {
	Event     func(Event)
	Finalized func(path string)
}

// OnEvent implements Sink.
func (f SinkFuncs) OnEvent(e Event) {
	if f.Event != nil {
		f.Event(e)
	}
}

// OnWatchFinalized implements Sink.
func (f SinkFuncs) OnWatchFinalized(path string) {
	if f.Finalized != nil {
		f.Finalized(path)
	}
}

// eventKindForAction maps a raw change action to an event kind.
func eventKindForAction(action uint32) EventKind {
	switch action {
	case ActionAdded, ActionRenamedNewName:
		return EventCreated
	case ActionRemoved, ActionRenamedOldName:
		return EventRemoved
	case ActionModified:
		return EventModified
	default:
		return EventUnknown
	}
}
