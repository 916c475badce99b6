package channel

// Metadata is the open, channel-scoped key/value bag (cached presence and similar).
type Metadata map[string]any

// EventKind identifies a membership lifecycle event.
type EventKind string

const (
	EventJoined EventKind = "joined"
	EventLeft   EventKind = "left"
)

// Event is delivered to listeners after a membership change has been applied.
type Event struct {
	Kind      EventKind
	ChannelID string
	ClientID  string
	UserID    string
	// Empty reports whether the channel had no clients left after the change.
	Empty bool
}

// Listener receives membership events. Listeners run synchronously on the
// goroutine that performed the change, after the channel lock is released.
type Listener func(Event)
