package bookv1

// EventType discriminates the payload carried by an Event.
type EventType string

const (
	// EventTypeBookState tags an event carrying a BookState payload.
	EventTypeBookState EventType = "book_state"
)

// Event is the tagged union carried by the event bus. Exactly one payload
// field matching Type is set. Events are immutable once published; ordering
// within one venue is the publish order of its builder.
type Event struct {
	Type      EventType
	BookState *BookState
}

// NewBookStateEvent wraps a BookState into a bus event.
func NewBookStateEvent(state *BookState) Event {
	return Event{
		Type:      EventTypeBookState,
		BookState: state,
	}
}
