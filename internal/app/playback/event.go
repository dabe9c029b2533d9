package playback

import "github.com/osa030/jukebox/internal/domain/media"

// EventType represents a playback event type.
type EventType int

const (
	EventStateChanged    EventType = iota // Playback state changed
	EventProgressChanged                  // Current item position sampled
	EventItemLoaded                       // An item's asset finished loading
	EventMetadataUpdated                  // An item's metadata changed
	EventQueueChanged                     // Items were appended or removed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventProgressChanged:
		return "progress_changed"
	case EventItemLoaded:
		return "item_loaded"
	case EventMetadataUpdated:
		return "metadata_updated"
	case EventQueueChanged:
		return "queue_changed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	State State       // Playback state when the event was emitted
	Index int         // Current index when the event was emitted
	Item  *media.Item // Subject item (nil for state and queue events)
}

// Listener observes the controller. Callbacks run in emission order on a
// dedicated goroutine and may call back into the controller.
type Listener interface {
	OnStateChanged(state State)
	OnProgressChanged()
	OnItemLoaded(item *media.Item)
	OnMetadataUpdated(item *media.Item)
}

// listenerStream adapts a Listener to an event subscription.
type listenerStream struct {
	listener Listener
}

func (s listenerStream) Send(_ uint64, ev Event) error {
	switch ev.Type {
	case EventStateChanged:
		s.listener.OnStateChanged(ev.State)
	case EventProgressChanged:
		s.listener.OnProgressChanged()
	case EventItemLoaded:
		s.listener.OnItemLoaded(ev.Item)
	case EventMetadataUpdated:
		s.listener.OnMetadataUpdated(ev.Item)
	}
	return nil
}
