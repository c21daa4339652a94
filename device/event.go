package device

// EventKind tags a status Event.
type EventKind int

const (
	// EventUpdated is sent after a status report changed the device state.
	EventUpdated EventKind = iota
	// EventError is sent when the controller reports an error or alarm.
	EventError
)

func (k EventKind) String() string {
	if k == EventError {
		return "error"
	}
	return "updated"
}

// Event is delivered to every Observer when the device state changes.
type Event struct {
	Kind  EventKind
	State State
}

// An Observer receives device events synchronously, in registration order,
// from the goroutine running Loop.
type Observer interface {
	DeviceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (fn ObserverFunc) DeviceEvent(e Event) { fn(e) }

// A LineHandler receives every line read from the controller, verbatim.
type LineHandler func(line string)
