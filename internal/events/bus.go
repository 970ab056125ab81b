// Package events is the in-process publish/subscribe bus that connects camera
// sessions to the API, the event log and anything else that reacts to them.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(MotionDetectedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic over the concrete type, so dispatch on it here
	switch e := ev.(type) {
	case CameraStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case MotionDetectedEvent:
		event.Publish(b.dispatcher, e)
	case CameraFatalEvent:
		event.Publish(b.dispatcher, e)
	case ConsumerDroppedEvent:
		event.Publish(b.dispatcher, e)
	case CameraCreatedEvent:
		event.Publish(b.dispatcher, e)
	case CameraUpdatedEvent:
		event.Publish(b.dispatcher, e)
	case CameraDeletedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's parameter type selects the events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e CameraFatalEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CameraStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MotionDetectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraFatalEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConsumerDroppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraCreatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraUpdatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraDeletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
