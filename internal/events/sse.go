package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards every T published on bus into ch, so an SSE
// handler can select on it. A full channel drops the event; a slow browser
// never stalls the bus.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeCameraEvents forwards every camera lifecycle, motion and CRUD
// event into ch. The returned func removes all of the subscriptions.
func SubscribeCameraEvents(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[CameraStateChangedEvent](bus, ch),
		SubscribeToChannel[MotionDetectedEvent](bus, ch),
		SubscribeToChannel[CameraFatalEvent](bus, ch),
		SubscribeToChannel[ConsumerDroppedEvent](bus, ch),
		SubscribeToChannel[CameraCreatedEvent](bus, ch),
		SubscribeToChannel[CameraUpdatedEvent](bus, ch),
		SubscribeToChannel[CameraDeletedEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
