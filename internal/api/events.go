package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camhub/internal/events"
)

// ConnectedEvent is the first message of every event stream.
type ConnectedEvent struct {
	Message string `json:"message" example:"connected" doc:"Connection confirmation"`
	Cameras int    `json:"cameras" example:"2" doc:"Sessions in the registry at connect time"`
}

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time camera state changes, motion onsets, fatal alerts, consumer drops and camera CRUD",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":            ConnectedEvent{},
		"camera-state-changed": events.CameraStateChangedEvent{},
		"motion-detected":      events.MotionDetectedEvent{},
		"camera-fatal":         events.CameraFatalEvent{},
		"consumer-dropped":     events.ConsumerDroppedEvent{},
		"camera-created":       events.CameraCreatedEvent{},
		"camera-updated":       events.CameraUpdatedEvent{},
		"camera-deleted":       events.CameraDeletedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Motion bursts across several cameras need headroom
		eventCh := make(chan any, 64)

		unsubscribe := events.SubscribeCameraEvents(s.eventBus, eventCh)
		defer unsubscribe()

		if err := send.Data(ConnectedEvent{Message: "connected", Cameras: len(s.sessions.ListActive())}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
