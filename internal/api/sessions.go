package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camhub/internal/api/models"
	"github.com/smazurov/camhub/internal/orchestrator"
)

type eventHistoryInput struct {
	CameraID string `path:"camera_id" example:"front-door" doc:"Camera identifier"`
	Limit    int    `query:"limit" minimum:"0" maximum:"1000" default:"50" doc:"Maximum number of events"`
}

// registerSessionRoutes registers camera session control and live data.
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "List every camera session in the registry, including failed ones",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.SessionListResponse, error) {
		return &models.SessionListResponse{Body: s.sessionList()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/api/cameras/{camera_id}/start",
		Summary:     "Start Session",
		Description: "Start a session for a configured camera. Returns immediately; follow /api/events for the connection outcome.",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404, 409},
		Security:    withAuth(),
	}, func(ctx context.Context, input *cameraIDInput) (*models.SessionActionResponse, error) {
		d, err := s.cameras.Get(ctx, input.CameraID)
		if err != nil {
			return nil, mapCameraError(err)
		}
		if err := s.sessions.Start(d.ID, d); err != nil {
			return nil, mapSessionError(err)
		}
		return actionResponse(d.ID, "start", "session started"), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/api/cameras/{camera_id}/stop",
		Summary:     "Stop Session",
		Description: "Stop a camera session and disconnect its viewers. Returns once the source is closed.",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *cameraIDInput) (*models.SessionActionResponse, error) {
		if err := s.sessions.Stop(input.CameraID); err != nil {
			return nil, mapSessionError(err)
		}
		return actionResponse(input.CameraID, "stop", "session stopped"), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session-status",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera_id}/status",
		Summary:     "Session Status",
		Description: "Get runtime status of a camera session",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *cameraIDInput) (*models.SessionStatusResponse, error) {
		st, err := s.sessions.Status(input.CameraID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.SessionStatusResponse{Body: st}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-consumers",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera_id}/consumers",
		Summary:     "List Consumers",
		Description: "List viewers attached to a camera session",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *cameraIDInput) (*models.ConsumerListResponse, error) {
		consumers, err := s.sessions.Consumers(input.CameraID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		data := models.ConsumerListData{CameraID: input.CameraID, Consumers: consumers}
		if s.options.Broadcaster != nil {
			data.Listeners = s.options.Broadcaster.Listeners(input.CameraID)
		}
		return &models.ConsumerListResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-frame",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera_id}/frame",
		Summary:     "Latest Frame",
		Description: "JPEG snapshot of the latest processed frame, with motion boxes when the overlay is enabled",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404, 503},
		Security:    withAuth(),
		Responses: map[string]*huma.Response{
			"200": {
				Description: "JPEG image",
				Content:     map[string]*huma.MediaType{"image/jpeg": {}},
			},
		},
	}, func(ctx context.Context, input *cameraIDInput) (*models.FrameResponse, error) {
		f, err := s.sessions.Latest(input.CameraID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		data, err := s.encoder.Encode(f)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to encode frame", err)
		}
		return &models.FrameResponse{
			ContentType:  "image/jpeg",
			CacheControl: "no-store",
			Seq:          strconv.FormatUint(f.Seq, 10),
			Motion:       strconv.FormatBool(f.Motion),
			Body:         data,
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-camera-events",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera_id}/events",
		Summary:     "Event History",
		Description: "Recorded motion, failure and state events of a camera, newest first",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404, 500, 501},
		Security:    withAuth(),
	}, func(ctx context.Context, input *eventHistoryInput) (*models.EventHistoryResponse, error) {
		if s.options.History == nil {
			return nil, huma.Error501NotImplemented("event history is disabled")
		}
		if _, err := s.cameras.Get(ctx, input.CameraID); err != nil {
			return nil, mapCameraError(err)
		}
		entries, err := s.options.History.List(ctx, input.CameraID, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to read event history", err)
		}
		return &models.EventHistoryResponse{
			Body: models.EventHistoryData{CameraID: input.CameraID, Events: entries},
		}, nil
	})
}

func (s *Server) sessionList() models.SessionListData {
	active := s.sessions.ListActive()
	out := make([]models.SessionSummary, len(active))
	for i, a := range active {
		out[i] = models.SessionSummary{CameraID: a.CameraID, State: string(a.State), Consumers: a.Consumers}
	}
	return models.SessionListData{Sessions: out, Count: len(out)}
}

func actionResponse(cameraID, action, message string) *models.SessionActionResponse {
	return &models.SessionActionResponse{
		Body: models.SessionActionData{CameraID: cameraID, Action: action, Message: message},
	}
}

// mapSessionError maps registry errors to HTTP errors
func mapSessionError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		return huma.Error404NotFound("camera session not found", err)
	case errors.Is(err, orchestrator.ErrAlreadyActive):
		return huma.Error409Conflict("camera session already active", err)
	case errors.Is(err, orchestrator.ErrNoFrame):
		return huma.Error503ServiceUnavailable("no frame captured yet", err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}
