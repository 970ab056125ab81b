package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camhub/internal/api/models"
	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/session"
	"github.com/smazurov/camhub/internal/source"
)

type cameraIDInput struct {
	CameraID string `path:"camera_id" example:"front-door" doc:"Camera identifier"`
}

// registerCameraRoutes registers camera descriptor CRUD.
func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras",
		Summary:     "List Cameras",
		Description: "List configured cameras with their current session state",
		Tags:        []string{"cameras"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.CameraListResponse, error) {
		descriptors := s.cameras.List(ctx)
		out := make([]models.CameraData, len(descriptors))
		for i, d := range descriptors {
			out[i] = s.toCameraData(d)
		}
		return &models.CameraListResponse{
			Body: models.CameraListData{Cameras: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-camera",
		Method:        http.MethodPost,
		Path:          "/api/cameras",
		Summary:       "Create Camera",
		Description:   "Add a camera. Enabled cameras start right away.",
		Tags:          []string{"cameras"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 409, 500},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.CameraRequest) (*models.CameraResponse, error) {
		b := input.Body
		params := cameras.CreateParams{
			ID:          b.ID,
			Name:        b.Name,
			Address:     b.Address,
			Enabled:     b.Enabled,
			Width:       b.Width,
			Height:      b.Height,
			FPS:         b.FPS,
			Location:    b.Location,
			Description: b.Description,
		}
		if b.Motion != nil {
			params.Motion = fromMotionData(*b.Motion)
		}
		d, err := s.cameras.Create(ctx, params)
		if err != nil {
			return nil, mapCameraError(err)
		}
		return &models.CameraResponse{Body: s.toCameraData(d)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera_id}",
		Summary:     "Get Camera",
		Description: "Get one camera descriptor",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *cameraIDInput) (*models.CameraResponse, error) {
		d, err := s.cameras.Get(ctx, input.CameraID)
		if err != nil {
			return nil, mapCameraError(err)
		}
		return &models.CameraResponse{Body: s.toCameraData(d)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-camera",
		Method:      http.MethodPatch,
		Path:        "/api/cameras/{camera_id}",
		Summary:     "Update Camera",
		Description: "Change fields of a camera. A running session restarts only when its source or detector settings change.",
		Tags:        []string{"cameras"},
		Errors:      []int{400, 401, 404, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraUpdateRequest) (*models.CameraResponse, error) {
		b := input.Body
		params := cameras.UpdateParams{
			Name:        b.Name,
			Address:     b.Address,
			Enabled:     b.Enabled,
			Width:       b.Width,
			Height:      b.Height,
			FPS:         b.FPS,
			Location:    b.Location,
			Description: b.Description,
		}
		if b.Motion != nil {
			m := fromMotionData(*b.Motion)
			params.Motion = &m
		}
		d, err := s.cameras.Update(ctx, input.CameraID, params)
		if err != nil {
			return nil, mapCameraError(err)
		}
		return &models.CameraResponse{Body: s.toCameraData(d)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-camera",
		Method:        http.MethodDelete,
		Path:          "/api/cameras/{camera_id}",
		Summary:       "Delete Camera",
		Description:   "Remove a camera and stop its session",
		Tags:          []string{"cameras"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 500},
		Security:      withAuth(),
	}, func(ctx context.Context, input *cameraIDInput) (*struct{}, error) {
		if err := s.cameras.Delete(ctx, input.CameraID); err != nil {
			return nil, mapCameraError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "reload-cameras",
		Method:      http.MethodPost,
		Path:        "/api/cameras/reload",
		Summary:     "Reload Cameras",
		Description: "Re-read the camera file from disk and reconcile sessions",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.ReloadResponse, error) {
		changes, err := s.cameras.Reload()
		if err != nil {
			return nil, mapCameraError(err)
		}
		resp := &models.ReloadResponse{}
		resp.Body.Message = "cameras reloaded"
		resp.Body.Created = nonNil(changes.Created)
		resp.Body.Updated = nonNil(changes.Updated)
		resp.Body.Deleted = nonNil(changes.Deleted)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "import-go2rtc",
		Method:      http.MethodPost,
		Path:        "/api/cameras/import/go2rtc",
		Summary:     "Import go2rtc Cameras",
		Description: "Create a camera for every RTSP stream of a go2rtc configuration. Existing ids are skipped.",
		Tags:        []string{"cameras"},
		Errors:      []int{400, 401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.Go2RTCImportRequest) (*models.Go2RTCImportResponse, error) {
		unique := input.Body.Unique == nil || *input.Body.Unique
		descriptors, err := cameras.Go2RTCDescriptors([]byte(input.Body.Config), unique, !input.Body.Disabled)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid go2rtc config", err)
		}
		created, skipped, err := s.cameras.Import(ctx, descriptors)
		if err != nil {
			return nil, mapCameraError(err)
		}
		s.logger.Info("Imported go2rtc cameras", "imported", len(created), "skipped", len(skipped))
		return &models.Go2RTCImportResponse{Body: models.Go2RTCImportData{
			Total:    len(descriptors),
			Imported: nonNil(created),
			Skipped:  nonNil(skipped),
		}}, nil
	})

	if s.options.Opener == nil {
		return
	}
	huma.Register(s.api, huma.Operation{
		OperationID: "test-camera",
		Method:      http.MethodPost,
		Path:        "/api/cameras/{camera_id}/test",
		Summary:     "Test Camera Connection",
		Description: "Open the camera source once, wait for one frame and close it. A running session is not affected.",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *cameraIDInput) (*models.CameraTestResponse, error) {
		d, err := s.cameras.Get(ctx, input.CameraID)
		if err != nil {
			return nil, mapCameraError(err)
		}
		raw, elapsed, err := source.Probe(ctx, s.options.Opener, d.Target(), s.options.ProbeTimeout)
		out := models.CameraTestData{
			CameraID:  d.ID,
			Success:   err == nil,
			ElapsedMS: elapsed.Milliseconds(),
			State:     s.toCameraData(d).State,
		}
		if err != nil {
			out.Error = err.Error()
			s.logger.Info("Camera connection test failed", "camera_id", d.ID, "error", err)
		} else {
			out.Width, out.Height = raw.Width, raw.Height
		}
		return &models.CameraTestResponse{Body: out}, nil
	})
}

func (s *Server) toCameraData(d cameras.Descriptor) models.CameraData {
	state := string(session.StateInactive)
	if st, err := s.sessions.Status(d.ID); err == nil {
		state = string(st.State)
	}
	return models.CameraData{
		ID:      d.ID,
		Name:    d.Name,
		Address: d.Address,
		Enabled: d.Enabled,
		Width:   d.Width,
		Height:  d.Height,
		FPS:     d.FPS,
		Motion: models.MotionData{
			Threshold:    d.Motion.Threshold,
			MinArea:      d.Motion.MinArea,
			BlurSize:     d.Motion.BlurSize,
			LearningRate: d.Motion.LearningRate,
			Overlay:      d.Motion.Overlay,
		},
		Location:    d.Location,
		Description: d.Description,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		State:       state,
	}
}

func fromMotionData(m models.MotionData) cameras.MotionSettings {
	return cameras.MotionSettings{
		Threshold:    m.Threshold,
		MinArea:      m.MinArea,
		BlurSize:     m.BlurSize,
		LearningRate: m.LearningRate,
		Overlay:      m.Overlay,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// mapCameraError maps control plane errors to HTTP errors
func mapCameraError(err error) error {
	var camErr *cameras.CameraError
	if !errors.As(err, &camErr) {
		return huma.Error500InternalServerError("internal server error", err)
	}
	switch camErr.Code {
	case cameras.ErrCodeCameraNotFound:
		return huma.Error404NotFound(camErr.Message, err)
	case cameras.ErrCodeCameraExists:
		return huma.Error409Conflict(camErr.Message, err)
	case cameras.ErrCodeInvalidParams:
		return huma.Error400BadRequest(camErr.Message, err)
	default:
		return huma.Error500InternalServerError(camErr.Message, err)
	}
}
