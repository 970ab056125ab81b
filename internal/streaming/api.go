package streaming

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camhub/internal/orchestrator"
)

// WebRTCOfferInput is the request body for WebRTC signaling.
type WebRTCOfferInput struct {
	CameraID string `query:"camera" required:"true" doc:"Camera to view"`
	RawBody  []byte `contentType:"application/sdp" doc:"SDP offer from browser"`
}

// WebRTCAnswerOutput is the response body for WebRTC signaling.
type WebRTCAnswerOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// PeerIDInput selects one WebRTC viewer.
type PeerIDInput struct {
	PeerID string `path:"peer_id" doc:"Peer identifier from the peer list"`
}

// PeerListOutput is the response for listing WebRTC viewers.
type PeerListOutput struct {
	Body struct {
		Peers []PeerInfo `json:"peers" doc:"Connected WebRTC viewers"`
	}
}

var basicAuth = []map[string][]string{{"basicAuth": {}}}

// RegisterWebRTCAPI registers WebRTC signaling endpoints with the Huma API.
func RegisterWebRTCAPI(api huma.API, webrtcManager *WebRTCManager) {
	// POST /api/webrtc?camera=<id> - WebRTC signaling
	huma.Register(api, huma.Operation{
		OperationID: "webrtc-offer",
		Method:      http.MethodPost,
		Path:        "/api/webrtc",
		Summary:     "WebRTC signaling",
		Description: "Exchange an SDP offer for an answer. The offer must open a data channel; frames arrive on it as a JSON header followed by JPEG chunks.",
		Tags:        []string{"streaming"},
		Security:    basicAuth,
		Errors:      []int{400, 401, 404, 504},
	}, func(ctx context.Context, input *WebRTCOfferInput) (*WebRTCAnswerOutput, error) {
		if len(input.RawBody) == 0 {
			return nil, huma.Error400BadRequest("SDP offer required")
		}
		answer, err := webrtcManager.CreateConsumer(ctx, input.CameraID, string(input.RawBody))
		if err != nil {
			switch {
			case errors.Is(err, orchestrator.ErrNotFound):
				return nil, huma.Error404NotFound("camera session not found", err)
			case errors.Is(err, ErrGatherTimeout):
				return nil, huma.Error504GatewayTimeout("ICE gathering timed out", err)
			default:
				return nil, huma.Error400BadRequest("failed to negotiate", err)
			}
		}
		return &WebRTCAnswerOutput{
			ContentType: "application/sdp",
			Body:        []byte(answer),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-webrtc-peers",
		Method:      http.MethodGet,
		Path:        "/api/webrtc/peers",
		Summary:     "List WebRTC peers",
		Description: "Returns the connected WebRTC viewers",
		Tags:        []string{"streaming"},
		Security:    basicAuth,
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*PeerListOutput, error) {
		out := &PeerListOutput{}
		out.Body.Peers = webrtcManager.Peers()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-webrtc-peer",
		Method:        http.MethodDelete,
		Path:          "/api/webrtc/peers/{peer_id}",
		Summary:       "Disconnect WebRTC peer",
		Description:   "Close one viewer's peer connection and detach it from its camera",
		Tags:          []string{"streaming"},
		DefaultStatus: http.StatusNoContent,
		Security:      basicAuth,
		Errors:        []int{401, 404},
	}, func(ctx context.Context, input *PeerIDInput) (*struct{}, error) {
		if err := webrtcManager.Disconnect(input.PeerID); err != nil {
			return nil, huma.Error404NotFound("peer not found", err)
		}
		return &struct{}{}, nil
	})
}
