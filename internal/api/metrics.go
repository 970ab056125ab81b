package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camhub/internal/api/models"
)

// registerMetricsRoutes registers the session snapshot SSE endpoint
func (s *Server) registerMetricsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Session Metrics Stream",
		Description: "Periodic snapshot of every session with its state and consumer count",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"sessions": models.SessionListData{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if err := send.Data(s.sessionList()); err != nil {
			return
		}

		ticker := time.NewTicker(s.options.MetricsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := send.Data(s.sessionList()); err != nil {
					return
				}
			}
		}
	})
}
