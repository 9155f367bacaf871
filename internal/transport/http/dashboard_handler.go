package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "keygate/internal/errors"
	"keygate/internal/middleware"
	"keygate/internal/tenancy"
	"keygate/pkg/contracts/domain"
)

// DashboardHandler serves the read-only admin aggregates.
type DashboardHandler struct {
	service StatsService
	logger  *slog.Logger
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(service StatsService, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "dashboard")),
	}
}

// Routes returns the dashboard routes.
func (h *DashboardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.Stats)
	r.Get("/heartbeats", h.RecentHeartbeats)
	return r
}

// Stats handles GET /api/dashboard/stats.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	appID := int64(queryInt(r, "application_id"))
	dash, err := h.service.DashboardStats(r.Context(), tenancy.ScopeOwner(actor), appID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dashboard aggregation failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("dashboard stats")))
		return
	}
	render.JSON(w, r, dash)
}

// RecentHeartbeats handles GET /api/dashboard/heartbeats.
func (h *DashboardHandler) RecentHeartbeats(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.ActorFromContext(r.Context()); !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	limit := queryInt(r, "limit")
	if limit < 1 || limit > 500 {
		limit = 50
	}
	logs, err := h.service.RecentHeartbeats(r.Context(), int64(queryInt(r, "application_id")), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "heartbeat listing failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("recent heartbeats")))
		return
	}

	resp := make([]domain.HeartbeatLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, domain.HeartbeatLogResponse{
			ID:            l.ID,
			DeviceID:      l.DeviceID,
			ApplicationID: l.ApplicationID,
			IPAddress:     l.IPAddress,
			Status:        string(l.Status),
			Message:       l.Message,
			CreatedAt:     l.CreatedAt.Unix(),
		})
	}
	render.JSON(w, r, resp)
}
