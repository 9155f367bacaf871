package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "keygate/internal/errors"
	"keygate/internal/heartbeat"
	"keygate/internal/middleware"
	"keygate/pkg/contracts/domain"
)

// HeartbeatHandler serves the session verification endpoints.
type HeartbeatHandler struct {
	service HeartbeatService
	logger  *slog.Logger
}

// NewHeartbeatHandler creates a heartbeat handler.
func NewHeartbeatHandler(service HeartbeatService, logger *slog.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "heartbeat")),
	}
}

// Routes returns the heartbeat routes.
func (h *HeartbeatHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Beat)
	r.Get("/status", h.Status)
	return r
}

// Beat handles POST /api/heartbeat: verify and record.
func (h *HeartbeatHandler) Beat(w http.ResponseWriter, r *http.Request) {
	var req domain.HeartbeatRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	result, err := h.service.Verify(r.Context(), heartbeat.Params{
		AppKey:   req.AppKey,
		Token:    req.Token,
		DeviceID: req.DeviceID,
		ClientIP: middleware.ClientIP(r),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "heartbeat failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("heartbeat")))
		return
	}

	resp := domain.HeartbeatResponse{
		Success:    result.Success,
		Message:    result.Message,
		ServerTime: result.ServerTime.Unix(),
	}
	if !result.ExpiresAt.IsZero() {
		resp.ExpiresAt = result.ExpiresAt.Unix()
	}
	if result.Success {
		resp.RemainingSeconds = result.RemainingSeconds
	}
	render.JSON(w, r, resp)
}

// Status handles GET /api/heartbeat/status: report the session state
// without touching the device or the audit log. Parameters ride the
// query string.
func (h *HeartbeatHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := heartbeat.Params{
		AppKey:   q.Get("app_key"),
		Token:    q.Get("token"),
		DeviceID: q.Get("device_id"),
		ClientIP: middleware.ClientIP(r),
	}
	if p.AppKey == "" || p.Token == "" || p.DeviceID == "" {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrMissingParameter))
		return
	}

	result, err := h.service.Status(r.Context(), p)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "status check failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("status")))
		return
	}

	resp := domain.StatusResponse{
		Authorized: result.Authorized,
		Message:    result.Message,
	}
	if !result.ExpiresAt.IsZero() {
		resp.ExpiresAt = result.ExpiresAt.Unix()
	}
	if !result.LastHeartbeat.IsZero() {
		resp.LastHeartbeat = result.LastHeartbeat.Unix()
	}
	if result.Authorized {
		resp.RemainingDays = result.RemainingDays
		resp.RemainingSeconds = result.RemainingSeconds
	}
	render.JSON(w, r, resp)
}
