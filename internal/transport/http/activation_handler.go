package http

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/activation"
	apierrors "keygate/internal/errors"
	"keygate/internal/guard"
	"keygate/internal/middleware"
	"keygate/pkg/contracts/domain"
)

// ActivationHandler serves the public activation endpoints.
type ActivationHandler struct {
	service ActivationService
	guard   *guard.Guard
	logger  *slog.Logger
}

// NewActivationHandler creates an activation handler. A nil guard
// disables signed-request verification.
func NewActivationHandler(service ActivationService, g *guard.Guard, logger *slog.Logger) *ActivationHandler {
	return &ActivationHandler{
		service: service,
		guard:   g,
		logger:  logger.With(slog.String("handler", "activation")),
	}
}

// verifySigned checks the optional X-Timestamp/X-Signature headers
// against the raw body. Unsigned requests pass; a present but invalid
// signature fails closed. Returns the restored body reader.
func (h *ActivationHandler) verifySigned(r *http.Request) (io.Reader, bool) {
	timestamp := r.Header.Get("X-Timestamp")
	signature := r.Header.Get("X-Signature")
	if timestamp == "" && signature == "" {
		return r.Body, true
	}
	if h.guard == nil {
		return r.Body, false
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, false
	}
	if !h.guard.VerifySignature(string(raw), timestamp, signature) {
		return nil, false
	}
	return bytes.NewReader(raw), true
}

// Routes returns the public card routes.
func (h *ActivationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/check", h.Check)
	return r
}

// Activate handles POST /api/cards/activate. Domain rejections come
// back as 200 with success=false; 4xx is reserved for malformed input
// and throttling so clients can tell "bad card" from "bad request".
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verifySigned(r)
	if !ok {
		if h.guard != nil {
			h.guard.RecordFailedAttempt(r.Context(), middleware.ClientIP(r))
		}
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	var req domain.ActivateRequest
	if err := render.DecodeJSON(body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	result, err := h.service.Activate(r.Context(), activation.Params{
		CardKey:   req.CardKey,
		DeviceID:  req.DeviceID,
		ExtraInfo: req.ExtraInfo,
		ClientIP:  middleware.ClientIP(r),
		Nonce:     r.Header.Get("X-Nonce"),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activation failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("activate")))
		return
	}

	resp := domain.ActivateResponse{
		Success: result.Success,
		Message: result.Message,
	}
	if result.Success {
		resp.Token = result.Token
		resp.ExpiresAt = result.ExpiresAt.Unix()
		resp.RemainingDays = result.RemainingDays
	}
	render.JSON(w, r, resp)
}

// Check handles POST /api/cards/check?card_key=..., the public
// read-only card status projection.
func (h *ActivationHandler) Check(w http.ResponseWriter, r *http.Request) {
	cardKey := r.URL.Query().Get("card_key")
	if cardKey == "" {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.ErrValidation("card_key", "card_key is required")))
		return
	}

	result, err := h.service.CheckCard(r.Context(), cardKey)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "card check failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("check card")))
		return
	}

	resp := domain.CheckCardResponse{
		Valid:   result.Valid,
		IsUsed:  result.IsUsed,
		Message: result.Message,
	}
	if result.Valid {
		resp.CardType = string(result.CardType)
		resp.DurationDays = result.DurationDays
		resp.RemainingDays = result.RemainingDays
		if !result.ExpiresAt.IsZero() {
			resp.ExpiresAt = result.ExpiresAt.Unix()
		}
	}
	render.JSON(w, r, resp)
}
