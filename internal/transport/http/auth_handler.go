package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/auth"
	apierrors "keygate/internal/errors"
	"keygate/internal/middleware"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

// AuthService authenticates administrative accounts.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, *store.User, error)
	ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error
}

// AuthHandler serves login and password management.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(service AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "auth")),
	}
}

// Routes returns the public auth routes. Password change is mounted
// separately behind authentication.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	return r
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	token, user, err := h.service.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "login failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("login")))
		return
	}

	render.JSON(w, r, domain.LoginResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
	})
}

// ChangePassword handles POST /api/auth/password for the
// authenticated actor.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	var req domain.ChangePasswordRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	err := h.service.ChangePassword(r.Context(), actor.ID, req.OldPassword, req.NewPassword)
	if errors.Is(err, auth.ErrBadCredentials) {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "password change failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("change password")))
		return
	}

	render.JSON(w, r, map[string]bool{"success": true})
}
