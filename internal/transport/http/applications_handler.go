package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/cardkey"
	apierrors "keygate/internal/errors"
	"keygate/internal/middleware"
	"keygate/internal/store"
	"keygate/internal/tenancy"
	"keygate/pkg/contracts/domain"
)

// ApplicationsHandler serves the tenant application admin endpoints.
type ApplicationsHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewApplicationsHandler creates an applications handler.
func NewApplicationsHandler(st *store.Store, logger *slog.Logger) *ApplicationsHandler {
	return &ApplicationsHandler{
		store:  st,
		logger: logger.With(slog.String("handler", "applications")),
	}
}

// Routes returns the application admin routes.
func (h *ApplicationsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Put("/{appID}", h.Update)
	r.Post("/{appID}/rotate-secret", h.RotateSecret)
	return r
}

// Create handles POST /api/applications. The app key and secret are
// generated server-side; the secret is disclosed only in this response
// and on rotation.
func (h *ApplicationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	var req domain.CreateApplicationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	appKey, err := cardkey.GenerateAppKey()
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}
	appSecret, err := cardkey.GenerateAppSecret()
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}

	app := &store.Application{
		Name:              req.Name,
		AppKey:            appKey,
		AppSecret:         appSecret,
		OwnerID:           actor.ID,
		Description:       req.Description,
		MaxDevices:        req.MaxDevices,
		HeartbeatInterval: req.HeartbeatInterval,
		IsActive:          true,
	}
	if err := h.store.CreateApplication(r.Context(), app); err != nil {
		h.logger.ErrorContext(r.Context(), "application creation failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("create application")))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, applicationResponse(app, true))
}

// List handles GET /api/applications, scoped to the actor's ownership.
func (h *ApplicationsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	apps, err := h.store.ListApplications(r.Context(), tenancy.ScopeOwner(actor))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "application listing failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("list applications")))
		return
	}

	resp := make([]domain.ApplicationResponse, 0, len(apps))
	for _, app := range apps {
		resp = append(resp, applicationResponse(app, false))
	}
	render.JSON(w, r, resp)
}

// Update handles PUT /api/applications/{appID}. The app key is
// immutable and absent from the request type.
func (h *ApplicationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, app, ok := h.resolveOwned(w, r)
	if !ok {
		return
	}
	_ = actor

	var req domain.UpdateApplicationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	app.Name = req.Name
	app.Description = req.Description
	app.MaxDevices = req.MaxDevices
	app.HeartbeatInterval = req.HeartbeatInterval
	app.IsActive = req.IsActive

	if err := h.store.UpdateApplication(r.Context(), app); err != nil {
		h.logger.ErrorContext(r.Context(), "application update failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("update application")))
		return
	}
	render.JSON(w, r, applicationResponse(app, false))
}

// RotateSecret handles POST /api/applications/{appID}/rotate-secret.
// The new secret is returned exactly once.
func (h *ApplicationsHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	_, app, ok := h.resolveOwned(w, r)
	if !ok {
		return
	}

	newSecret, err := cardkey.GenerateAppSecret()
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}
	if err := h.store.RotateAppSecret(r.Context(), app.ID, newSecret); err != nil {
		h.logger.ErrorContext(r.Context(), "secret rotation failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("rotate secret")))
		return
	}

	app.AppSecret = newSecret
	render.JSON(w, r, applicationResponse(app, true))
}

// resolveOwned loads the application from the URL and checks the actor
// owns it. On failure the response has already been written.
func (h *ApplicationsHandler) resolveOwned(w http.ResponseWriter, r *http.Request) (tenancy.Actor, *store.Application, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return tenancy.Actor{}, nil, false
	}

	appID, err := strconv.ParseInt(chi.URLParam(r, "appID"), 10, 64)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidRequest))
		return tenancy.Actor{}, nil, false
	}
	app, err := h.store.ApplicationByID(r.Context(), appID)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("application")))
		return tenancy.Actor{}, nil, false
	}
	if err := tenancy.Authorize(actor, app.OwnerID); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrForbidden))
		return tenancy.Actor{}, nil, false
	}
	return actor, app, true
}

func applicationResponse(app *store.Application, includeSecret bool) domain.ApplicationResponse {
	resp := domain.ApplicationResponse{
		ID:                app.ID,
		Name:              app.Name,
		AppKey:            app.AppKey,
		OwnerID:           app.OwnerID,
		Description:       app.Description,
		MaxDevices:        app.MaxDevices,
		HeartbeatInterval: app.HeartbeatInterval,
		IsActive:          app.IsActive,
		CreatedAt:         app.CreatedAt.Unix(),
	}
	if includeSecret {
		resp.AppSecret = app.AppSecret
	}
	return resp
}
