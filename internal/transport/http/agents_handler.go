package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "keygate/internal/errors"
	"keygate/internal/middleware"
	"keygate/internal/store"
	"keygate/internal/tenancy"
	"keygate/pkg/contracts/domain"
)

// AgentsHandler serves the agent tree admin endpoints.
type AgentsHandler struct {
	service TenancyService
	logger  *slog.Logger
}

// NewAgentsHandler creates an agents handler.
func NewAgentsHandler(service TenancyService, logger *slog.Logger) *AgentsHandler {
	return &AgentsHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "agents")),
	}
}

// Routes returns the agent admin routes.
func (h *AgentsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Post("/{agentID}/recharge", h.Recharge)
	return r
}

// Create handles POST /api/agents: add a direct child.
func (h *AgentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	var req domain.CreateAgentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	agent, err := h.service.CreateAgent(r.Context(), actor, tenancy.CreateAgentParams{
		Username: req.Username,
		Password: req.Password,
		Balance:  req.Balance,
		Discount: req.Discount,
	})
	if errors.Is(err, tenancy.ErrForbidden) {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrForbidden))
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "agent creation failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("create agent")))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, agentResponse(agent))
}

// List handles GET /api/agents: the actor's direct children.
func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	agents, err := h.service.ListAgents(r.Context(), actor)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "agent listing failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("list agents")))
		return
	}

	resp := make([]domain.AgentResponse, 0, len(agents))
	for _, agent := range agents {
		resp = append(resp, agentResponse(agent))
	}
	render.JSON(w, r, resp)
}

// Recharge handles POST /api/agents/{agentID}/recharge.
func (h *AgentsHandler) Recharge(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	agentID, err := strconv.ParseInt(chi.URLParam(r, "agentID"), 10, 64)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidRequest))
		return
	}

	var req domain.RechargeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	entry, err := h.service.Recharge(r.Context(), actor, agentID, req.Amount, req.Remark)
	if errors.Is(err, tenancy.ErrForbidden) {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrForbidden))
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("agent")))
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "recharge failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("recharge")))
		return
	}

	render.JSON(w, r, domain.RechargeResponse{
		UserID:        entry.UserID,
		Amount:        entry.Amount,
		BeforeBalance: entry.BeforeBalance,
		AfterBalance:  entry.AfterBalance,
		CreatedAt:     entry.CreatedAt.Unix(),
	})
}

func agentResponse(u *store.User) domain.AgentResponse {
	return domain.AgentResponse{
		ID:        u.ID,
		Username:  u.Username,
		Role:      string(u.Role),
		ParentID:  u.ParentID,
		Balance:   u.Balance,
		Discount:  u.Discount,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.Unix(),
	}
}
