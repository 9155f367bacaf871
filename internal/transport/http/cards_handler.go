package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/cardkey"
	"keygate/internal/config"
	apierrors "keygate/internal/errors"
	"keygate/internal/middleware"
	"keygate/internal/store"
	"keygate/internal/tenancy"
	"keygate/pkg/contracts/domain"
)

// CardsHandler serves the administrative card endpoints.
type CardsHandler struct {
	activation ActivationService
	stats      StatsService
	store      *store.Store
	logger     *slog.Logger
}

// NewCardsHandler creates a cards handler.
func NewCardsHandler(activation ActivationService, stats StatsService, st *store.Store, logger *slog.Logger) *CardsHandler {
	return &CardsHandler{
		activation: activation,
		stats:      stats,
		store:      st,
		logger:     logger.With(slog.String("handler", "cards")),
	}
}

// Routes returns the card admin routes. Callers mount them behind
// authentication.
func (h *CardsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/generate", h.Generate)
	r.Get("/", h.List)
	r.Get("/{cardKey}", h.Get)
	r.Delete("/{cardKey}", h.Delete)
	r.Get("/export/csv", h.ExportCSV)
	r.Get("/export/xlsx", h.ExportXLSX)
	return r
}

// Generate handles POST /api/cards/generate: mint a batch.
func (h *CardsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	var req domain.GenerateCardsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if apiErr := middleware.ValidateStruct(req); apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	app, err := h.store.ApplicationByID(r.Context(), req.ApplicationID)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("application")))
		return
	}
	if err := tenancy.Authorize(actor, app.OwnerID); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrForbidden))
		return
	}

	cards, err := h.activation.GenerateCards(r.Context(), req.ApplicationID,
		store.CardType(req.CardType), req.Count, actor.ID, req.Price)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "card generation failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("generate cards")))
		return
	}

	resp := make([]domain.CardResponse, 0, len(cards))
	for _, c := range cards {
		resp = append(resp, cardResponse(c))
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// List handles GET /api/cards with filter and pagination query
// parameters. Non-admin actors only see cards they created.
func (h *CardsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	filter := h.cardFilter(r, actor)
	page := store.Page{
		Number: queryInt(r, "page"),
		Size:   queryInt(r, "page_size"),
	}.Normalize(config.DefaultPageSize, config.MaxPageSize)

	cards, total, err := h.store.ListCards(r.Context(), filter, page)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "card listing failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.StoreError("list cards")))
		return
	}

	items := make([]domain.CardResponse, 0, len(cards))
	for _, c := range cards {
		items = append(items, cardResponse(c))
	}
	render.JSON(w, r, domain.PagedResponse[domain.CardResponse]{
		Items:    items,
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	})
}

// Get handles GET /api/cards/{cardKey}: a direct lookup of one card.
func (h *CardsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	cardKey := cardkey.Normalize(chi.URLParam(r, "cardKey"))
	card, err := h.store.CardByKey(r.Context(), cardKey)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("card")))
		return
	}
	if err := tenancy.Authorize(actor, card.CreatorID); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrForbidden))
		return
	}
	render.JSON(w, r, cardResponse(card))
}

// Delete handles DELETE /api/cards/{cardKey}. Only unused cards can be
// deleted; consumed cards are permanent audit state. The key is
// normalized first so any form accepted by activation is accepted here.
func (h *CardsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	cardKey := cardkey.Normalize(chi.URLParam(r, "cardKey"))
	card, err := h.store.CardByKey(r.Context(), cardKey)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("card")))
		return
	}
	if err := tenancy.Authorize(actor, card.CreatorID); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrForbidden))
		return
	}

	if err := h.store.DeleteCard(r.Context(), cardKey); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.NewWithDetails(http.StatusConflict, "CONFLICT",
				"Only unused cards can be deleted", cardKey)))
		return
	}
	render.JSON(w, r, map[string]bool{"success": true})
}

// ExportCSV handles GET /api/cards/export/csv.
func (h *CardsHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="cards.csv"`)
	if err := h.stats.ExportCardsCSV(r.Context(), h.cardFilter(r, actor), w); err != nil {
		h.logger.ErrorContext(r.Context(), "CSV export failed",
			slog.String("error", err.Error()))
	}
}

// ExportXLSX handles GET /api/cards/export/xlsx.
func (h *CardsHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="cards.xlsx"`)
	if err := h.stats.ExportCardsXLSX(r.Context(), h.cardFilter(r, actor), w); err != nil {
		h.logger.ErrorContext(r.Context(), "XLSX export failed",
			slog.String("error", err.Error()))
	}
}

// cardFilter builds the listing filter from query parameters, scoped
// to the actor's ownership.
func (h *CardsHandler) cardFilter(r *http.Request, actor tenancy.Actor) store.CardFilter {
	filter := store.CardFilter{
		CreatorID:     tenancy.ScopeOwner(actor),
		ApplicationID: int64(queryInt(r, "application_id")),
		Type:          store.CardType(r.URL.Query().Get("card_type")),
		Keyword:       r.URL.Query().Get("keyword"),
	}
	if v := r.URL.Query().Get("is_used"); v != "" {
		used := v == "true" || v == "1"
		filter.IsUsed = &used
	}
	return filter
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func cardResponse(c *store.Card) domain.CardResponse {
	resp := domain.CardResponse{
		ID:            c.ID,
		CardKey:       c.CardKey,
		CardType:      string(c.Type),
		DurationDays:  c.DurationDays,
		ApplicationID: c.ApplicationID,
		CreatorID:     c.CreatorID,
		Price:         c.Price,
		IsUsed:        c.IsUsed,
		UsedBy:        c.UsedBy,
		CreatedAt:     c.CreatedAt.Unix(),
	}
	if !c.UsedAt.IsZero() {
		resp.UsedAt = c.UsedAt.Unix()
	}
	if !c.ExpiresAt.IsZero() {
		resp.ExpiresAt = c.ExpiresAt.Unix()
	}
	return resp
}
