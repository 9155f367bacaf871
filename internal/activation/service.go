// Package activation implements the card activation state machine:
// an unused card is atomically consumed, bound to a device and
// exchanged for a session token with a computed expiry. A card's only
// transition is Unused → Consumed; there is no way back.
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keygate/internal/cardkey"
	"keygate/internal/config"
	"keygate/internal/guard"
	"keygate/internal/store"
)

// cardDurations maps a card's type to its validity in whole days,
// fixed at creation.
var cardDurations = map[store.CardType]int{
	store.CardDay:       config.DurationDay,
	store.CardWeek:      config.DurationWeek,
	store.CardMonth:     config.DurationMonth,
	store.CardYear:      config.DurationYear,
	store.CardPermanent: config.DurationPermanent,
}

// DurationForType returns the validity in days for a card type, or
// false for an unknown type.
func DurationForType(t store.CardType) (int, bool) {
	d, ok := cardDurations[t]
	return d, ok
}

// Service drives activation and card lifecycle operations.
type Service struct {
	store  *store.Store
	guard  *guard.Guard
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the activation service. The clock is injectable
// for tests; pass nil for wall time.
func NewService(st *store.Store, g *guard.Guard, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:  st,
		guard:  g,
		logger: logger.With(slog.String("component", "activation")),
		now:    now,
	}
}

// Params carries one activation attempt.
type Params struct {
	CardKey   string
	DeviceID  string
	ExtraInfo string
	ClientIP  string
	// Nonce is optional; empty skips replay protection entirely.
	Nonce string
}

// Result is the activation outcome. Success=false with a message is a
// domain rejection, not an error; errors are reserved for store
// failures.
type Result struct {
	Success       bool
	Message       string
	Token         string
	ExpiresAt     time.Time
	RemainingDays int
}

func reject(message string) *Result {
	return &Result{Success: false, Message: message}
}

// Activate consumes a card and mints a device session. At most one
// concurrent attempt per card succeeds; the store's compare-and-set on
// the consumed flag linearizes racers.
func (s *Service) Activate(ctx context.Context, p Params) (*Result, error) {
	if p.Nonce != "" && !s.guard.VerifyNonce(p.Nonce) {
		s.guard.RecordFailedAttempt(ctx, p.ClientIP)
		return reject("request expired or duplicate"), nil
	}

	key := cardkey.Normalize(p.CardKey)

	card, err := s.store.CardByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		s.guard.RecordFailedAttempt(ctx, p.ClientIP)
		return reject("card not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("activation: look up card: %w", err)
	}

	// A consumed card is a legitimate retry path, not abuse: no
	// failed-attempt accounting here.
	if card.IsUsed {
		return reject("card already used"), nil
	}

	app, err := s.store.ApplicationByID(ctx, card.ApplicationID)
	if errors.Is(err, store.ErrNotFound) {
		return reject("application unavailable"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("activation: look up application: %w", err)
	}
	if !app.IsActive {
		return reject("application unavailable"), nil
	}

	now := s.now()

	// Device-count check is advisory only: the count is logged against
	// max_devices but never blocks activation.
	if live, err := s.store.CountLiveDevices(ctx, app.ID, p.DeviceID, now); err == nil {
		if live >= app.MaxDevices {
			s.logger.WarnContext(ctx, "device count at or over application limit",
				slog.Int64("application_id", app.ID),
				slog.String("device_id", p.DeviceID),
				slog.Int("live_devices", live),
				slog.Int("max_devices", app.MaxDevices),
			)
		}
	} else {
		s.logger.WarnContext(ctx, "device count query failed", slog.String("error", err.Error()))
	}

	expiresAt := now.Add(time.Duration(card.DurationDays) * 24 * time.Hour)

	token, err := cardkey.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("activation: generate session token: %w", err)
	}

	// Consume and bind in one store transaction: if the device insert
	// fails, the card must stay unused.
	device := &store.Device{
		DeviceID:      p.DeviceID,
		Token:         token,
		ApplicationID: app.ID,
		CardKey:       key,
		ExpiresAt:     expiresAt,
		LastHeartbeat: now,
		IPAddress:     p.ClientIP,
		ExtraInfo:     p.ExtraInfo,
		IsActive:      true,
	}
	err = s.store.ConsumeCardForDevice(ctx, key, now, device)
	if errors.Is(err, store.ErrAlreadyConsumed) {
		return reject("card already used"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("activation: consume card: %w", err)
	}

	s.logger.InfoContext(ctx, "card activated",
		slog.String("card_key", key),
		slog.Int64("application_id", app.ID),
		slog.String("device_id", p.DeviceID),
		slog.Time("expires_at", expiresAt),
	)

	return &Result{
		Success:       true,
		Message:       "activation successful",
		Token:         token,
		ExpiresAt:     expiresAt,
		RemainingDays: int(expiresAt.Sub(now).Hours() / 24),
	}, nil
}

// CheckResult is the public, read-only card status projection.
type CheckResult struct {
	Valid         bool
	IsUsed        bool
	ExpiresAt     time.Time
	RemainingDays int
	CardType      store.CardType
	DurationDays  int
	Message       string
}

// CheckCard reports a card's state without mutating anything.
func (s *Service) CheckCard(ctx context.Context, rawKey string) (*CheckResult, error) {
	key := cardkey.Normalize(rawKey)

	card, err := s.store.CardByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return &CheckResult{Valid: false, Message: "card not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activation: check card: %w", err)
	}

	if card.IsUsed {
		remaining := 0
		if !card.ExpiresAt.IsZero() {
			if d := int(card.ExpiresAt.Sub(s.now()).Hours() / 24); d > 0 {
				remaining = d
			}
		}
		return &CheckResult{
			Valid:         true,
			IsUsed:        true,
			ExpiresAt:     card.ExpiresAt,
			RemainingDays: remaining,
			Message:       "card already activated",
		}, nil
	}

	return &CheckResult{
		Valid:        true,
		IsUsed:       false,
		CardType:     card.Type,
		DurationDays: card.DurationDays,
		Message:      "card not yet used",
	}, nil
}

// GenerateCards mints a batch of cards for an application. The
// duration is fixed by the type at creation and never re-derived.
func (s *Service) GenerateCards(ctx context.Context, appID int64, cardType store.CardType, count int, creatorID int64, price float64) ([]*store.Card, error) {
	duration, ok := DurationForType(cardType)
	if !ok {
		return nil, fmt.Errorf("activation: unknown card type %q", cardType)
	}
	if count < 1 {
		return nil, fmt.Errorf("activation: card count must be positive, got %d", count)
	}

	cards := make([]*store.Card, 0, count)
	for i := 0; i < count; i++ {
		key, err := cardkey.GenerateCardKey()
		if err != nil {
			return nil, fmt.Errorf("activation: generate card key: %w", err)
		}
		cards = append(cards, &store.Card{
			CardKey:       key,
			Type:          cardType,
			DurationDays:  duration,
			ApplicationID: appID,
			CreatorID:     creatorID,
			Price:         price,
		})
	}

	if err := s.store.CreateCards(ctx, cards); err != nil {
		return nil, fmt.Errorf("activation: persist card batch: %w", err)
	}

	s.logger.InfoContext(ctx, "card batch generated",
		slog.Int64("application_id", appID),
		slog.String("card_type", string(cardType)),
		slog.Int("count", count),
	)
	return cards, nil
}
