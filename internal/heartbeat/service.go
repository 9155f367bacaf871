// Package heartbeat implements session verification: a device presents
// its (app key, token, device identifier) binding and learns whether
// its session is still live. Every attempt that reaches device
// resolution leaves an append-only audit record.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keygate/internal/store"
)

// Service verifies device sessions against the store.
type Service struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the heartbeat verifier. The clock is injectable
// for tests; pass nil for wall time.
func NewService(st *store.Store, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:  st,
		logger: logger.With(slog.String("component", "heartbeat")),
		now:    now,
	}
}

// Params identifies the session being verified.
type Params struct {
	AppKey   string
	Token    string
	DeviceID string
	ClientIP string
}

// Result is the verification outcome. Success=false carries a message;
// errors are reserved for store failures.
type Result struct {
	Success          bool
	Message          string
	ExpiresAt        time.Time
	RemainingSeconds int64
	ServerTime       time.Time
}

// Verify checks a device session and records the outcome. Ordering of
// the audit rules:
//
//   - unknown or disabled application: rejected with no audit record,
//     the attempt never resolved to a device;
//   - unknown binding: audit "invalid";
//   - administratively deactivated device: rejected, no record;
//   - expired session: audit "expired", last-heartbeat left untouched;
//   - live session: last-heartbeat updated, audit "success".
func (s *Service) Verify(ctx context.Context, p Params) (*Result, error) {
	now := s.now()

	app, err := s.store.ApplicationByKey(ctx, p.AppKey)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{Message: "application unavailable", ServerTime: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat: look up application: %w", err)
	}
	if !app.IsActive {
		return &Result{Message: "application unavailable", ServerTime: now}, nil
	}

	device, err := s.store.DeviceByBinding(ctx, app.ID, p.Token, p.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		s.audit(ctx, &store.HeartbeatLog{
			DeviceID:      p.DeviceID,
			ApplicationID: app.ID,
			IPAddress:     p.ClientIP,
			Status:        store.HeartbeatInvalid,
			Message:       "no such binding",
			CreatedAt:     now,
		})
		return &Result{Message: "device not authorized", ServerTime: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat: resolve device: %w", err)
	}

	if !device.IsActive {
		return &Result{Message: "device deactivated", ServerTime: now}, nil
	}

	if !device.ExpiresAt.After(now) {
		s.audit(ctx, &store.HeartbeatLog{
			DeviceID:      p.DeviceID,
			ApplicationID: app.ID,
			IPAddress:     p.ClientIP,
			Status:        store.HeartbeatExpired,
			Message:       "session expired",
			CreatedAt:     now,
		})
		return &Result{
			Message:    "session expired",
			ExpiresAt:  device.ExpiresAt,
			ServerTime: now,
		}, nil
	}

	if err := s.store.TouchDevice(ctx, device.ID, now, p.ClientIP); err != nil {
		return nil, fmt.Errorf("heartbeat: touch device: %w", err)
	}
	s.audit(ctx, &store.HeartbeatLog{
		DeviceID:      p.DeviceID,
		ApplicationID: app.ID,
		IPAddress:     p.ClientIP,
		Status:        store.HeartbeatSuccess,
		CreatedAt:     now,
	})

	return &Result{
		Success:          true,
		Message:          "ok",
		ExpiresAt:        device.ExpiresAt,
		RemainingSeconds: int64(device.ExpiresAt.Sub(now).Seconds()),
		ServerTime:       now,
	}, nil
}

// StatusResult is the read-only session projection returned by Status.
type StatusResult struct {
	Authorized       bool
	Message          string
	ExpiresAt        time.Time
	RemainingDays    int
	RemainingSeconds int64
	LastHeartbeat    time.Time
}

// Status reports a session's state without touching the device row or
// the audit log. Pollable at any frequency.
func (s *Service) Status(ctx context.Context, p Params) (*StatusResult, error) {
	now := s.now()

	app, err := s.store.ApplicationByKey(ctx, p.AppKey)
	if errors.Is(err, store.ErrNotFound) {
		return &StatusResult{Message: "application unavailable"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat: look up application: %w", err)
	}
	if !app.IsActive {
		return &StatusResult{Message: "application unavailable"}, nil
	}

	device, err := s.store.DeviceByBinding(ctx, app.ID, p.Token, p.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return &StatusResult{Message: "device not authorized"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat: resolve device: %w", err)
	}

	if !device.IsActive {
		return &StatusResult{Message: "device deactivated"}, nil
	}
	if !device.ExpiresAt.After(now) {
		return &StatusResult{
			Message:       "session expired",
			ExpiresAt:     device.ExpiresAt,
			LastHeartbeat: device.LastHeartbeat,
		}, nil
	}

	remaining := device.ExpiresAt.Sub(now)
	return &StatusResult{
		Authorized:       true,
		Message:          "ok",
		ExpiresAt:        device.ExpiresAt,
		RemainingDays:    int(remaining.Hours() / 24),
		RemainingSeconds: int64(remaining.Seconds()),
		LastHeartbeat:    device.LastHeartbeat,
	}, nil
}

// audit appends one log row. Audit failures are logged and swallowed;
// a full disk must not take verification down with it.
func (s *Service) audit(ctx context.Context, log *store.HeartbeatLog) {
	if err := s.store.AppendHeartbeatLog(ctx, log); err != nil {
		s.logger.ErrorContext(ctx, "heartbeat audit write failed",
			slog.String("device_id", log.DeviceID),
			slog.String("status", string(log.Status)),
			slog.String("error", err.Error()),
		)
	}
}
