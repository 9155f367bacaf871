// Package stats produces read-only aggregates over the store for the
// administrative dashboard, and exports card batches as CSV or XLSX.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keygate/internal/store"
)

// Dashboard is the aggregate snapshot behind the admin landing page.
// Counts are point-in-time reads; no two fields are guaranteed to come
// from the same instant.
type Dashboard struct {
	TotalCards    int                             `json:"total_cards"`
	UsedCards     int                             `json:"used_cards"`
	UnusedCards   int                             `json:"unused_cards"`
	TotalDevices  int                             `json:"total_devices"`
	LiveDevices   int                             `json:"live_devices"`
	Heartbeats24h map[store.HeartbeatStatus]int   `json:"heartbeats_24h"`
	GeneratedAt   time.Time                       `json:"generated_at"`
}

// Service computes aggregates and drives exports.
type Service struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the stats service. The clock is injectable for
// tests; pass nil for wall time.
func NewService(st *store.Store, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:  st,
		logger: logger.With(slog.String("component", "stats")),
		now:    now,
	}
}

// DashboardStats aggregates card, device and heartbeat counts. A
// nonzero creatorID scopes cards to one creator (the agent view); appID
// scopes devices and heartbeats to one application.
func (s *Service) DashboardStats(ctx context.Context, creatorID, appID int64) (*Dashboard, error) {
	now := s.now()

	total, used, err := s.store.CardCounts(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("stats: card counts: %w", err)
	}
	totalDevices, liveDevices, err := s.store.DeviceCounts(ctx, appID, now)
	if err != nil {
		return nil, fmt.Errorf("stats: device counts: %w", err)
	}
	beats, err := s.store.HeartbeatCounts(ctx, appID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("stats: heartbeat counts: %w", err)
	}

	return &Dashboard{
		TotalCards:    total,
		UsedCards:     used,
		UnusedCards:   total - used,
		TotalDevices:  totalDevices,
		LiveDevices:   liveDevices,
		Heartbeats24h: beats,
		GeneratedAt:   now,
	}, nil
}

// RecentHeartbeats returns the newest audit entries, up to limit.
func (s *Service) RecentHeartbeats(ctx context.Context, appID int64, limit int) ([]*store.HeartbeatLog, error) {
	return s.store.RecentHeartbeats(ctx, appID, limit)
}
