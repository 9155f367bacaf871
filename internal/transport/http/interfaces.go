// Package http holds the HTTP handlers of the activation protocol and
// the administrative API. Handlers depend on narrow service interfaces
// so tests can substitute mocks.
package http

import (
	"context"
	"io"

	"keygate/internal/activation"
	"keygate/internal/heartbeat"
	"keygate/internal/stats"
	"keygate/internal/store"
	"keygate/internal/tenancy"
)

// ActivationService drives card activation and lifecycle.
type ActivationService interface {
	Activate(ctx context.Context, p activation.Params) (*activation.Result, error)
	CheckCard(ctx context.Context, rawKey string) (*activation.CheckResult, error)
	GenerateCards(ctx context.Context, appID int64, cardType store.CardType, count int, creatorID int64, price float64) ([]*store.Card, error)
}

// HeartbeatService verifies device sessions.
type HeartbeatService interface {
	Verify(ctx context.Context, p heartbeat.Params) (*heartbeat.Result, error)
	Status(ctx context.Context, p heartbeat.Params) (*heartbeat.StatusResult, error)
}

// TenancyService manages the agent tree and balances.
type TenancyService interface {
	CreateAgent(ctx context.Context, actor tenancy.Actor, p tenancy.CreateAgentParams) (*store.User, error)
	ListAgents(ctx context.Context, actor tenancy.Actor) ([]*store.User, error)
	Recharge(ctx context.Context, actor tenancy.Actor, targetID int64, amount float64, remark string) (*store.RechargeLog, error)
}

// StatsService computes dashboard aggregates and exports.
type StatsService interface {
	DashboardStats(ctx context.Context, creatorID, appID int64) (*stats.Dashboard, error)
	RecentHeartbeats(ctx context.Context, appID int64, limit int) ([]*store.HeartbeatLog, error)
	ExportCardsCSV(ctx context.Context, filter store.CardFilter, w io.Writer) error
	ExportCardsXLSX(ctx context.Context, filter store.CardFilter, w io.Writer) error
}
