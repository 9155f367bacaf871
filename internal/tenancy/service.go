package tenancy

import (
	"context"
	"fmt"
	"log/slog"

	"keygate/internal/auth"
	"keygate/internal/store"
)

// Service manages the agent tree and balances.
type Service struct {
	store      *store.Store
	logger     *slog.Logger
	bcryptCost int
}

// NewService creates the tenancy service. bcryptCost zero selects the
// library default.
func NewService(st *store.Store, logger *slog.Logger, bcryptCost int) *Service {
	return &Service{
		store:      st,
		logger:     logger.With(slog.String("component", "tenancy")),
		bcryptCost: bcryptCost,
	}
}

// CreateAgentParams describes a new direct child of the actor.
type CreateAgentParams struct {
	Username string
	Password string
	Balance  float64
	Discount float64
}

// CreateAgent creates an agent as a direct child of the actor. Only
// admins and agents may create children; plain users may not.
func (s *Service) CreateAgent(ctx context.Context, actor Actor, p CreateAgentParams) (*store.User, error) {
	if actor.Role != store.RoleAdmin && actor.Role != store.RoleAgent {
		return nil, ErrForbidden
	}

	hash, err := auth.HashPassword(p.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	agent := &store.User{
		Username:     p.Username,
		PasswordHash: hash,
		Role:         store.RoleAgent,
		ParentID:     actor.ID,
		Balance:      p.Balance,
		Discount:     p.Discount,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, agent); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "agent created",
		slog.String("username", p.Username),
		slog.Int64("parent_id", actor.ID),
	)
	return agent, nil
}

// ListAgents returns the actor's direct children. Grandchildren are
// invisible; the tree is traversed one level at a time.
func (s *Service) ListAgents(ctx context.Context, actor Actor) ([]*store.User, error) {
	return s.store.ListChildren(ctx, actor.ID)
}

// Recharge adjusts a direct child's balance. The operator must be the
// target's parent or an admin; amounts may be negative (deduction) but
// never below a zero balance.
func (s *Service) Recharge(ctx context.Context, actor Actor, targetID int64, amount float64, remark string) (*store.RechargeLog, error) {
	target, err := s.store.UserByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && target.ParentID != actor.ID {
		return nil, fmt.Errorf("%w (recharge target %d is not a direct child of %d)", ErrForbidden, targetID, actor.ID)
	}

	entry, err := s.store.Recharge(ctx, targetID, amount, remark, actor.ID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "balance adjusted",
		slog.Int64("target_id", targetID),
		slog.Int64("operator_id", actor.ID),
		slog.Float64("amount", amount),
		slog.Float64("after", entry.AfterBalance),
	)
	return entry, nil
}
