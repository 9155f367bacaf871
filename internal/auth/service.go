package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"keygate/internal/store"
)

// ErrBadCredentials is returned for unknown users, wrong passwords and
// disabled accounts alike, so responses do not reveal which it was.
var ErrBadCredentials = errors.New("auth: bad credentials")

// Service authenticates administrative accounts.
type Service struct {
	store      *store.Store
	issuer     *TokenIssuer
	logger     *slog.Logger
	bcryptCost int
}

// NewService creates the auth service.
func NewService(st *store.Store, issuer *TokenIssuer, logger *slog.Logger, bcryptCost int) *Service {
	return &Service{
		store:      st,
		issuer:     issuer,
		logger:     logger.With(slog.String("component", "auth")),
		bcryptCost: bcryptCost,
	}
}

// Login verifies a username/password pair and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := s.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, ErrBadCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("auth: look up user: %w", err)
	}
	if !user.IsActive || !CheckPassword(user.PasswordHash, password) {
		return "", nil, ErrBadCredentials
	}

	token, err := s.issuer.Issue(user.ID, user.Role)
	if err != nil {
		return "", nil, err
	}

	s.logger.InfoContext(ctx, "login succeeded",
		slog.String("username", username),
		slog.String("role", string(user.Role)),
	)
	return token, user, nil
}

// ChangePassword rotates a user's password after verifying the old
// one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("auth: look up user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, oldPassword) {
		return ErrBadCredentials
	}

	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}

	s.logger.InfoContext(ctx, "password changed", slog.Int64("user_id", userID))
	return nil
}
