// Package guard implements the abuse protections that sit in front of
// the activation protocol: failed-attempt accounting with temporary IP
// blocking, and nonce-based replay rejection.
//
// All state lives behind the Store interface. The in-process
// MemoryStore is the default and is best-effort: a restart clears
// blocks and nonces. Multi-instance deployments should supply a shared
// Store implementation.
package guard

import (
	"context"
	"log/slog"
	"time"
)

// Store is the guard's backing state. Implementations must make each
// method atomic with respect to concurrent calls for the same key.
type Store interface {
	// RecordFailure increments the failure counter for ip. If the
	// accounting window has elapsed since the window started, the
	// counter restarts at 1. Returns the post-increment count.
	RecordFailure(ip string, now time.Time, window time.Duration) int

	// ClearFailures drops the failure counter for ip.
	ClearFailures(ip string)

	// Block marks ip blocked until the given time.
	Block(ip string, until time.Time)

	// BlockedUntil returns the block expiry for ip, if any.
	BlockedUntil(ip string) (time.Time, bool)

	// MarkNonce records the nonce if it has not been seen within its
	// TTL and reports whether it was fresh. Implementations may purge
	// expired nonces lazily during this call.
	MarkNonce(nonce string, now time.Time, ttl time.Duration) bool
}

// Config holds guard thresholds.
type Config struct {
	// MaxFailedAttempts is the failure count at which an IP is blocked.
	MaxFailedAttempts int
	// BlockWindow is both the failure accounting window and the block
	// duration once the threshold is reached.
	BlockWindow time.Duration
	// NonceTTL is the replay-rejection window.
	NonceTTL time.Duration
	// TimestampDrift bounds how far a client-claimed timestamp may
	// deviate from server time in signed requests.
	TimestampDrift time.Duration
}

// Guard enforces failed-attempt blocking and replay protection.
type Guard struct {
	store  Store
	cfg    Config
	secret []byte
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Guard.
type Option func(*Guard)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithSecret sets the HMAC key for request-signature verification.
func WithSecret(secret []byte) Option {
	return func(g *Guard) { g.secret = secret }
}

// New creates a Guard over the given store.
func New(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "guard")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsBlocked reports whether ip is currently blocked.
func (g *Guard) IsBlocked(ip string) bool {
	until, ok := g.store.BlockedUntil(ip)
	if !ok {
		return false
	}
	return g.now().Before(until)
}

// RecordFailedAttempt counts a failure for ip and reports whether the
// IP is now blocked. This is the single write path for abuse
// accounting: rate-limit overflow and application-level validation
// failures both route through it.
func (g *Guard) RecordFailedAttempt(ctx context.Context, ip string) bool {
	now := g.now()
	count := g.store.RecordFailure(ip, now, g.cfg.BlockWindow)
	if count < g.cfg.MaxFailedAttempts {
		return false
	}

	g.store.Block(ip, now.Add(g.cfg.BlockWindow))
	g.logger.WarnContext(ctx, "IP blocked after repeated failures",
		slog.String("ip", ip),
		slog.Int("failures", count),
		slog.Int("threshold", g.cfg.MaxFailedAttempts),
		slog.Duration("block_window", g.cfg.BlockWindow),
	)
	return true
}

// ClearFailures resets the failure counter for ip, typically after a
// successful operation.
func (g *Guard) ClearFailures(ip string) {
	g.store.ClearFailures(ip)
}

// VerifyNonce accepts a nonce exactly once within the TTL window.
// Returns false on a replay. An empty nonce is the caller's signal that
// replay protection was not requested; callers must not pass one here.
func (g *Guard) VerifyNonce(nonce string) bool {
	return g.store.MarkNonce(nonce, g.now(), g.cfg.NonceTTL)
}
