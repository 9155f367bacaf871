package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	apierrors "keygate/internal/errors"
	"keygate/internal/guard"
)

// ClientIP returns the request's client address without the port.
// Assumes RealIP already ran.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipLimiter tracks one client's token bucket and its last use, for
// eviction.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles per client IP. Overflow counts as a failed
// attempt against the guard, so a flooding IP graduates from 429s to a
// hard block.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	guard    *guard.Guard
	logger   *slog.Logger
}

// NewRateLimiter creates a per-IP limiter allowing rps sustained
// requests with the given burst.
func NewRateLimiter(rps float64, burst int, g *guard.Guard, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		guard:    g,
		logger:   logger.With(slog.String("component", "rate_limiter")),
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	l, ok := rl.limiters[ip]
	if !ok {
		// Evict buckets idle for an hour before adding a new one.
		for key, old := range rl.limiters {
			if now.Sub(old.lastSeen) > time.Hour {
				delete(rl.limiters, key)
			}
		}
		l = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter
}

// Handler enforces the per-IP limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !rl.limiterFor(ip).Allow() {
			rl.logger.WarnContext(r.Context(), "rate limit exceeded",
				"ip", ip,
				"method", r.Method,
				"path", r.URL.Path,
			)
			rl.guard.RecordFailedAttempt(r.Context(), ip)
			w.Header().Set("Retry-After", "60")
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrRateLimitExceeded))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPBlock rejects requests from IPs the guard has blocked. Runs before
// the rate limiter so blocked clients never consume bucket tokens.
func IPBlock(g *guard.Guard) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.IsBlocked(ClientIP(r)) {
				render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrIPBlocked))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
