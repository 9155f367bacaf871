package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuard(t *testing.T, cfg Config, opts ...Option) *Guard {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return New(NewMemoryStore(), cfg, logger, opts...)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func defaultConfig() Config {
	return Config{
		MaxFailedAttempts: 10,
		BlockWindow:       time.Hour,
		NonceTTL:          5 * time.Minute,
		TimestampDrift:    5 * time.Minute,
	}
}

func TestRecordFailedAttempt_BlocksAtThreshold(t *testing.T) {
	g := testGuard(t, defaultConfig())
	ctx := context.Background()

	for i := 1; i < 10; i++ {
		assert.False(t, g.RecordFailedAttempt(ctx, "1.2.3.4"), "attempt %d should not block", i)
		assert.False(t, g.IsBlocked("1.2.3.4"))
	}

	assert.True(t, g.RecordFailedAttempt(ctx, "1.2.3.4"), "10th attempt should block")
	assert.True(t, g.IsBlocked("1.2.3.4"))

	// Unrelated IPs are unaffected.
	assert.False(t, g.IsBlocked("5.6.7.8"))
}

func TestRecordFailedAttempt_WindowReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	g := testGuard(t, defaultConfig(), WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		g.RecordFailedAttempt(ctx, "1.2.3.4")
	}

	// Advance past the accounting window: the counter restarts.
	now = now.Add(time.Hour + time.Minute)
	assert.False(t, g.RecordFailedAttempt(ctx, "1.2.3.4"))
	assert.False(t, g.IsBlocked("1.2.3.4"))
}

func TestBlock_ExpiresAfterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := testGuard(t, defaultConfig(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		g.RecordFailedAttempt(ctx, "1.2.3.4")
	}
	require.True(t, g.IsBlocked("1.2.3.4"))

	now = now.Add(time.Hour + time.Second)
	assert.False(t, g.IsBlocked("1.2.3.4"))
}

func TestClearFailures(t *testing.T) {
	g := testGuard(t, defaultConfig())
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		g.RecordFailedAttempt(ctx, "1.2.3.4")
	}
	g.ClearFailures("1.2.3.4")

	// Counter restarted: next failure is 1 of 10.
	assert.False(t, g.RecordFailedAttempt(ctx, "1.2.3.4"))
}

func TestRecordFailedAttempt_ConcurrentBursts(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxFailedAttempts = 100
	g := testGuard(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 99; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RecordFailedAttempt(ctx, "9.9.9.9")
		}()
	}
	wg.Wait()

	// 99 atomically counted failures; the 100th crosses the threshold.
	assert.False(t, g.IsBlocked("9.9.9.9"))
	assert.True(t, g.RecordFailedAttempt(ctx, "9.9.9.9"))
}

func TestMemoryStore_SweepsExpiredState(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	window := time.Hour

	// A spread of IPs fail and one gets blocked.
	for i := 0; i < 100; i++ {
		store.RecordFailure(fmt.Sprintf("10.0.0.%d", i), now, window)
	}
	store.Block("10.0.0.1", now.Add(window))
	require.Len(t, store.failures, 100)
	require.Len(t, store.blocks, 1)

	// Once the window has passed, a single new failure sweeps all of
	// the stale accounting and the expired block.
	later := now.Add(window + time.Minute)
	store.RecordFailure("10.1.0.1", later, window)
	assert.Len(t, store.failures, 1)
	assert.Empty(t, store.blocks)

	// Live entries survive the sweep.
	store.Block("10.1.0.2", later.Add(window))
	store.RecordFailure("10.1.0.3", later.Add(time.Minute), window)
	assert.Len(t, store.failures, 2)
	assert.Len(t, store.blocks, 1)
}

func TestVerifyNonce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := testGuard(t, defaultConfig(), WithClock(func() time.Time { return now }))

	assert.True(t, g.VerifyNonce("nonce-1"), "first use accepted")
	assert.False(t, g.VerifyNonce("nonce-1"), "replay rejected")
	assert.True(t, g.VerifyNonce("nonce-2"), "distinct nonce accepted")

	// After the TTL elapses the nonce may be reused.
	now = now.Add(5*time.Minute + time.Second)
	assert.True(t, g.VerifyNonce("nonce-1"))
}

func TestVerifyNonce_ManyUnique(t *testing.T) {
	g := testGuard(t, defaultConfig())
	for i := 0; i < 1000; i++ {
		require.True(t, g.VerifyNonce(fmt.Sprintf("nonce-%d", i)))
	}
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := testGuard(t, defaultConfig(),
		WithClock(func() time.Time { return now }),
		WithSecret([]byte("test-secret")),
	)

	ts := strconv.FormatInt(now.Unix(), 10)
	sig := g.SignRequest("payload", ts)

	assert.True(t, g.VerifySignature("payload", ts, sig))
	assert.False(t, g.VerifySignature("tampered", ts, sig))
	assert.False(t, g.VerifySignature("payload", ts, "deadbeef"))
	assert.False(t, g.VerifySignature("payload", "not-a-number", sig))

	// Stale timestamp outside the drift bound.
	staleTS := strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10)
	staleSig := g.SignRequest("payload", staleTS)
	assert.False(t, g.VerifySignature("payload", staleTS, staleSig))
}
