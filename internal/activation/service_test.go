package activation

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/guard"
	"keygate/internal/store"
)

type fixture struct {
	store   *store.Store
	guard   *guard.Guard
	service *Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return f.now }

	f.guard = guard.New(guard.NewMemoryStore(), guard.Config{
		MaxFailedAttempts: 10,
		BlockWindow:       time.Hour,
		NonceTTL:          5 * time.Minute,
		TimestampDrift:    5 * time.Minute,
	}, logger, guard.WithClock(clock))
	f.service = NewService(st, f.guard, logger, clock)
	return f
}

func (f *fixture) seedApp(t *testing.T, active bool) *store.Application {
	t.Helper()
	app := &store.Application{
		Name: "app", AppKey: "key-" + t.Name(), AppSecret: "secret",
		OwnerID: 1, MaxDevices: 1, HeartbeatInterval: 60, IsActive: active,
	}
	require.NoError(t, f.store.CreateApplication(context.Background(), app))
	return app
}

func (f *fixture) seedCard(t *testing.T, appID int64, cardType store.CardType) *store.Card {
	t.Helper()
	cards, err := f.service.GenerateCards(context.Background(), appID, cardType, 1, 1, 0)
	require.NoError(t, err)
	return cards[0]
}

func TestActivate_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedApp(t, true)
	card := f.seedCard(t, app.ID, store.CardDay)

	res, err := f.service.Activate(ctx, Params{
		CardKey:  card.CardKey,
		DeviceID: "dev-1",
		ClientIP: "1.2.3.4",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, 1, res.RemainingDays)
	assert.Equal(t, f.now.Add(24*time.Hour), res.ExpiresAt)

	// The device binding exists and carries the expiry.
	device, err := f.store.DeviceByBinding(ctx, app.ID, res.Token, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, card.CardKey, device.CardKey)
	assert.Equal(t, res.ExpiresAt.Unix(), device.ExpiresAt.Unix())

	// The card is consumed exactly once.
	got, err := f.store.CardByKey(ctx, card.CardKey)
	require.NoError(t, err)
	assert.True(t, got.IsUsed)
	assert.Equal(t, "dev-1", got.UsedBy)
}

func TestActivate_NormalizesKey(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, true)
	card := f.seedCard(t, app.ID, store.CardWeek)

	// Missing delimiters, mixed case and stray spaces: same card.
	sloppy := " " + strings.ToLower(card.CardKey[:4]+card.CardKey[5:9]) + " " + card.CardKey[10:]
	res, err := f.service.Activate(context.Background(), Params{
		CardKey:  sloppy,
		DeviceID: "dev-1",
		ClientIP: "1.2.3.4",
	})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, 7, res.RemainingDays)
}

func TestActivate_NotFound(t *testing.T) {
	f := newFixture(t)
	f.seedApp(t, true)

	res, err := f.service.Activate(context.Background(), Params{
		CardKey:  "AAAA-BBBB-CCCC-DDDD",
		DeviceID: "dev-1",
		ClientIP: "1.2.3.4",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "card not found", res.Message)
}

func TestActivate_NotFoundCountsTowardBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := f.service.Activate(ctx, Params{
			CardKey:  "AAAA-BBBB-CCCC-DDDD",
			DeviceID: "dev-1",
			ClientIP: "6.6.6.6",
		})
		require.NoError(t, err)
	}
	assert.True(t, f.guard.IsBlocked("6.6.6.6"))
}

func TestActivate_AlreadyUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedApp(t, true)
	card := f.seedCard(t, app.ID, store.CardDay)

	first, err := f.service.Activate(ctx, Params{CardKey: card.CardKey, DeviceID: "dev-1", ClientIP: "1.1.1.1"})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.service.Activate(ctx, Params{CardKey: card.CardKey, DeviceID: "dev-2", ClientIP: "1.1.1.1"})
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, "card already used", second.Message)

	// Retrying a consumed card is not abuse: no block accrues.
	assert.False(t, f.guard.IsBlocked("1.1.1.1"))

	// No second device was created for the losing attempt.
	_, total, err := f.store.ListDevices(ctx, app.ID, store.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestActivate_InactiveApplication(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, false)
	card := f.seedCard(t, app.ID, store.CardDay)

	res, err := f.service.Activate(context.Background(), Params{
		CardKey: card.CardKey, DeviceID: "dev-1", ClientIP: "1.1.1.1",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "application unavailable", res.Message)

	// The card must not be burned by a failed application check.
	got, err := f.store.CardByKey(context.Background(), card.CardKey)
	require.NoError(t, err)
	assert.False(t, got.IsUsed)
}

func TestActivate_NonceReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedApp(t, true)
	card := f.seedCard(t, app.ID, store.CardDay)

	first, err := f.service.Activate(ctx, Params{
		CardKey: card.CardKey, DeviceID: "dev-1", ClientIP: "1.1.1.1", Nonce: "n-1",
	})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.service.Activate(ctx, Params{
		CardKey: card.CardKey, DeviceID: "dev-1", ClientIP: "1.1.1.1", Nonce: "n-1",
	})
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, "request expired or duplicate", second.Message)
}

func TestActivate_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedApp(t, true)
	card := f.seedCard(t, app.ID, store.CardDay)

	const racers = 12
	var wg sync.WaitGroup
	results := make([]*Result, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.service.Activate(ctx, Params{
				CardKey:  card.CardKey,
				DeviceID: "dev-racer",
				ClientIP: "1.1.1.1",
			})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, res := range results {
		if res.Success {
			winners++
		} else {
			assert.Equal(t, "card already used", res.Message)
		}
	}
	assert.Equal(t, 1, winners)

	_, total, err := f.store.ListDevices(ctx, app.ID, store.Page{Number: 1, Size: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "exactly one device row per card")
}

func TestCheckCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedApp(t, true)
	card := f.seedCard(t, app.ID, store.CardMonth)

	res, err := f.service.CheckCard(ctx, card.CardKey)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.IsUsed)
	assert.Equal(t, store.CardMonth, res.CardType)
	assert.Equal(t, 30, res.DurationDays)

	_, err = f.service.Activate(ctx, Params{CardKey: card.CardKey, DeviceID: "dev-1", ClientIP: "1.1.1.1"})
	require.NoError(t, err)

	res, err = f.service.CheckCard(ctx, card.CardKey)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.IsUsed)
	assert.Equal(t, 30, res.RemainingDays)

	res, err = f.service.CheckCard(ctx, "ZZZZ-ZZZZ-ZZZZ-ZZZZ")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestGenerateCards(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, true)

	cards, err := f.service.GenerateCards(context.Background(), app.ID, store.CardYear, 10, 2, 9.99)
	require.NoError(t, err)
	require.Len(t, cards, 10)

	seen := make(map[string]bool)
	for _, c := range cards {
		assert.Equal(t, 365, c.DurationDays)
		assert.Equal(t, 9.99, c.Price)
		assert.False(t, seen[c.CardKey], "duplicate key in batch")
		seen[c.CardKey] = true
	}

	_, err = f.service.GenerateCards(context.Background(), app.ID, "bogus", 1, 2, 0)
	assert.Error(t, err)
	_, err = f.service.GenerateCards(context.Background(), app.ID, store.CardDay, 0, 2, 0)
	assert.Error(t, err)
}
