package heartbeat

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/store"
)

type fixture struct {
	store   *store.Store
	service *Service
	now     time.Time
	app     *store.Application
	device  *store.Device
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(st, logger, func() time.Time { return f.now })

	f.app = &store.Application{
		Name: "app", AppKey: "app-key", AppSecret: "secret",
		OwnerID: 1, MaxDevices: 3, HeartbeatInterval: 60, IsActive: true,
	}
	require.NoError(t, st.CreateApplication(context.Background(), f.app))

	f.device = &store.Device{
		DeviceID:      "dev-1",
		Token:         "tok-1",
		ApplicationID: f.app.ID,
		CardKey:       "AAAA-BBBB-CCCC-DDDD",
		ExpiresAt:     f.now.Add(24 * time.Hour),
		LastHeartbeat: f.now,
		IsActive:      true,
	}
	require.NoError(t, st.CreateDevice(context.Background(), f.device))
	return f
}

func (f *fixture) params() Params {
	return Params{AppKey: f.app.AppKey, Token: f.device.Token, DeviceID: f.device.DeviceID, ClientIP: "9.9.9.9"}
}

func (f *fixture) auditLogs(t *testing.T) []*store.HeartbeatLog {
	t.Helper()
	logs, err := f.store.RecentHeartbeats(context.Background(), f.app.ID, 100)
	require.NoError(t, err)
	return logs
}

func TestVerify_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.Verify(ctx, f.params())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(86400), res.RemainingSeconds)
	assert.Equal(t, f.now, res.ServerTime)

	// Touched: last heartbeat and IP updated.
	device, err := f.store.DeviceByBinding(ctx, f.app.ID, "tok-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, f.now.Unix(), device.LastHeartbeat.Unix())
	assert.Equal(t, "9.9.9.9", device.IPAddress)

	logs := f.auditLogs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, store.HeartbeatSuccess, logs[0].Status)
}

func TestVerify_RemainingShrinksWithClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(10 * time.Hour)
	res, err := f.service.Verify(ctx, f.params())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(14*3600), res.RemainingSeconds)
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(48 * time.Hour)
	res, err := f.service.Verify(ctx, f.params())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "session expired", res.Message)

	// The stale expiry is reported so the client can show it.
	assert.Equal(t, f.device.ExpiresAt.Unix(), res.ExpiresAt.Unix())

	// An expired heartbeat must not refresh last-heartbeat.
	device, err := f.store.DeviceByBinding(ctx, f.app.ID, "tok-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, f.device.LastHeartbeat.Unix(), device.LastHeartbeat.Unix())

	logs := f.auditLogs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, store.HeartbeatExpired, logs[0].Status)
}

func TestVerify_UnknownBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"wrong token", func(p *Params) { p.Token = "tok-other" }},
		{"wrong device", func(p *Params) { p.DeviceID = "dev-other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := f.params()
			tt.mutate(&p)
			res, err := f.service.Verify(ctx, p)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, "device not authorized", res.Message)
		})
	}

	// Each unknown binding leaves an "invalid" audit record.
	logs := f.auditLogs(t)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, store.HeartbeatInvalid, l.Status)
	}
}

func TestVerify_UnknownApplicationLeavesNoAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.params()
	p.AppKey = "no-such-app"
	res, err := f.service.Verify(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "application unavailable", res.Message)

	logs, err := f.store.RecentHeartbeats(ctx, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, logs, "attempt never resolved to a device, no audit row")
}

func TestVerify_DisabledApplicationLeavesNoAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.app.IsActive = false
	require.NoError(t, f.store.UpdateApplication(ctx, f.app))

	res, err := f.service.Verify(ctx, f.params())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "application unavailable", res.Message)
	assert.Empty(t, f.auditLogs(t))
}

func TestVerify_DeactivatedDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetDeviceActive(ctx, f.device.ID, false))

	res, err := f.service.Verify(ctx, f.params())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "device deactivated", res.Message)
	assert.Empty(t, f.auditLogs(t))
}

func TestStatus_DoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(time.Hour)
	res, err := f.service.Status(ctx, f.params())
	require.NoError(t, err)
	assert.True(t, res.Authorized)
	assert.Equal(t, int64(23*3600), res.RemainingSeconds)
	assert.Equal(t, 0, res.RemainingDays, "less than a full day left")
	assert.Equal(t, f.device.LastHeartbeat.Unix(), res.LastHeartbeat.Unix())

	// Status is a pure read: no touch, no audit.
	device, err := f.store.DeviceByBinding(ctx, f.app.ID, "tok-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, f.device.LastHeartbeat.Unix(), device.LastHeartbeat.Unix())
	assert.Empty(t, f.auditLogs(t))
}

func TestStatus_Expired(t *testing.T) {
	f := newFixture(t)

	f.now = f.now.Add(72 * time.Hour)
	res, err := f.service.Status(context.Background(), f.params())
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.Equal(t, "session expired", res.Message)
	assert.Empty(t, f.auditLogs(t), "status never writes audit rows, even for expired sessions")
}
