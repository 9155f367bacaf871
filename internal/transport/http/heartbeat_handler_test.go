package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"keygate/internal/heartbeat"
	"keygate/pkg/contracts/domain"
)

type mockHeartbeatService struct {
	mock.Mock
}

func (m *mockHeartbeatService) Verify(ctx context.Context, p heartbeat.Params) (*heartbeat.Result, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*heartbeat.Result), args.Error(1)
}

func (m *mockHeartbeatService) Status(ctx context.Context, p heartbeat.Params) (*heartbeat.StatusResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*heartbeat.StatusResult), args.Error(1)
}

func TestHeartbeatEndpoint_Success(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := new(mockHeartbeatService)
	svc.On("Verify", mock.Anything, heartbeat.Params{
		AppKey:   "app-key",
		Token:    "tok-1",
		DeviceID: "dev-1",
		ClientIP: "192.0.2.1",
	}).Return(&heartbeat.Result{
		Success:          true,
		Message:          "ok",
		ExpiresAt:        now.Add(24 * time.Hour),
		RemainingSeconds: 86400,
		ServerTime:       now,
	}, nil)

	handler := NewHeartbeatHandler(svc, testLogger())
	rec := postJSON(t, handler.Routes(), "/", domain.HeartbeatRequest{
		AppKey:   "app-key",
		Token:    "tok-1",
		DeviceID: "dev-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.HeartbeatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(86400), resp.RemainingSeconds)
	assert.Equal(t, now.Unix(), resp.ServerTime)
	svc.AssertExpectations(t)
}

func TestHeartbeatEndpoint_Expired(t *testing.T) {
	now := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	svc := new(mockHeartbeatService)
	svc.On("Verify", mock.Anything, mock.Anything).Return(&heartbeat.Result{
		Success:    false,
		Message:    "session expired",
		ExpiresAt:  now.Add(-24 * time.Hour),
		ServerTime: now,
	}, nil)

	handler := NewHeartbeatHandler(svc, testLogger())
	rec := postJSON(t, handler.Routes(), "/", domain.HeartbeatRequest{
		AppKey:   "app-key",
		Token:    "tok-1",
		DeviceID: "dev-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.HeartbeatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "session expired", resp.Message)
	assert.Equal(t, now.Add(-24*time.Hour).Unix(), resp.ExpiresAt)
	assert.Zero(t, resp.RemainingSeconds)
}

func TestHeartbeatEndpoint_Validation(t *testing.T) {
	svc := new(mockHeartbeatService)
	handler := NewHeartbeatHandler(svc, testLogger())

	rec := postJSON(t, handler.Routes(), "/", domain.HeartbeatRequest{
		AppKey: "app-key", // token and device_id missing
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Verify")
}

func TestStatusEndpoint(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := new(mockHeartbeatService)
	svc.On("Status", mock.Anything, heartbeat.Params{
		AppKey:   "app-key",
		Token:    "tok-1",
		DeviceID: "dev-1",
		ClientIP: "192.0.2.1",
	}).Return(&heartbeat.StatusResult{
		Authorized:       true,
		Message:          "ok",
		ExpiresAt:        now.Add(25 * time.Hour),
		RemainingDays:    1,
		RemainingSeconds: 25 * 3600,
		LastHeartbeat:    now.Add(-time.Minute),
	}, nil)

	handler := NewHeartbeatHandler(svc, testLogger())
	req := httptest.NewRequest(http.MethodGet,
		"/status?app_key=app-key&token=tok-1&device_id=dev-1", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Authorized)
	assert.Equal(t, 1, resp.RemainingDays)
	assert.Equal(t, int64(25*3600), resp.RemainingSeconds)
	assert.Equal(t, now.Add(-time.Minute).Unix(), resp.LastHeartbeat)
	svc.AssertNotCalled(t, "Verify")
}

func TestStatusEndpoint_MissingParams(t *testing.T) {
	svc := new(mockHeartbeatService)
	handler := NewHeartbeatHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/status?app_key=app-key", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Status")
}
