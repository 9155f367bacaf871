package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/pkg/contracts/domain"
)

func TestActivate(t *testing.T) {
	var got domain.ActivateRequest
	var nonce string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/cards/activate", r.URL.Path)
		nonce = r.Header.Get("X-Nonce")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(domain.ActivateResponse{
			Success: true, Message: "activation successful", Token: "tok-1",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "app-key")
	resp, err := c.Activate(context.Background(), "AAAA-BBBB-CCCC-DDDD", "dev-1", "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "tok-1", resp.Token)

	assert.Equal(t, "AAAA-BBBB-CCCC-DDDD", got.CardKey)
	assert.NotEmpty(t, nonce, "every activation carries a fresh X-Nonce header")
}

func TestHeartbeat_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "app-key")
	_, err := c.Heartbeat(context.Background(), "tok-1", "dev-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestStatus_QueriesStatusPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/heartbeat/status", r.URL.Path)
		assert.Equal(t, "app-key", r.URL.Query().Get("app_key"))
		assert.Equal(t, "tok-1", r.URL.Query().Get("token"))
		assert.Equal(t, "dev-1", r.URL.Query().Get("device_id"))
		json.NewEncoder(w).Encode(domain.StatusResponse{Authorized: true, RemainingDays: 3})
	}))
	defer srv.Close()

	c := New(srv.URL, "app-key")
	resp, err := c.Status(context.Background(), "tok-1", "dev-1")
	require.NoError(t, err)
	assert.True(t, resp.Authorized)
	assert.Equal(t, 3, resp.RemainingDays)
}

func TestHeartbeatRunner_BeatsAndStops(t *testing.T) {
	var beats atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beats.Add(1)
		json.NewEncoder(w).Encode(domain.HeartbeatResponse{
			Success: true, RemainingSeconds: 100,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "app-key")
	runner := c.NewHeartbeatRunner("tok-1", "dev-1", 20*time.Millisecond)

	var callbacks atomic.Int32
	runner.OnBeat = func(resp *domain.HeartbeatResponse) { callbacks.Add(1) }

	runner.Start()
	time.Sleep(90 * time.Millisecond)
	runner.Stop()

	final := beats.Load()
	assert.GreaterOrEqual(t, final, int32(2), "immediate beat plus ticks")
	assert.Equal(t, final, callbacks.Load())

	// No beats after Stop.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, final, beats.Load())
}

func TestHeartbeatRunner_StopsOnExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.HeartbeatResponse{
			Success: false, Message: "session expired",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "app-key")
	runner := c.NewHeartbeatRunner("tok-1", "dev-1", 10*time.Millisecond)

	expired := make(chan *domain.HeartbeatResponse, 1)
	runner.OnExpired = func(resp *domain.HeartbeatResponse) { expired <- resp }

	runner.Start()
	select {
	case resp := <-expired:
		assert.Equal(t, "session expired", resp.Message)
	case <-time.After(time.Second):
		t.Fatal("OnExpired never fired")
	}
	runner.Stop()
}

func TestHeartbeatRunner_SurvivesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(domain.HeartbeatResponse{Success: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "app-key")
	runner := c.NewHeartbeatRunner("tok-1", "dev-1", 10*time.Millisecond)

	errs := make(chan error, 1)
	beats := make(chan struct{}, 1)
	runner.OnError = func(err error) {
		select {
		case errs <- err:
		default:
		}
	}
	runner.OnBeat = func(resp *domain.HeartbeatResponse) {
		select {
		case beats <- struct{}{}:
		default:
		}
	}

	runner.Start()
	defer runner.Stop()

	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("OnError never fired")
	}
	// The loop kept going after the error.
	select {
	case <-beats:
	case <-time.After(time.Second):
		t.Fatal("no successful beat after transport error")
	}
}
