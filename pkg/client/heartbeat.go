package client

import (
	"context"
	"sync"
	"time"

	"keygate/pkg/contracts/domain"
)

// HeartbeatRunner drives a periodic heartbeat for one device session.
// Start launches the loop; Stop cancels it and waits for it to drain.
// A runner is single-use.
type HeartbeatRunner struct {
	client   *Client
	token    string
	deviceID string
	interval time.Duration

	// OnBeat fires after every successful verification.
	OnBeat func(resp *domain.HeartbeatResponse)
	// OnExpired fires once when the server reports the session expired,
	// after which the loop stops on its own.
	OnExpired func(resp *domain.HeartbeatResponse)
	// OnError fires on transport failures. The loop keeps going; a
	// flaky network must not kill the session.
	OnError func(err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatRunner creates a runner beating at the given interval.
func (c *Client) NewHeartbeatRunner(token, deviceID string, interval time.Duration) *HeartbeatRunner {
	return &HeartbeatRunner{
		client:   c,
		token:    token,
		deviceID: deviceID,
		interval: interval,
	}
}

// Start launches the heartbeat loop. Calling Start twice is a no-op.
func (r *HeartbeatRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop cancels the loop and blocks until it has exited. Safe to call
// multiple times and before Start.
func (r *HeartbeatRunner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *HeartbeatRunner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// First beat immediately so a dead session surfaces at startup, not
	// one interval later.
	if !r.beat(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.beat(ctx) {
				return
			}
		}
	}
}

// beat performs one verification and reports whether the loop should
// continue.
func (r *HeartbeatRunner) beat(ctx context.Context) bool {
	resp, err := r.client.Heartbeat(ctx, r.token, r.deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if r.OnError != nil {
			r.OnError(err)
		}
		return true
	}

	if resp.Success {
		if r.OnBeat != nil {
			r.OnBeat(resp)
		}
		return true
	}

	if r.OnExpired != nil {
		r.OnExpired(resp)
	}
	return false
}
