// Package client is the Go SDK for the activation protocol: card
// activation, session verification and a managed periodic heartbeat.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"keygate/pkg/contracts/domain"
)

// Client talks to a keygate server.
type Client struct {
	baseURL string
	appKey  string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the given server and application key.
func New(baseURL, appKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		appKey:  appKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate consumes a card for the given device. A fresh X-Nonce
// header is attached so the server can reject replays.
func (c *Client) Activate(ctx context.Context, cardKey, deviceID, extraInfo string) (*domain.ActivateResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/cards/activate", domain.ActivateRequest{
		CardKey:   cardKey,
		DeviceID:  deviceID,
		ExtraInfo: extraInfo,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Nonce", uuid.New().String())

	var resp domain.ActivateResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat verifies the session and records the beat server-side.
func (c *Client) Heartbeat(ctx context.Context, token, deviceID string) (*domain.HeartbeatResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/heartbeat", domain.HeartbeatRequest{
		AppKey:   c.appKey,
		Token:    token,
		DeviceID: deviceID,
	})
	if err != nil {
		return nil, err
	}
	var resp domain.HeartbeatResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status polls the session state without recording anything.
func (c *Client) Status(ctx context.Context, token, deviceID string) (*domain.StatusResponse, error) {
	q := url.Values{}
	q.Set("app_key", c.appKey)
	q.Set("token", token)
	q.Set("device_id", deviceID)
	req, err := c.newRequest(ctx, http.MethodGet, "/api/heartbeat/status?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp domain.StatusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckCard reports a card's state without consuming it.
func (c *Client) CheckCard(ctx context.Context, cardKey string) (*domain.CheckCardResponse, error) {
	q := url.Values{}
	q.Set("card_key", cardKey)
	req, err := c.newRequest(ctx, http.MethodPost, "/api/cards/check?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp domain.CheckCardResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	// Domain rejections arrive as 200 with success=false; anything else
	// non-2xx is a transport failure.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("client: %s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
