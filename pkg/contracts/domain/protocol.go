// Package domain defines the wire types of the activation protocol.
// Field names are the protocol; renaming one breaks every deployed
// client.
package domain

// ActivateRequest is the card activation call. The anti-replay nonce
// travels in the X-Nonce header, not the body.
type ActivateRequest struct {
	CardKey   string `json:"card_key" validate:"required,min=16,max=32"`
	DeviceID  string `json:"device_id" validate:"required,min=1,max=128"`
	ExtraInfo string `json:"extra_info,omitempty" validate:"max=512"`
}

// ActivateResponse is the activation outcome. Success=false carries a
// human-readable reason; HTTP status stays 200 for domain rejections so
// clients can distinguish them from transport failures.
type ActivateResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Token         string `json:"token,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	RemainingDays int    `json:"remaining_days,omitempty"`
}

// HeartbeatRequest identifies a device session for verification.
type HeartbeatRequest struct {
	AppKey   string `json:"app_key" validate:"required"`
	Token    string `json:"token" validate:"required"`
	DeviceID string `json:"device_id" validate:"required,min=1,max=128"`
}

// HeartbeatResponse is the verification outcome. ServerTime lets
// clients detect local clock skew.
type HeartbeatResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	ExpiresAt        int64  `json:"expires_at,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds,omitempty"`
	ServerTime       int64  `json:"server_time"`
}

// StatusResponse answers the read-only session poll. Unlike the
// heartbeat it carries the authorized flag and the last recorded beat.
type StatusResponse struct {
	Authorized       bool   `json:"authorized"`
	Message          string `json:"message"`
	ExpiresAt        int64  `json:"expires_at,omitempty"`
	RemainingDays    int    `json:"remaining_days,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds,omitempty"`
	LastHeartbeat    int64  `json:"last_heartbeat,omitempty"`
}

// CheckCardResponse projects a card's state without mutating it. The
// card key arrives as the card_key query parameter.
type CheckCardResponse struct {
	Valid         bool   `json:"valid"`
	IsUsed        bool   `json:"is_used"`
	CardType      string `json:"card_type,omitempty"`
	DurationDays  int    `json:"duration_days,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	RemainingDays int    `json:"remaining_days,omitempty"`
	Message       string `json:"message"`
}
