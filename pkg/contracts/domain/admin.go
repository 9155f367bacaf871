package domain

// LoginRequest authenticates an administrative account.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required,min=1,max=128"`
}

// LoginResponse carries the bearer token for subsequent admin calls.
type LoginResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ChangePasswordRequest rotates the caller's own password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

// CreateApplicationRequest registers a new tenant application.
type CreateApplicationRequest struct {
	Name              string `json:"name" validate:"required,min=1,max=64"`
	Description       string `json:"description,omitempty" validate:"max=512"`
	MaxDevices        int    `json:"max_devices" validate:"min=0"`
	HeartbeatInterval int    `json:"heartbeat_interval" validate:"min=0"`
}

// UpdateApplicationRequest edits mutable application fields. The app
// key is immutable; the secret rotates through its own endpoint.
type UpdateApplicationRequest struct {
	Name              string `json:"name" validate:"required,min=1,max=64"`
	Description       string `json:"description,omitempty" validate:"max=512"`
	MaxDevices        int    `json:"max_devices" validate:"min=0"`
	HeartbeatInterval int    `json:"heartbeat_interval" validate:"min=0"`
	IsActive          bool   `json:"is_active"`
}

// ApplicationResponse is the admin view of an application. The secret
// is only ever disclosed on create and rotate.
type ApplicationResponse struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	AppKey            string `json:"app_key"`
	AppSecret         string `json:"app_secret,omitempty"`
	OwnerID           int64  `json:"owner_id"`
	Description       string `json:"description,omitempty"`
	MaxDevices        int    `json:"max_devices"`
	HeartbeatInterval int    `json:"heartbeat_interval"`
	IsActive          bool   `json:"is_active"`
	CreatedAt         int64  `json:"created_at"`
}

// GenerateCardsRequest mints a batch of cards.
type GenerateCardsRequest struct {
	ApplicationID int64   `json:"application_id" validate:"required,min=1"`
	CardType      string  `json:"card_type" validate:"required,oneof=day week month year permanent"`
	Count         int     `json:"count" validate:"required,min=1,max=1000"`
	Price         float64 `json:"price" validate:"min=0"`
}

// CardResponse is the admin view of a card.
type CardResponse struct {
	ID            int64   `json:"id"`
	CardKey       string  `json:"card_key"`
	CardType      string  `json:"card_type"`
	DurationDays  int     `json:"duration_days"`
	ApplicationID int64   `json:"application_id"`
	CreatorID     int64   `json:"creator_id"`
	Price         float64 `json:"price"`
	IsUsed        bool    `json:"is_used"`
	UsedBy        string  `json:"used_by,omitempty"`
	UsedAt        int64   `json:"used_at,omitempty"`
	ExpiresAt     int64   `json:"expires_at,omitempty"`
	CreatedAt     int64   `json:"created_at"`
}

// DeviceResponse is the admin view of a device session.
type DeviceResponse struct {
	ID            int64  `json:"id"`
	DeviceID      string `json:"device_id"`
	ApplicationID int64  `json:"application_id"`
	CardKey       string `json:"card_key"`
	ExpiresAt     int64  `json:"expires_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	IPAddress     string `json:"ip_address,omitempty"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     int64  `json:"created_at"`
}

// CreateAgentRequest adds a direct child to the caller's agent tree.
type CreateAgentRequest struct {
	Username string  `json:"username" validate:"required,min=1,max=64"`
	Password string  `json:"password" validate:"required,min=8,max=128"`
	Balance  float64 `json:"balance" validate:"min=0"`
	Discount float64 `json:"discount" validate:"min=0,max=1"`
}

// AgentResponse is the admin view of an agent account.
type AgentResponse struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	Role      string  `json:"role"`
	ParentID  int64   `json:"parent_id"`
	Balance   float64 `json:"balance"`
	Discount  float64 `json:"discount"`
	IsActive  bool    `json:"is_active"`
	CreatedAt int64   `json:"created_at"`
}

// RechargeRequest adjusts a direct child's balance.
type RechargeRequest struct {
	Amount float64 `json:"amount" validate:"required"`
	Remark string  `json:"remark,omitempty" validate:"max=256"`
}

// RechargeResponse reports the balance movement.
type RechargeResponse struct {
	UserID        int64   `json:"user_id"`
	Amount        float64 `json:"amount"`
	BeforeBalance float64 `json:"before_balance"`
	AfterBalance  float64 `json:"after_balance"`
	CreatedAt     int64   `json:"created_at"`
}

// HeartbeatLogResponse is one audit entry.
type HeartbeatLogResponse struct {
	ID            int64  `json:"id"`
	DeviceID      string `json:"device_id"`
	ApplicationID int64  `json:"application_id"`
	IPAddress     string `json:"ip_address,omitempty"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

// PagedResponse wraps a page of items with the total count.
type PagedResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
