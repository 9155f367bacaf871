package store

import "time"

// Role classifies administrative users.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// CardType is the duration class fixed at card creation.
type CardType string

const (
	CardDay       CardType = "day"
	CardWeek      CardType = "week"
	CardMonth     CardType = "month"
	CardYear      CardType = "year"
	CardPermanent CardType = "permanent"
)

// HeartbeatStatus tags an audit record outcome.
type HeartbeatStatus string

const (
	HeartbeatSuccess HeartbeatStatus = "success"
	HeartbeatExpired HeartbeatStatus = "expired"
	HeartbeatInvalid HeartbeatStatus = "invalid"
)

// User is an administrative account: the admin root or an agent in the
// reseller tree. ParentID links an agent to its superior; zero means
// top level.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	ParentID     int64
	Balance      float64
	Discount     float64
	IsActive     bool
	CreatedAt    time.Time
}

// Application is the tenant boundary. AppKey is public and immutable;
// AppSecret is rotatable.
type Application struct {
	ID                int64
	Name              string
	AppKey            string
	AppSecret         string
	OwnerID           int64
	Description       string
	MaxDevices        int
	HeartbeatInterval int
	IsActive          bool
	CreatedAt         time.Time
}

// Card is a single-use activation code. IsUsed is monotonic; ExpiresAt
// is set exactly once, at consumption.
type Card struct {
	ID            int64
	CardKey       string
	Type          CardType
	DurationDays  int
	ApplicationID int64
	CreatorID     int64
	Price         float64
	IsUsed        bool
	UsedBy        string
	UsedAt        time.Time
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Device binds a client-reported device identifier to an issued
// session token and its expiry. ExpiresAt is authoritative for
// authorization regardless of IsActive.
type Device struct {
	ID            int64
	DeviceID      string
	Token         string
	ApplicationID int64
	CardKey       string
	ExpiresAt     time.Time
	LastHeartbeat time.Time
	IPAddress     string
	ExtraInfo     string
	IsActive      bool
	CreatedAt     time.Time
}

// HeartbeatLog is an append-only audit entry, one per verification
// attempt that reaches device resolution.
type HeartbeatLog struct {
	ID            int64
	DeviceID      string
	ApplicationID int64
	IPAddress     string
	Status        HeartbeatStatus
	Message       string
	CreatedAt     time.Time
}

// RechargeLog is an append-only record of a balance change.
type RechargeLog struct {
	ID            int64
	UserID        int64
	Amount        float64
	BeforeBalance float64
	AfterBalance  float64
	Remark        string
	OperatorID    int64
	CreatedAt     time.Time
}

// CardFilter narrows card listings and exports.
type CardFilter struct {
	ApplicationID int64
	CreatorID     int64 // zero means all creators (admin view)
	IsUsed        *bool
	Type          CardType
	Keyword       string
}

// Page is a pagination request. Normalize clamps it to sane bounds.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page to [1,∞) and size to [1,max].
func (p Page) Normalize(defaultSize, maxSize int) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultSize
	}
	if p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}
