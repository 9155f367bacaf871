package config

// Card type duration classes, in whole days. A card's duration is fixed
// by its type at creation time and never changes afterwards.
const (
	DurationDay       = 1
	DurationWeek      = 7
	DurationMonth     = 30
	DurationYear      = 365
	DurationPermanent = 36500 // 100 years
)

// Guard defaults. These mirror the zero-config behavior of the abuse
// guard; GuardConfig overrides them at startup.
const (
	DefaultMaxFailedAttempts = 10
	DefaultBlockWindowSecs   = 3600
	DefaultNonceTTLSecs      = 300
)

// Pagination bounds for administrative list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)
