package constants

import "time"

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	// Torn allows 100 requests per key per rolling minute.
	MaxRequestsPerWindow = 100
	RateLimitWindow      = 60 * time.Second

	// Backoff after the API reports error 5 (too many requests).
	RateLimitBackoff = 60 * time.Second

	// Delay between crime feed pages to stay under the global budget.
	PageDelay = 1100 * time.Millisecond

	// Delay between credential probes and notification sends.
	ProbeDelay = 500 * time.Millisecond

	// Offset increment when the next-page link carries no offset.
	DefaultPageIncrement = 100
)

const (
	// A current-state crime row is refreshed even without semantic changes
	// once it is older than this, so last_updated stays usable as a
	// staleness signal.
	CrimeHeartbeat = 300 * time.Second
)

const (
	DefaultPruneAfterDays   = 60
	DefaultLeaverThreshold  = 2
	DefaultLeaverWindowDays = 30
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)
