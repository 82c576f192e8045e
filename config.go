package authguard

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/authguard/instrumentation"
	"github.com/giantswarm/authguard/security"
)

const (
	// DefaultGeneralMaxRequests is the general ceiling per address and window
	DefaultGeneralMaxRequests = 100

	// DefaultAuthMaxRequests is the auth ceiling per address and window
	DefaultAuthMaxRequests = 10

	// DefaultLimitWindow is the default sliding window for both ceilings
	DefaultLimitWindow = 15 * time.Minute

	// DefaultMaxIdentifierBodyBytes bounds how much of a request body is
	// inspected for a login identifier
	DefaultMaxIdentifierBodyBytes = 64 << 10
)

// Outcome is how an Auth response is counted
type Outcome int

const (
	// OutcomeIgnore leaves failure history untouched (e.g. 400, 5xx)
	OutcomeIgnore Outcome = iota
	// OutcomeSuccess clears failure history on every scope
	OutcomeSuccess
	// OutcomeFailure records a failure on every scope
	OutcomeFailure
)

// OutcomeClassifier maps the status written by an Auth handler to an Outcome
type OutcomeClassifier func(status int) Outcome

// IdentifierExtractor returns the login identifier carried by r, or "".
// It must leave r.Body readable for the downstream handler.
type IdentifierExtractor func(r *http.Request) string

// Config holds the guard configuration.
// All values are read once by New; changing them afterwards has no effect.
type Config struct {
	// General is the ceiling applied to every request, per client address.
	// Default: 100 requests per 15 minutes.
	General WindowLimit

	// Auth is the stricter ceiling applied to Auth endpoints, per client address.
	// Default: 10 requests per 15 minutes.
	Auth WindowLimit

	// Lockout configures failure tracking and escalating lockouts.
	// Default: lockout after 5 failures, 5 minutes doubling up to 24 hours.
	Lockout security.LockoutConfig

	// IdentifierRate adds a token bucket per login identifier on Auth
	// endpoints. Disabled unless PerMinute is set.
	IdentifierRate IdentifierRateConfig

	// MaxTrackedKeys bounds the keys each window counter tracks (LRU eviction).
	// Default: 100000. Set to -1 for unlimited.
	MaxTrackedKeys int

	// SweepInterval is how often expired state is reclaimed.
	// Default: 15 minutes.
	SweepInterval time.Duration

	// DisableBackgroundSweep stops New from starting the periodic sweep.
	// Callers then reclaim state with Guard.Sweep.
	DisableBackgroundSweep bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of the server
	TrustedProxyCount int

	// EnableAuditLogging writes security audit events through the logger.
	// Identifiers are hashed before they are logged.
	EnableAuditLogging bool

	// ExemptAddresses bypass throttling entirely (e.g. health checkers).
	// Entries must be exact client addresses as seen by the guard.
	ExemptAddresses []string

	// OutcomeClassifier decides how Auth responses are counted.
	// Default: 2xx success, 401/403 failure, everything else ignored.
	OutcomeClassifier OutcomeClassifier

	// IdentifierExtractor finds the login identifier of Auth requests.
	// Default: BodyIdentifierExtractor(MaxIdentifierBodyBytes).
	IdentifierExtractor IdentifierExtractor

	// MaxIdentifierBodyBytes bounds the default identifier extractor.
	// Default: 64 KiB.
	MaxIdentifierBodyBytes int64

	// Instrumentation configures OpenTelemetry metrics and tracing.
	// Disabled by default.
	Instrumentation instrumentation.Config

	// Clock is the time source. Default: the system clock.
	Clock security.Clock
}

// WindowLimit is a sliding-window request ceiling
type WindowLimit struct {
	// MaxRequests admitted per key within Window
	MaxRequests int

	// Window is the sliding window length
	Window time.Duration
}

// IdentifierRateConfig configures the per-identifier token bucket
type IdentifierRateConfig struct {
	// PerMinute is the refill rate. Zero disables the stage.
	PerMinute int

	// Burst is the bucket size. Default: PerMinute.
	Burst int

	// MaxEntries bounds tracked identifiers. Default: 10000.
	MaxEntries int
}

// Enabled reports whether the identifier stage is configured
func (c IdentifierRateConfig) Enabled() bool {
	return c.PerMinute > 0
}

// DefaultOutcomeClassifier counts 2xx as success and 401/403 as failure.
// Other statuses (validation errors, server errors) do not count either way.
func DefaultOutcomeClassifier(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return OutcomeFailure
	default:
		return OutcomeIgnore
	}
}

// applyDefaults fills zero values with defaults.
// Explicit invalid values are left for validate to reject.
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config.General.MaxRequests == 0 {
		config.General.MaxRequests = DefaultGeneralMaxRequests
	}
	if config.General.Window == 0 {
		config.General.Window = DefaultLimitWindow
	}
	if config.Auth.MaxRequests == 0 {
		config.Auth.MaxRequests = DefaultAuthMaxRequests
	}
	if config.Auth.Window == 0 {
		config.Auth.Window = DefaultLimitWindow
	}

	if config.Lockout.MaxConsecutiveFailures == 0 {
		config.Lockout.MaxConsecutiveFailures = security.DefaultMaxConsecutiveFailures
	}
	if config.Lockout.InitialBlockDuration == 0 {
		config.Lockout.InitialBlockDuration = security.DefaultInitialBlockDuration
	}
	if config.Lockout.MaxBlockDuration == 0 {
		config.Lockout.MaxBlockDuration = max(security.DefaultMaxBlockDuration, config.Lockout.InitialBlockDuration)
	}
	if config.Lockout.FailureWindow == 0 {
		config.Lockout.FailureWindow = security.DefaultFailureWindow
	}

	if config.IdentifierRate.Enabled() {
		if config.IdentifierRate.Burst == 0 {
			config.IdentifierRate.Burst = config.IdentifierRate.PerMinute
		}
		if config.IdentifierRate.MaxEntries == 0 {
			config.IdentifierRate.MaxEntries = security.DefaultBucketMaxEntries
		}
	}

	switch {
	case config.MaxTrackedKeys == 0:
		config.MaxTrackedKeys = security.DefaultMaxWindowEntries
	case config.MaxTrackedKeys < 0:
		config.MaxTrackedKeys = 0
		logger.Warn("Window counters are unbounded; memory grows with distinct client addresses")
	}

	if config.SweepInterval == 0 {
		config.SweepInterval = security.DefaultSweepInterval
	}
	if config.MaxIdentifierBodyBytes == 0 {
		config.MaxIdentifierBodyBytes = DefaultMaxIdentifierBodyBytes
	}
	if config.OutcomeClassifier == nil {
		config.OutcomeClassifier = DefaultOutcomeClassifier
	}
	if config.IdentifierExtractor == nil {
		config.IdentifierExtractor = BodyIdentifierExtractor(config.MaxIdentifierBodyBytes)
	}
	if config.Clock == nil {
		config.Clock = security.SystemClock{}
	}

	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client addresses; ensure a trusted reverse proxy sets them",
			"trusted_proxy_count", config.TrustedProxyCount)
	}

	return config
}

// validate rejects configurations the engine cannot honor
func (c *Config) validate() error {
	if c.General.MaxRequests < 0 || c.General.Window < 0 {
		return invalidConfig("general limit must be positive, got %d per %s", c.General.MaxRequests, c.General.Window)
	}
	if c.Auth.MaxRequests < 0 || c.Auth.Window < 0 {
		return invalidConfig("auth limit must be positive, got %d per %s", c.Auth.MaxRequests, c.Auth.Window)
	}
	if c.Lockout.MaxConsecutiveFailures < 0 {
		return invalidConfig("lockout threshold must be positive, got %d", c.Lockout.MaxConsecutiveFailures)
	}
	if c.Lockout.InitialBlockDuration < 0 || c.Lockout.FailureWindow < 0 {
		return invalidConfig("lockout durations must be positive")
	}
	if c.Lockout.MaxBlockDuration < c.Lockout.InitialBlockDuration {
		return invalidConfig("max block duration %s is shorter than initial block duration %s",
			c.Lockout.MaxBlockDuration, c.Lockout.InitialBlockDuration)
	}
	if c.IdentifierRate.PerMinute < 0 || c.IdentifierRate.Burst < 0 || c.IdentifierRate.MaxEntries < 0 {
		return invalidConfig("identifier rate values must not be negative")
	}
	if c.SweepInterval < 0 {
		return invalidConfig("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.TrustedProxyCount < 0 {
		return invalidConfig("trusted proxy count must not be negative, got %d", c.TrustedProxyCount)
	}
	if c.MaxIdentifierBodyBytes < 0 {
		return invalidConfig("max identifier body bytes must not be negative")
	}
	return nil
}
