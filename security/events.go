package security

// Event type constants for security audit logging.
const (
	// Throttling decisions

	// EventRateLimitExceeded is logged when a window or bucket limiter rejects a request
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventLockoutRejected is logged when a request is rejected because one of its scopes is locked out
	EventLockoutRejected = "lockout_rejected"

	// Authentication outcomes

	// EventAuthFailure is logged when an authentication failure is recorded against the request's scopes
	EventAuthFailure = "auth_failure"

	// EventLockoutTriggered is logged when a failure arms a new lockout on at least one scope
	EventLockoutTriggered = "lockout_triggered"

	// EventAuthSuccessReset is logged when a successful authentication clears failure history
	EventAuthSuccessReset = "auth_success_reset"

	// Maintenance

	// EventSweepCompleted is logged when a sweep removed expired entries
	EventSweepCompleted = "sweep_completed"
)
