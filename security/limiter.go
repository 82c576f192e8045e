package security

import "time"

// Admission is the outcome of a single limiter consultation.
type Admission struct {
	// Admitted reports whether the request was counted and may proceed
	Admitted bool

	// RetryAfter is how long the caller should wait before retrying.
	// Zero when Admitted is true.
	RetryAfter time.Duration
}

// Limiter is a request ceiling keyed by identity.
// TryAdmit performs the check and the recording atomically for the key.
type Limiter interface {
	// Name identifies the limiter tier in logs and metrics (e.g. "general", "auth")
	Name() string

	// TryAdmit checks the key against the ceiling and records the request when admitted
	TryAdmit(key string, now time.Time) Admission
}

// clampDuration returns d, or zero when d is negative (clock skew).
func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
