package authguard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/giantswarm/authguard/security"
)

// Rejection reasons carried by Decision.Reason and ThrottleError.Reason
const (
	ReasonLockedOut   = "locked_out"
	ReasonRateLimited = "rate_limited"
)

// ErrInvalidConfig is wrapped by every configuration error returned from New
// and LoadConfigFromEnv.
var ErrInvalidConfig = errors.New("invalid authguard configuration")

// ThrottleError represents a throttling rejection.
// A rejection is a policy decision rather than a failure, but callers that
// embed the guard outside net/http can propagate it as an error.
type ThrottleError struct {
	Status     int           // HTTP status code (always 429)
	Reason     string        // ReasonLockedOut or ReasonRateLimited
	Message    string        // Human-readable message safe to show to clients
	RetryAfter time.Duration // How long the client should wait
}

// Error implements the error interface
func (e *ThrottleError) Error() string {
	return fmt.Sprintf("%s: %s (retry after %ds)", e.Reason, e.Message, e.RetryAfterSeconds())
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds
func (e *ThrottleError) RetryAfterSeconds() int {
	return security.RemainingSeconds(e.RetryAfter)
}

// NewThrottleError creates a throttling error with the client message for reason
func NewThrottleError(reason string, retryAfter time.Duration) *ThrottleError {
	return &ThrottleError{
		Status:     http.StatusTooManyRequests,
		Reason:     reason,
		Message:    rejectionMessage(reason),
		RetryAfter: retryAfter,
	}
}

// IsThrottled reports whether err is or wraps a *ThrottleError
func IsThrottled(err error) bool {
	var te *ThrottleError
	return errors.As(err, &te)
}

func rejectionMessage(reason string) string {
	if reason == ReasonLockedOut {
		return "Too many failed attempts. Please try again later."
	}
	return "Too many requests. Please try again later."
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
