package authguard

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestThrottleError_Error(t *testing.T) {
	tests := []struct {
		name       string
		reason     string
		retryAfter time.Duration
		want       string
	}{
		{
			name:       "rate limited",
			reason:     ReasonRateLimited,
			retryAfter: 42 * time.Second,
			want:       "rate_limited: Too many requests. Please try again later. (retry after 42s)",
		},
		{
			name:       "locked out rounds up",
			reason:     ReasonLockedOut,
			retryAfter: 299*time.Second + time.Millisecond,
			want:       "locked_out: Too many failed attempts. Please try again later. (retry after 300s)",
		},
		{
			name:       "negative retry after",
			reason:     ReasonRateLimited,
			retryAfter: -time.Second,
			want:       "rate_limited: Too many requests. Please try again later. (retry after 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewThrottleError(tt.reason, tt.retryAfter)
			if got := e.Error(); got != tt.want {
				t.Errorf("ThrottleError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewThrottleError(t *testing.T) {
	e := NewThrottleError(ReasonLockedOut, 5*time.Minute)

	if e.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want %d", e.Status, http.StatusTooManyRequests)
	}
	if e.Reason != ReasonLockedOut {
		t.Errorf("Reason = %q, want %q", e.Reason, ReasonLockedOut)
	}
	if e.RetryAfterSeconds() != 300 {
		t.Errorf("RetryAfterSeconds() = %d, want 300", e.RetryAfterSeconds())
	}
}

func TestIsThrottled(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "throttle error", err: NewThrottleError(ReasonRateLimited, time.Second), want: true},
		{name: "wrapped", err: fmt.Errorf("login: %w", NewThrottleError(ReasonLockedOut, time.Second)), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsThrottled(tt.err); got != tt.want {
				t.Errorf("IsThrottled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	err := invalidConfig("sweep interval must be positive, got %s", -time.Second)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected error to wrap ErrInvalidConfig, got %v", err)
	}
	want := "invalid authguard configuration: sweep interval must be positive, got -1s"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
