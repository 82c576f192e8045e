package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/authguard/internal/util"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Enabled reports whether events are written
func (a *Auditor) Enabled() bool {
	return a != nil && a.enabled
}

// Event represents a security audit event
type Event struct {
	Type       string
	Identifier string
	IPAddress  string
	RequestID  string
	Details    map[string]any
	Timestamp  time.Time
}

// LogEvent logs a security event. The identifier is hashed.
func (a *Auditor) LogEvent(event Event) {
	if !a.Enabled() {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"identifier_hash", hashForLogging(event.Identifier),
		"ip_address", event.IPAddress,
		"address_class", addressClass(event.IPAddress),
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogRateLimitExceeded logs a limiter rejection
func (a *Auditor) LogRateLimitExceeded(ipAddress, identifier, requestID, limiter string, retryAfter time.Duration) {
	a.LogEvent(Event{
		Type:       EventRateLimitExceeded,
		Identifier: identifier,
		IPAddress:  ipAddress,
		RequestID:  requestID,
		Details: map[string]any{
			"limiter":     limiter,
			"retry_after": RemainingSeconds(retryAfter),
		},
	})
}

// LogLockoutRejected logs a request rejected by an active lockout
func (a *Auditor) LogLockoutRejected(ipAddress, identifier, requestID string, remaining time.Duration) {
	a.LogEvent(Event{
		Type:       EventLockoutRejected,
		Identifier: identifier,
		IPAddress:  ipAddress,
		RequestID:  requestID,
		Details: map[string]any{
			"retry_after": RemainingSeconds(remaining),
		},
	})
}

// LogAuthFailure logs an authentication failure fanned out to scopes
func (a *Auditor) LogAuthFailure(ipAddress, identifier, requestID string, scopes int) {
	a.LogEvent(Event{
		Type:       EventAuthFailure,
		Identifier: identifier,
		IPAddress:  ipAddress,
		RequestID:  requestID,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogLockoutTriggered logs a failure that armed new lockouts
func (a *Auditor) LogLockoutTriggered(ipAddress, identifier, requestID string, armedScopes int) {
	a.LogEvent(Event{
		Type:       EventLockoutTriggered,
		Identifier: identifier,
		IPAddress:  ipAddress,
		RequestID:  requestID,
		Details: map[string]any{
			"armed_scopes": armedScopes,
		},
	})
}

// LogAuthSuccessReset logs a success that cleared failure history
func (a *Auditor) LogAuthSuccessReset(ipAddress, identifier, requestID string) {
	a.LogEvent(Event{
		Type:       EventAuthSuccessReset,
		Identifier: identifier,
		IPAddress:  ipAddress,
		RequestID:  requestID,
	})
}

// LogSweepCompleted logs a sweep that removed entries from a tracker
func (a *Auditor) LogSweepCompleted(target string, removed int) {
	a.LogEvent(Event{
		Type: EventSweepCompleted,
		Details: map[string]any{
			"target":  target,
			"removed": removed,
		},
	})
}

// addressClass labels an event address; events without one get "none"
func addressClass(address string) string {
	if address == "" {
		return "none"
	}
	return util.ClassifyAddress(address).String()
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
