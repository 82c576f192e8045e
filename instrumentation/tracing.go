package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// SECURITY WARNING: Never put raw login identifiers into spans. Record the
// number of scopes or a hash instead.
const (
	// Decision attributes
	AttrDecisionAllowed = "authguard.decision.allowed"
	AttrDecisionReason  = "authguard.decision.reason"
	AttrLimiter         = "authguard.limiter"
	AttrRetryAfter      = "authguard.retry_after_seconds"
	AttrEndpointClass   = "authguard.endpoint_class"
	AttrScopeCount      = "authguard.scope_count"

	// Outcome attributes
	AttrAuthOutcome   = "authguard.auth.outcome"
	AttrLockoutsArmed = "authguard.lockouts_armed"

	// Security attributes
	AttrClientIP  = "security.client_ip"
	AttrRequestID = "security.request_id"

	// HTTP attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddDecisionAttributes adds the throttling decision to a span (nil-safe).
// A rejection is not a span error: it is the expected policy outcome.
func AddDecisionAttributes(span trace.Span, allowed bool, reason, limiter string, retryAfterSeconds int) {
	SetSpanAttributes(span, attribute.Bool(AttrDecisionAllowed, allowed))
	if reason != "" {
		SetSpanAttributes(span, attribute.String(AttrDecisionReason, reason))
	}
	if limiter != "" {
		SetSpanAttributes(span, attribute.String(AttrLimiter, limiter))
	}
	if !allowed {
		SetSpanAttributes(span, attribute.Int(AttrRetryAfter, retryAfterSeconds))
	}
}
