package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
)

// requestIDContextKey is the context key for storing request IDs
type requestIDContextKey struct{}

// RequestIDHeader is the HTTP header for request IDs
const RequestIDHeader = "X-Request-ID"

// requestIDPattern accepts alphanumeric, hyphens and underscores (1-128 chars)
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateRequestID returns a 22-character base64url ID from 16 random bytes.
// It panics if the system random number generator fails.
func GenerateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return ""
}

// EnsureRequestID returns the request carrying a request ID in its context.
// A valid upstream X-Request-ID is kept; otherwise a new one is generated.
// Upstream values are validated to prevent header injection.
func EnsureRequestID(r *http.Request) (*http.Request, string) {
	if requestID := GetRequestID(r.Context()); requestID != "" {
		return r, requestID
	}

	requestID := r.Header.Get(RequestIDHeader)
	if !requestIDPattern.MatchString(requestID) {
		requestID = GenerateRequestID()
	}
	return r.WithContext(WithRequestID(r.Context(), requestID)), requestID
}
