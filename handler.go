package authguard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authguard/instrumentation"
	"github.com/giantswarm/authguard/security"
)

// Handler is a thin HTTP adapter for the Guard.
// It resolves the request identity, asks the Guard for a decision and, for
// Auth endpoints, reports the outcome written by the protected handler.
type Handler struct {
	guard  *Guard
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(guard *Guard, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		guard:  guard,
		logger: logger,
		tracer: guard.Instrumentation().Tracer("http"),
	}
}

// rejectionResponse is the JSON body of a 429 response
type rejectionResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Protect is middleware that throttles next according to class.
// Rejected requests never reach next.
func (h *Handler) Protect(class EndpointClass, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, requestID := security.EnsureRequestID(r)
		w.Header().Set(security.RequestIDHeader, requestID)

		ctx, span := h.tracer.Start(r.Context(), "authguard.http",
			trace.WithAttributes(
				attribute.String(instrumentation.AttrHTTPMethod, r.Method),
				attribute.String(instrumentation.AttrEndpointClass, class.String()),
				attribute.String(instrumentation.AttrRequestID, requestID),
			))
		defer span.End()
		r = r.WithContext(ctx)

		id := h.identify(r, class)

		decision := h.guard.Check(ctx, id, class)
		if !decision.Allowed {
			h.writeRejection(w, decision)
			instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrHTTPStatusCode, http.StatusTooManyRequests))
			return
		}

		if class != Auth || decision.Exempt {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.Status()
		instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrHTTPStatusCode, status))

		switch h.guard.config.OutcomeClassifier(status) {
		case OutcomeSuccess:
			h.guard.OnOutcome(ctx, id, class, true)
		case OutcomeFailure:
			h.guard.OnOutcome(ctx, id, class, false)
		}
	})
}

// ProtectFunc is Protect for handler functions
func (h *Handler) ProtectFunc(class EndpointClass, next http.HandlerFunc) http.Handler {
	return h.Protect(class, next)
}

// identify resolves the request identity. The identifier is only extracted
// for Auth requests, since general endpoints are keyed by address alone.
func (h *Handler) identify(r *http.Request, class EndpointClass) Identity {
	cfg := h.guard.config
	id := Identity{
		Address: security.GetClientIP(r, cfg.TrustProxy, cfg.TrustedProxyCount),
	}
	if class == Auth {
		id.Identifier = cfg.IdentifierExtractor(r)
	}
	return id
}

// writeRejection writes a 429 response for decision
func (h *Handler) writeRejection(w http.ResponseWriter, decision Decision) {
	retryAfter := decision.RetryAfterSeconds()

	security.SetRejectionHeaders(w)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	if err := json.NewEncoder(w).Encode(rejectionResponse{
		Status:     "error",
		Message:    rejectionMessage(decision.Reason),
		RetryAfter: retryAfter,
	}); err != nil {
		h.logger.Debug("Failed to write rejection body", "error", err)
	}
}

// statusRecorder wraps http.ResponseWriter to capture the response status
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code
func (rw *statusRecorder) WriteHeader(status int) {
	if rw.status == 0 {
		rw.status = status
	}
	rw.ResponseWriter.WriteHeader(status)
}

// Write records an implicit 200 when no status was written
func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

// Status returns the written status, 200 when the handler wrote nothing
func (rw *statusRecorder) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
