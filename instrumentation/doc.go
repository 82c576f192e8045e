// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the authguard library.
//
// The throttling gate reports its decisions through:
// - Metrics: counters, a histogram and an observable gauge
// - Traces: one span per decision, carrying the outcome and limiter
//
// Instrumentation is disabled by default and then costs nothing: no-op
// providers are installed and every recording call is a no-op.
//
// # Quick Start
//
//	import "github.com/giantswarm/authguard/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "login-service",
//		ServiceVersion:  "1.0.0",
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	// Expose /metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
//
// # Available Metrics
//
// Gate:
//   - authguard.decisions.total{decision, reason, endpoint_class, limiter} - Throttling decisions
//   - authguard.check.duration{endpoint_class} - Decision latency in milliseconds
//
// Security:
//   - authguard.lockouts.triggered - Lockouts armed (one per identity scope)
//   - authguard.auth.outcomes{outcome} - Authentication outcomes recorded
//   - authguard.sweep.removed{tracker} - Entries reclaimed by sweeps
//   - authguard.tracker.entries{tracker} - Keys currently tracked
//
// # Traces
//
// Spans are exported only when Config.SpanExporter is set. Decision spans are
// named "authguard.check" and "authguard.outcome" and never carry raw login
// identifiers. Client addresses are attached only when LogClientIPs is true.
//
// # Testing
//
// Pass sdkmetric.NewManualReader() as Config.MetricReader and a
// tracetest.InMemoryExporter as Config.SpanExporter to assert on what was
// recorded. Call ForceFlush before reading spans.
package instrumentation
