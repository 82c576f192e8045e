package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the throttling engine
type Metrics struct {
	// Gate Metrics
	Decisions     metric.Int64Counter
	CheckDuration metric.Float64Histogram

	// Lockout Metrics
	LockoutsTriggered metric.Int64Counter
	AuthOutcomes      metric.Int64Counter

	// Maintenance Metrics
	SweepRemoved   metric.Int64Counter
	TrackerEntries metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	gateMeter := inst.Meter("gate")
	securityMeter := inst.Meter("security")

	var err error
	m.Decisions, err = gateMeter.Int64Counter(
		"authguard.decisions.total",
		metric.WithDescription("Number of throttling decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions.total counter: %w", err)
	}

	m.CheckDuration, err = gateMeter.Float64Histogram(
		"authguard.check.duration",
		metric.WithDescription("Throttling decision duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check.duration histogram: %w", err)
	}

	m.LockoutsTriggered, err = securityMeter.Int64Counter(
		"authguard.lockouts.triggered",
		metric.WithDescription("Number of lockouts armed, one per identity scope"),
		metric.WithUnit("{lockout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lockouts.triggered counter: %w", err)
	}

	m.AuthOutcomes, err = securityMeter.Int64Counter(
		"authguard.auth.outcomes",
		metric.WithDescription("Number of authentication outcomes recorded"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.outcomes counter: %w", err)
	}

	m.SweepRemoved, err = securityMeter.Int64Counter(
		"authguard.sweep.removed",
		metric.WithDescription("Number of expired tracker entries removed by sweeps"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep.removed counter: %w", err)
	}

	m.TrackerEntries, err = securityMeter.Int64ObservableGauge(
		"authguard.tracker.entries",
		metric.WithDescription("Number of keys currently tracked"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker.entries gauge: %w", err)
	}

	return m, nil
}

func trackerAttr(name string) attribute.KeyValue {
	return attribute.String("tracker", name)
}

// RecordDecision records a throttling decision.
// limiter is empty unless a limiter rejected the request.
func (m *Metrics) RecordDecision(ctx context.Context, allowed bool, reason, endpointClass, limiter string) {
	decision := "allow"
	if !allowed {
		decision = "reject"
	}

	m.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
		attribute.String("reason", reason),
		attribute.String("endpoint_class", endpointClass),
		attribute.String("limiter", limiter),
	))
}

// RecordCheckDuration records how long a decision took
func (m *Metrics) RecordCheckDuration(ctx context.Context, endpointClass string, durationMs float64) {
	m.CheckDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint_class", endpointClass),
	))
}

// RecordLockouts records lockouts armed by one failure
func (m *Metrics) RecordLockouts(ctx context.Context, armed int) {
	if armed <= 0 {
		return
	}
	m.LockoutsTriggered.Add(ctx, int64(armed))
}

// RecordAuthOutcome records an authentication outcome ("success" or "failure")
func (m *Metrics) RecordAuthOutcome(ctx context.Context, outcome string) {
	m.AuthOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordSweep records entries removed from a tracker
func (m *Metrics) RecordSweep(ctx context.Context, tracker string, removed int) {
	if removed <= 0 {
		return
	}
	m.SweepRemoved.Add(ctx, int64(removed), metric.WithAttributes(trackerAttr(tracker)))
}
