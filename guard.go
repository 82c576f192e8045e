package authguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authguard/instrumentation"
	"github.com/giantswarm/authguard/security"
)

// Tracker names used in logs, metrics and stats
const (
	trackerLockout       = "lockout"
	trackerGeneralWindow = "general-window"
	trackerAuthWindow    = "auth-window"
	trackerIdentifier    = "identifier-bucket"
)

// Decision is the outcome of Guard.Check
type Decision struct {
	// Allowed reports whether the request may proceed
	Allowed bool

	// Exempt is set when the address bypasses throttling
	Exempt bool

	// Reason is ReasonLockedOut or ReasonRateLimited on rejection, "" otherwise
	Reason string

	// Limiter names the limiter that rejected the request (rate_limited only)
	Limiter string

	// RetryAfter is how long the client should wait. Zero when allowed.
	RetryAfter time.Duration

	// Scopes is the number of identity scopes the request was evaluated against
	Scopes int
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds
func (d Decision) RetryAfterSeconds() int {
	return security.RemainingSeconds(d.RetryAfter)
}

// Err returns nil for an allowed request and a *ThrottleError otherwise
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return NewThrottleError(d.Reason, d.RetryAfter)
}

// stage is one limiter consulted by Check, keyed by a single scope
type stage struct {
	limiter security.Limiter
	key     string
}

// Guard is the single entry point consulted per request. It checks lockouts
// across every identity scope, then each limiter in a fixed order, and
// records authentication outcomes reported after the request completes.
type Guard struct {
	config *Config
	logger *slog.Logger
	clock  security.Clock

	lockout    *security.LockoutTracker
	general    *security.WindowCounter
	auth       *security.WindowCounter
	identifier *security.TokenBucketLimiter // nil when disabled

	sweeper         *security.Sweeper
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	exempt map[string]struct{}

	// background sweep, captured at construction
	stopSweep context.CancelFunc
	sweepDone chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a guard and, unless disabled, starts its background sweep.
// Call Shutdown to stop the sweep and flush instrumentation.
func New(config *Config, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cfg Config
	if config != nil {
		cfg = *config
	}
	applyDefaults(&cfg, logger)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	inst, err := instrumentation.New(cfg.Instrumentation)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	g := &Guard{
		config:  &cfg,
		logger:  logger,
		clock:   cfg.Clock,
		lockout: security.NewLockoutTracker(cfg.Lockout, logger),
		general: security.NewWindowCounter(security.WindowConfig{
			Name:        trackerGeneralWindow,
			MaxRequests: cfg.General.MaxRequests,
			Window:      cfg.General.Window,
			MaxEntries:  cfg.MaxTrackedKeys,
		}, logger),
		auth: security.NewWindowCounter(security.WindowConfig{
			Name:        trackerAuthWindow,
			MaxRequests: cfg.Auth.MaxRequests,
			Window:      cfg.Auth.Window,
			MaxEntries:  cfg.MaxTrackedKeys,
		}, logger),
		auditor:         security.NewAuditor(logger, cfg.EnableAuditLogging),
		instrumentation: inst,
		tracer:          inst.Tracer("gate"),
		exempt:          make(map[string]struct{}, len(cfg.ExemptAddresses)),
	}

	for _, addr := range cfg.ExemptAddresses {
		g.exempt[security.CanonicalAddress(addr)] = struct{}{}
	}

	if cfg.IdentifierRate.Enabled() {
		g.identifier = security.NewTokenBucketLimiterWithConfig(trackerIdentifier,
			cfg.IdentifierRate.PerMinute, cfg.IdentifierRate.Burst, cfg.IdentifierRate.MaxEntries, logger)
	}

	g.sweeper = security.NewSweeper(cfg.SweepInterval, g.clock, logger, g.sweepTargets()...)
	g.sweeper.SetObserver(g.observeSweep)

	if err := inst.RegisterTrackerSizeCallbacks(g.trackerSizes()); err != nil {
		logger.Warn("Failed to register tracker size metrics", "error", err)
	}

	if !cfg.DisableBackgroundSweep {
		ctx, cancel := context.WithCancel(context.Background())
		g.stopSweep = cancel
		g.sweepDone = make(chan struct{})
		go func() {
			defer close(g.sweepDone)
			if err := g.sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Background sweep stopped unexpectedly", "error", err)
			}
		}()
	}

	logger.Info("Throttling guard initialized",
		"general_limit", cfg.General.MaxRequests,
		"general_window", cfg.General.Window,
		"auth_limit", cfg.Auth.MaxRequests,
		"auth_window", cfg.Auth.Window,
		"lockout_threshold", cfg.Lockout.MaxConsecutiveFailures,
		"identifier_rate", cfg.IdentifierRate.PerMinute,
		"background_sweep", !cfg.DisableBackgroundSweep)

	return g, nil
}

func (g *Guard) sweepTargets() []security.SweepTarget {
	targets := []security.SweepTarget{
		{Name: trackerLockout, Target: g.lockout},
		{Name: trackerGeneralWindow, Target: g.general},
		{Name: trackerAuthWindow, Target: g.auth},
	}
	if g.identifier != nil {
		targets = append(targets, security.SweepTarget{Name: trackerIdentifier, Target: g.identifier})
	}
	return targets
}

func (g *Guard) trackerSizes() map[string]instrumentation.TrackerSizeCallback {
	sizes := map[string]instrumentation.TrackerSizeCallback{
		trackerLockout:       func() int64 { return int64(g.lockout.Len()) },
		trackerGeneralWindow: func() int64 { return int64(g.general.Len()) },
		trackerAuthWindow:    func() int64 { return int64(g.auth.Len()) },
	}
	if g.identifier != nil {
		sizes[trackerIdentifier] = func() int64 { return int64(g.identifier.Len()) }
	}
	return sizes
}

// stages returns the limiters consulted for a request, in order
func (g *Guard) stages(id Identity, class EndpointClass) []stage {
	addrKey := security.AddressKey(id.Address)
	stages := []stage{{limiter: g.general, key: addrKey}}
	if class != Auth {
		return stages
	}

	stages = append(stages, stage{limiter: g.auth, key: addrKey})
	if g.identifier != nil {
		if identKey := security.IdentifierKey(id.Identifier); identKey != "" {
			stages = append(stages, stage{limiter: g.identifier, key: identKey})
		}
	}
	return stages
}

// IsExempt reports whether address bypasses throttling
func (g *Guard) IsExempt(address string) bool {
	_, ok := g.exempt[security.CanonicalAddress(address)]
	return ok
}

// Check decides whether a request may proceed.
//
// Lockouts are checked first across every scope and the longest remaining
// lockout wins. Then each limiter is consulted in order; the first rejection
// ends the check. Limiters consulted before a rejection keep the request
// counted (partial admission).
func (g *Guard) Check(ctx context.Context, id Identity, class EndpointClass) Decision {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "authguard.check",
		trace.WithAttributes(attribute.String(instrumentation.AttrEndpointClass, class.String())))
	defer span.End()

	if g.instrumentation.ShouldLogClientIPs() {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientIP, id.Address))
	}

	decision := g.decide(id, class)

	instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrScopeCount, decision.Scopes))
	instrumentation.AddDecisionAttributes(span, decision.Allowed, decision.Reason, decision.Limiter, decision.RetryAfterSeconds())
	instrumentation.SetSpanSuccess(span)

	metrics := g.instrumentation.Metrics()
	metrics.RecordDecision(ctx, decision.Allowed, decision.Reason, class.String(), decision.Limiter)
	metrics.RecordCheckDuration(ctx, class.String(), float64(time.Since(start).Microseconds())/1000.0)

	if !decision.Allowed {
		g.logRejection(ctx, id, class, decision)
	}

	return decision
}

func (g *Guard) decide(id Identity, class EndpointClass) Decision {
	if g.IsExempt(id.Address) {
		return Decision{Allowed: true, Exempt: true}
	}

	now := g.clock.Now()
	keys := id.scopeKeys(class)

	if remaining, blocked := g.lockout.MaxBlocked(keys, now); blocked {
		return Decision{
			Reason:     ReasonLockedOut,
			RetryAfter: remaining,
			Scopes:     len(keys),
		}
	}

	for _, s := range g.stages(id, class) {
		if adm := s.limiter.TryAdmit(s.key, now); !adm.Admitted {
			return Decision{
				Reason:     ReasonRateLimited,
				Limiter:    s.limiter.Name(),
				RetryAfter: adm.RetryAfter,
				Scopes:     len(keys),
			}
		}
	}

	return Decision{Allowed: true, Scopes: len(keys)}
}

func (g *Guard) logRejection(ctx context.Context, id Identity, class EndpointClass, decision Decision) {
	requestID := security.GetRequestID(ctx)

	switch decision.Reason {
	case ReasonLockedOut:
		g.logger.Warn("Request rejected by lockout",
			"endpoint_class", class.String(),
			"retry_after", decision.RetryAfterSeconds(),
			"request_id", requestID)
		g.auditor.LogLockoutRejected(id.Address, id.Identifier, requestID, decision.RetryAfter)
	default:
		g.logger.Warn("Rate limit exceeded",
			"endpoint_class", class.String(),
			"limiter", decision.Limiter,
			"retry_after", decision.RetryAfterSeconds(),
			"request_id", requestID)
		g.auditor.LogRateLimitExceeded(id.Address, id.Identifier, requestID, decision.Limiter, decision.RetryAfter)
	}
}

// OnOutcome records the authentication outcome of a completed Auth request
// on every identity scope. A success clears failure history; a failure
// counts toward lockout. Calls for other endpoint classes are ignored.
func (g *Guard) OnOutcome(ctx context.Context, id Identity, class EndpointClass, success bool) {
	if class != Auth || g.IsExempt(id.Address) {
		return
	}

	outcome := "failure"
	if success {
		outcome = "success"
	}

	ctx, span := g.tracer.Start(ctx, "authguard.outcome",
		trace.WithAttributes(attribute.String(instrumentation.AttrAuthOutcome, outcome)))
	defer span.End()

	now := g.clock.Now()
	keys := id.scopeKeys(class)
	requestID := security.GetRequestID(ctx)
	metrics := g.instrumentation.Metrics()
	metrics.RecordAuthOutcome(ctx, outcome)

	if success {
		g.lockout.RecordSuccessAll(keys)
		g.auditor.LogAuthSuccessReset(id.Address, id.Identifier, requestID)
		instrumentation.SetSpanSuccess(span)
		return
	}

	armed := g.lockout.RecordFailureAll(keys, now)
	g.auditor.LogAuthFailure(id.Address, id.Identifier, requestID, len(keys))
	instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrLockoutsArmed, armed))
	instrumentation.SetSpanSuccess(span)

	if armed > 0 {
		metrics.RecordLockouts(ctx, armed)
		g.auditor.LogLockoutTriggered(id.Address, id.Identifier, requestID, armed)
		g.logger.Warn("Lockout armed after authentication failure",
			"armed_scopes", armed,
			"request_id", requestID)
	}
}

// Blocked reports the longest active lockout for id, without side effects
func (g *Guard) Blocked(id Identity, class EndpointClass) (time.Duration, bool) {
	return g.lockout.MaxBlocked(id.scopeKeys(class), g.clock.Now())
}

// Sweep reclaims expired state from every tracker once and returns the
// number of entries removed. It works whether or not the background sweep runs.
func (g *Guard) Sweep(ctx context.Context) int {
	return g.sweeper.SweepOnce(ctx)
}

func (g *Guard) observeSweep(ctx context.Context, target string, removed int) {
	if removed == 0 {
		return
	}
	g.instrumentation.Metrics().RecordSweep(ctx, target, removed)
	g.auditor.LogSweepCompleted(target, removed)
}

// Config returns a copy of the effective configuration
func (g *Guard) Config() Config {
	return *g.config
}

// Instrumentation returns the guard's instrumentation
func (g *Guard) Instrumentation() *instrumentation.Instrumentation {
	return g.instrumentation
}

// Stats holds per-tracker statistics for monitoring
type Stats struct {
	Lockout    security.LockoutStats
	General    security.WindowStats
	Auth       security.WindowStats
	Identifier *security.BucketStats // nil when the identifier stage is disabled
}

// Stats returns current statistics
func (g *Guard) Stats() Stats {
	stats := Stats{
		Lockout: g.lockout.Stats(g.clock.Now()),
		General: g.general.Stats(),
		Auth:    g.auth.Stats(),
	}
	if g.identifier != nil {
		bs := g.identifier.Stats()
		stats.Identifier = &bs
	}
	return stats
}

// Shutdown stops the background sweep and flushes instrumentation.
// It is safe to call multiple times.
func (g *Guard) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		if g.stopSweep != nil {
			g.stopSweep()
			select {
			case <-g.sweepDone:
			case <-ctx.Done():
				g.shutdownErr = fmt.Errorf("waiting for background sweep: %w", ctx.Err())
				return
			}
		}

		if err := g.instrumentation.Shutdown(ctx); err != nil {
			g.shutdownErr = fmt.Errorf("failed to shut down instrumentation: %w", err)
		}
		g.logger.Info("Throttling guard stopped")
	})
	return g.shutdownErr
}
