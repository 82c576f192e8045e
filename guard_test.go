package authguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/authguard/instrumentation"
	"github.com/giantswarm/authguard/internal/testutil"
	"github.com/giantswarm/authguard/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGuard creates a guard on a mock clock with the background sweep disabled
func newTestGuard(t *testing.T, cfg *Config) (*Guard, *testutil.MockClock) {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	clock := testutil.NewMockClock(testutil.Epoch)
	cfg.Clock = clock
	cfg.DisableBackgroundSweep = true

	g, err := New(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g, clock
}

// failLogin runs n rejected login attempts, requiring each to be admitted
func failLogin(t *testing.T, g *Guard, id Identity, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		d := g.Check(ctx, id, Auth)
		require.True(t, d.Allowed, "attempt %d should be admitted", i+1)
		g.OnOutcome(ctx, id, Auth, false)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&Config{General: WindowLimit{MaxRequests: -1}}, discardLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNew_DoesNotModifyConfig(t *testing.T) {
	cfg := &Config{DisableBackgroundSweep: true}
	g, err := New(cfg, discardLogger())
	require.NoError(t, err)
	defer func() { _ = g.Shutdown(context.Background()) }()

	assert.Zero(t, cfg.General.MaxRequests)
	assert.Equal(t, DefaultGeneralMaxRequests, g.Config().General.MaxRequests)
}

func TestGuard_ShutdownStopsBackgroundSweep(t *testing.T) {
	g, err := New(&Config{SweepInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, g.sweeper.Interval())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, g.Shutdown(ctx))
	assert.False(t, g.sweeper.Running())

	// idempotent
	require.NoError(t, g.Shutdown(ctx))
}

func TestGuard_LoginLockout(t *testing.T) {
	g, clock := newTestGuard(t, nil)
	ctx := context.Background()
	id := Identity{Address: "9.9.9.9", Identifier: "test@x.com"}

	failLogin(t, g, id, 5)

	d := g.Check(ctx, id, Auth)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLockedOut, d.Reason)
	assert.Empty(t, d.Limiter)
	assert.Equal(t, 5*time.Minute, d.RetryAfter)
	assert.Equal(t, 300, d.RetryAfterSeconds())
	assert.Equal(t, 3, d.Scopes)
	assert.True(t, IsThrottled(d.Err()))

	clock.Advance(2 * time.Minute)
	d = g.Check(ctx, id, Auth)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3*time.Minute, d.RetryAfter)

	clock.Advance(3 * time.Minute)
	d = g.Check(ctx, id, Auth)
	require.True(t, d.Allowed)
	assert.NoError(t, d.Err())

	g.OnOutcome(ctx, id, Auth, true)
	_, blocked := g.Blocked(id, Auth)
	assert.False(t, blocked)
	assert.Equal(t, 0, g.lockout.Len(), "success clears every scope")
}

func TestGuard_EscalatingLockout(t *testing.T) {
	g, clock := newTestGuard(t, &Config{
		Auth: WindowLimit{MaxRequests: 1000, Window: time.Hour},
	})
	ctx := context.Background()
	id := Identity{Address: "9.9.9.9", Identifier: "test@x.com"}

	failLogin(t, g, id, 5)
	remaining, blocked := g.Blocked(id, Auth)
	require.True(t, blocked)
	assert.Equal(t, 5*time.Minute, remaining)

	// failures continue to count once the first lockout has expired
	clock.Advance(5 * time.Minute)
	failLogin(t, g, id, 4)
	_, blocked = g.Blocked(id, Auth)
	assert.False(t, blocked)

	failLogin(t, g, id, 1)
	d := g.Check(ctx, id, Auth)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10*time.Minute, d.RetryAfter)
}

func TestGuard_FailureWindowForgetsOldFailures(t *testing.T) {
	g, clock := newTestGuard(t, nil)
	id := Identity{Address: "9.9.9.9", Identifier: "test@x.com"}

	failLogin(t, g, id, 4)
	clock.Advance(16 * time.Minute)
	failLogin(t, g, id, 4)

	_, blocked := g.Blocked(id, Auth)
	assert.False(t, blocked)
}

func TestGuard_FanOutAcrossScopes(t *testing.T) {
	g, _ := newTestGuard(t, &Config{
		Auth: WindowLimit{MaxRequests: 1000, Window: time.Hour},
	})
	ctx := context.Background()

	failLogin(t, g, Identity{Address: "1.1.1.1", Identifier: "alice@example.com"}, 5)

	tests := []struct {
		name    string
		id      Identity
		class   EndpointClass
		allowed bool
	}{
		{"same address other identifier", Identity{Address: "1.1.1.1", Identifier: "bob@example.com"}, Auth, false},
		{"same identifier other address", Identity{Address: "2.2.2.2", Identifier: "alice@example.com"}, Auth, false},
		{"identifier is normalized", Identity{Address: "3.3.3.3", Identifier: "  ALICE@Example.com "}, Auth, false},
		{"unrelated identity", Identity{Address: "2.2.2.2", Identifier: "carol@example.com"}, Auth, true},
		{"locked address on general endpoint", Identity{Address: "1.1.1.1"}, General, false},
		{"general ignores identifier", Identity{Address: "2.2.2.2", Identifier: "alice@example.com"}, General, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(ctx, tt.id, tt.class)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, ReasonLockedOut, d.Reason)
			}
		})
	}
}

func TestGuard_SuccessResetsEveryScope(t *testing.T) {
	g, _ := newTestGuard(t, &Config{
		Auth: WindowLimit{MaxRequests: 1000, Window: time.Hour},
	})
	ctx := context.Background()
	alice := Identity{Address: "1.1.1.1", Identifier: "alice@example.com"}

	failLogin(t, g, alice, 4)
	g.OnOutcome(ctx, alice, Auth, true)

	// would be the 5th failure on the identifier scope without the reset
	failLogin(t, g, Identity{Address: "2.2.2.2", Identifier: "alice@example.com"}, 1)
	failLogin(t, g, alice, 3)

	_, blocked := g.Blocked(alice, Auth)
	assert.False(t, blocked)
}

func TestGuard_OnOutcomeIgnoresGeneral(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()
	id := Identity{Address: "1.1.1.1"}

	for i := 0; i < 10; i++ {
		g.OnOutcome(ctx, id, General, false)
	}

	assert.Equal(t, 0, g.lockout.Len())
	assert.True(t, g.Check(ctx, id, General).Allowed)
}

func TestGuard_GeneralRateLimit(t *testing.T) {
	g, clock := newTestGuard(t, &Config{
		General: WindowLimit{MaxRequests: 3, Window: time.Minute},
	})
	ctx := context.Background()
	id := Identity{Address: "1.1.1.1"}

	for i := 0; i < 3; i++ {
		require.True(t, g.Check(ctx, id, General).Allowed)
	}

	d := g.Check(ctx, id, General)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, trackerGeneralWindow, d.Limiter)
	assert.Equal(t, time.Minute, d.RetryAfter)

	assert.True(t, g.Check(ctx, Identity{Address: "2.2.2.2"}, General).Allowed)

	clock.Advance(30 * time.Second)
	d = g.Check(ctx, id, General)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	clock.Advance(30 * time.Second)
	assert.True(t, g.Check(ctx, id, General).Allowed)
}

func TestGuard_PartialAdmission(t *testing.T) {
	g, clock := newTestGuard(t, &Config{
		General: WindowLimit{MaxRequests: 5, Window: time.Minute},
		Auth:    WindowLimit{MaxRequests: 2, Window: time.Minute},
	})
	ctx := context.Background()
	id := Identity{Address: "1.1.1.1"}

	require.True(t, g.Check(ctx, id, Auth).Allowed)
	require.True(t, g.Check(ctx, id, Auth).Allowed)

	d := g.Check(ctx, id, Auth)
	require.False(t, d.Allowed)
	assert.Equal(t, trackerAuthWindow, d.Limiter)

	// the rejected auth request still used a general slot
	assert.Equal(t, 3, g.general.Count(security.AddressKey(id.Address), clock.Now()))
	assert.True(t, g.Check(ctx, id, General).Allowed)
	assert.True(t, g.Check(ctx, id, General).Allowed)
	assert.False(t, g.Check(ctx, id, General).Allowed)
}

func TestGuard_IdentifierBucket(t *testing.T) {
	g, _ := newTestGuard(t, &Config{
		Auth:           WindowLimit{MaxRequests: 1000, Window: time.Hour},
		IdentifierRate: IdentifierRateConfig{PerMinute: 2},
	})
	ctx := context.Background()

	assert.True(t, g.Check(ctx, Identity{Address: "1.1.1.1", Identifier: "alice"}, Auth).Allowed)
	assert.True(t, g.Check(ctx, Identity{Address: "2.2.2.2", Identifier: "alice"}, Auth).Allowed)

	d := g.Check(ctx, Identity{Address: "3.3.3.3", Identifier: "Alice"}, Auth)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, trackerIdentifier, d.Limiter)
	assert.InDelta(t, float64(30*time.Second), float64(d.RetryAfter), float64(time.Second))

	// no identifier, or a general endpoint, never reaches the bucket
	assert.True(t, g.Check(ctx, Identity{Address: "3.3.3.3"}, Auth).Allowed)
	assert.True(t, g.Check(ctx, Identity{Address: "3.3.3.3", Identifier: "alice"}, General).Allowed)

	require.NotNil(t, g.Stats().Identifier)
	assert.Equal(t, 1, g.Stats().Identifier.CurrentEntries)
}

func TestGuard_ExemptAddresses(t *testing.T) {
	g, _ := newTestGuard(t, &Config{
		General:         WindowLimit{MaxRequests: 1, Window: time.Minute},
		ExemptAddresses: []string{"10.0.0.1"},
	})
	ctx := context.Background()
	id := Identity{Address: "10.0.0.1", Identifier: "monitor"}

	for i := 0; i < 10; i++ {
		d := g.Check(ctx, id, Auth)
		require.True(t, d.Allowed)
		assert.True(t, d.Exempt)
		g.OnOutcome(ctx, id, Auth, false)
	}

	assert.Equal(t, 0, g.lockout.Len())
	assert.Equal(t, 0, g.general.Len())
	assert.True(t, g.IsExempt("10.0.0.1"))
	assert.False(t, g.IsExempt("10.0.0.2"))
}

func TestGuard_ExemptAddressesCanonicalized(t *testing.T) {
	g, _ := newTestGuard(t, &Config{
		General:         WindowLimit{MaxRequests: 1, Window: time.Minute},
		ExemptAddresses: []string{"::ffff:10.0.0.1", "fe80::1%eth0", " 2001:DB8::1 "},
	})
	ctx := context.Background()

	// client addresses arrive in canonical form from GetClientIP
	assert.True(t, g.IsExempt("10.0.0.1"))
	assert.True(t, g.IsExempt("fe80::1"))
	assert.True(t, g.IsExempt("2001:db8::1"))
	assert.True(t, g.IsExempt("::ffff:10.0.0.1"))
	assert.False(t, g.IsExempt("10.0.0.2"))

	for i := 0; i < 3; i++ {
		d := g.Check(ctx, Identity{Address: "10.0.0.1"}, General)
		require.True(t, d.Allowed)
		assert.True(t, d.Exempt)
	}
}

func TestGuard_UnknownAddress(t *testing.T) {
	g, _ := newTestGuard(t, &Config{
		General: WindowLimit{MaxRequests: 1, Window: time.Minute},
	})
	ctx := context.Background()

	assert.True(t, g.Check(ctx, Identity{}, General).Allowed)
	// empty and explicit unknown share one scope
	assert.False(t, g.Check(ctx, Identity{Address: security.UnknownAddress}, General).Allowed)
}

func TestGuard_Sweep(t *testing.T) {
	g, clock := newTestGuard(t, &Config{
		General: WindowLimit{MaxRequests: 10, Window: time.Minute},
	})
	id := Identity{Address: "1.1.1.1", Identifier: "alice"}

	failLogin(t, g, id, 1)
	assert.Equal(t, 0, g.Sweep(context.Background()), "nothing has expired yet")

	clock.Advance(16 * time.Minute)
	// general + auth window entries, and three failure records
	assert.Equal(t, 5, g.Sweep(context.Background()))

	stats := g.Stats()
	assert.Equal(t, 0, stats.Lockout.CurrentEntries)
	assert.Equal(t, int64(3), stats.Lockout.TotalSwept)
	assert.Equal(t, 0, stats.General.CurrentEntries)
	assert.Nil(t, stats.Identifier)
}

func TestGuard_SweepKeepsActiveLockouts(t *testing.T) {
	g, clock := newTestGuard(t, &Config{
		Lockout: security.LockoutConfig{InitialBlockDuration: time.Hour},
	})
	id := Identity{Address: "1.1.1.1", Identifier: "alice"}

	failLogin(t, g, id, 5)
	clock.Advance(30 * time.Minute)
	g.Sweep(context.Background())

	remaining, blocked := g.Blocked(id, Auth)
	assert.True(t, blocked)
	assert.Equal(t, 30*time.Minute, remaining)
}

func TestGuard_ConcurrentChecks(t *testing.T) {
	g, _ := newTestGuard(t, &Config{
		General: WindowLimit{MaxRequests: 100, Window: time.Minute},
	})
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if g.Check(ctx, Identity{Address: "1.1.1.1"}, General).Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
}

func TestGuard_ConcurrentFailures(t *testing.T) {
	g, _ := newTestGuard(t, &Config{
		Auth: WindowLimit{MaxRequests: 1000, Window: time.Hour},
	})
	ctx := context.Background()
	id := Identity{Address: "1.1.1.1", Identifier: "alice"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.OnOutcome(ctx, id, Auth, false)
		}()
	}
	wg.Wait()

	for _, key := range security.ScopeKeys(id.Address, id.Identifier) {
		rec, ok := g.lockout.Record(key)
		require.True(t, ok)
		assert.Equal(t, 50, rec.Count)
	}
}

// sumCounter totals the data points of an int64 sum or gauge matching attrs
func sumCounter(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			}
			for _, dp := range points {
				match := true
				for _, kv := range attrs {
					v, ok := dp.Attributes.Value(kv.Key)
					if !ok || v.Emit() != kv.Value.Emit() {
						match = false
					}
				}
				if match {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestGuard_Instrumentation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	exporter := tracetest.NewInMemoryExporter()
	g, _ := newTestGuard(t, &Config{
		Instrumentation: instrumentation.Config{
			Enabled:      true,
			MetricReader: reader,
			SpanExporter: exporter,
		},
	})
	ctx := context.Background()
	id := Identity{Address: "9.9.9.9", Identifier: "test@x.com"}

	failLogin(t, g, id, 5)
	require.False(t, g.Check(ctx, id, Auth).Allowed)

	assert.Equal(t, int64(5), sumCounter(t, reader, "authguard.decisions.total",
		attribute.String("decision", "allow")))
	assert.Equal(t, int64(1), sumCounter(t, reader, "authguard.decisions.total",
		attribute.String("decision", "reject"), attribute.String("reason", ReasonLockedOut)))
	assert.Equal(t, int64(3), sumCounter(t, reader, "authguard.lockouts.triggered"))
	assert.Equal(t, int64(5), sumCounter(t, reader, "authguard.auth.outcomes",
		attribute.String("outcome", "failure")))
	assert.Equal(t, int64(3), sumCounter(t, reader, "authguard.tracker.entries",
		attribute.String("tracker", trackerLockout)))

	require.NoError(t, g.Instrumentation().ForceFlush(ctx))
	names := map[string]int{}
	for _, span := range exporter.GetSpans() {
		names[span.Name]++
	}
	assert.Equal(t, 6, names["authguard.check"])
	assert.Equal(t, 5, names["authguard.outcome"])
}
