package security

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/authguard/internal/testutil"
)

func TestNewTokenBucketLimiter(t *testing.T) {
	tb := NewTokenBucketLimiter("ident", 10, 3, nil)

	assert.Equal(t, "ident", tb.Name())
	assert.Equal(t, DefaultBucketMaxEntries, tb.Stats().MaxEntries)
	assert.Zero(t, tb.Len())
}

func TestNewTokenBucketLimiter_InvalidValues(t *testing.T) {
	tb := NewTokenBucketLimiterWithConfig("ident", 0, -1, -1, nil)

	assert.Equal(t, 1, tb.burst)
	assert.Equal(t, DefaultBucketMaxEntries, tb.maxEntries)

	now := testutil.Epoch
	assert.True(t, tb.TryAdmit("k", now).Admitted)
	assert.False(t, tb.TryAdmit("k", now).Admitted)
}

func TestTokenBucketLimiter_BurstThenReject(t *testing.T) {
	now := testutil.Epoch
	tb := NewTokenBucketLimiter("ident", 60, 3, nil) // one token per second

	for i := 0; i < 3; i++ {
		require.True(t, tb.TryAdmit("k", now).Admitted, "burst request %d", i+1)
	}

	adm := tb.TryAdmit("k", now)
	assert.False(t, adm.Admitted)
	assert.Equal(t, time.Second, adm.RetryAfter)
}

func TestTokenBucketLimiter_RejectionDoesNotConsume(t *testing.T) {
	clock := testutil.NewMockClock(testutil.Epoch)
	tb := NewTokenBucketLimiter("ident", 60, 1, nil)

	require.True(t, tb.TryAdmit("k", clock.Now()).Admitted)
	for i := 0; i < 5; i++ {
		require.False(t, tb.TryAdmit("k", clock.Now()).Admitted)
	}

	// cancelled reservations return their tokens, so one second is enough
	clock.Advance(time.Second)
	assert.True(t, tb.TryAdmit("k", clock.Now()).Admitted)
}

func TestTokenBucketLimiter_Refill(t *testing.T) {
	clock := testutil.NewMockClock(testutil.Epoch)
	tb := NewTokenBucketLimiter("ident", 6, 2, nil) // one token per 10s

	tb.TryAdmit("k", clock.Now())
	tb.TryAdmit("k", clock.Now())
	require.False(t, tb.TryAdmit("k", clock.Now()).Admitted)

	clock.Advance(10 * time.Second)
	assert.True(t, tb.TryAdmit("k", clock.Now()).Admitted)
	assert.False(t, tb.TryAdmit("k", clock.Now()).Admitted)
}

func TestTokenBucketLimiter_KeysAreIndependent(t *testing.T) {
	now := testutil.Epoch
	tb := NewTokenBucketLimiter("ident", 60, 1, nil)

	assert.True(t, tb.TryAdmit(IdentifierKey("alice"), now).Admitted)
	assert.False(t, tb.TryAdmit(IdentifierKey("alice"), now).Admitted)
	assert.True(t, tb.TryAdmit(IdentifierKey("bob"), now).Admitted)
}

func TestTokenBucketLimiter_LRUEviction(t *testing.T) {
	now := testutil.Epoch
	tb := NewTokenBucketLimiterWithConfig("ident", 60, 1, 3, nil)

	for i := 0; i < 5; i++ {
		tb.TryAdmit(fmt.Sprintf("key-%d", i), now)
	}

	stats := tb.Stats()
	assert.Equal(t, 3, stats.CurrentEntries)
	assert.Equal(t, int64(2), stats.TotalEvictions)
	assert.InDelta(t, 100.0, stats.MemoryPressure, 0.001)

	// key-0 was evicted and starts with a full bucket again
	assert.True(t, tb.TryAdmit("key-0", now).Admitted)
}

func TestTokenBucketLimiter_Unlimited(t *testing.T) {
	now := testutil.Epoch
	tb := NewTokenBucketLimiterWithConfig("ident", 60, 1, 0, nil)

	for i := 0; i < 100; i++ {
		tb.TryAdmit(fmt.Sprintf("key-%d", i), now)
	}
	stats := tb.Stats()
	assert.Equal(t, 100, stats.CurrentEntries)
	assert.Zero(t, stats.TotalEvictions)
	assert.Zero(t, stats.MemoryPressure)
}

func TestTokenBucketLimiter_Sweep(t *testing.T) {
	clock := testutil.NewMockClock(testutil.Epoch)
	tb := NewTokenBucketLimiter("ident", 60, 1, nil)

	tb.TryAdmit("idle", clock.Now())
	clock.Advance(20 * time.Minute)
	tb.TryAdmit("active", clock.Now())
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, tb.Sweep(clock.Now()))
	assert.Equal(t, 1, tb.Len())
	assert.Equal(t, int64(1), tb.Stats().TotalSwept)
}

func TestTokenBucketLimiter_ImplementsLimiter(t *testing.T) {
	var _ Limiter = (*TokenBucketLimiter)(nil)
	var _ Limiter = (*WindowCounter)(nil)
	var _ Sweepable = (*TokenBucketLimiter)(nil)
	var _ Sweepable = (*WindowCounter)(nil)
	var _ Sweepable = (*LockoutTracker)(nil)
}

func TestTokenBucketLimiter_SweepKeepsDrainedBucket(t *testing.T) {
	clock := testutil.NewMockClock(testutil.Epoch)
	tb := NewTokenBucketLimiter("ident", 1, 60, nil) // an hour to refill

	assert.Equal(t, time.Hour, tb.idleTimeout)

	for i := 0; i < 60; i++ {
		require.True(t, tb.TryAdmit("k", clock.Now()).Admitted, "burst request %d", i+1)
	}

	clock.Advance(31 * time.Minute)
	assert.Zero(t, tb.Sweep(clock.Now()), "a partially refilled bucket survives the sweep")

	admitted := 0
	for i := 0; i < 60; i++ {
		if tb.TryAdmit("k", clock.Now()).Admitted {
			admitted++
		}
	}
	assert.InDelta(t, 31, admitted, 1, "only the refilled tokens are available")

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, tb.Sweep(clock.Now()))
}

func TestRefillDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, refillDuration(60, 3))
	assert.Equal(t, time.Hour, refillDuration(1, 60))
	assert.Equal(t, 1500*time.Millisecond, refillDuration(40, 1))
}
