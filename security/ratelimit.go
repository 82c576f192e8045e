package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBucketMaxEntries is the maximum number of keys a token bucket limiter tracks
	DefaultBucketMaxEntries = 10000

	// DefaultBucketIdleTimeout is how long an untouched bucket survives a sweep
	DefaultBucketIdleTimeout = 30 * time.Minute
)

// bucketEntry tracks a token bucket and its last access time
type bucketEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// TokenBucketLimiter provides per-key rate limiting using the token bucket
// algorithm, with LRU eviction to prevent unbounded memory growth.
// Unlike WindowCounter it tolerates bursts and refills continuously.
type TokenBucketLimiter struct {
	name        string
	buckets     map[string]*list.Element // key -> list element
	lruList     *list.List               // LRU list of *bucketEntry
	mu          sync.Mutex
	rate        rate.Limit
	burst       int
	maxEntries  int
	idleTimeout time.Duration
	logger      *slog.Logger

	// Statistics
	totalEvictions int64
	totalSwept     int64
}

// NewTokenBucketLimiter creates a token bucket limiter allowing perMinute
// requests per minute with the given burst. Default max entries is 10,000.
func NewTokenBucketLimiter(name string, perMinute, burst int, logger *slog.Logger) *TokenBucketLimiter {
	return NewTokenBucketLimiterWithConfig(name, perMinute, burst, DefaultBucketMaxEntries, logger)
}

// NewTokenBucketLimiterWithConfig creates a token bucket limiter with a custom max entries bound.
// Set maxEntries to 0 for unlimited (not recommended for production).
func NewTokenBucketLimiterWithConfig(name string, perMinute, burst, maxEntries int, logger *slog.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if perMinute <= 0 {
		perMinute = 1
		logger.Warn("Invalid token bucket rate, using 1 per minute", "limiter", name)
	}
	if burst <= 0 {
		burst = 1
		logger.Warn("Invalid token bucket burst, using 1", "limiter", name)
	}
	if maxEntries < 0 {
		maxEntries = DefaultBucketMaxEntries
		logger.Warn("Invalid maxEntries, using default", "limiter", name, "maxEntries", maxEntries)
	}

	return &TokenBucketLimiter{
		name:        name,
		buckets:     make(map[string]*list.Element),
		lruList:     list.New(),
		rate:        rate.Limit(float64(perMinute) / 60.0),
		burst:       burst,
		maxEntries:  maxEntries,
		idleTimeout: max(DefaultBucketIdleTimeout, refillDuration(perMinute, burst)),
		logger:      logger,
	}
}

// Name returns the tier name
func (tb *TokenBucketLimiter) Name() string {
	return tb.name
}

// TryAdmit takes a token for key at now. When the bucket is empty the
// reservation is cancelled and RetryAfter is the time until a token is available.
func (tb *TokenBucketLimiter) TryAdmit(key string, now time.Time) Admission {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	var entry *bucketEntry
	if elem, exists := tb.buckets[key]; exists {
		tb.lruList.MoveToFront(elem)
		entry = elem.Value.(*bucketEntry)
	} else {
		if tb.maxEntries > 0 && len(tb.buckets) >= tb.maxEntries {
			tb.evictLRU()
		}
		entry = &bucketEntry{
			key:     key,
			limiter: rate.NewLimiter(tb.rate, tb.burst),
		}
		tb.buckets[key] = tb.lruList.PushFront(entry)
	}
	entry.lastAccess = now

	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Admission{Admitted: false, RetryAfter: time.Minute}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Admission{Admitted: false, RetryAfter: delay}
	}
	return Admission{Admitted: true}
}

// evictLRU removes the least recently used bucket.
// Must be called with mutex locked.
func (tb *TokenBucketLimiter) evictLRU() {
	elem := tb.lruList.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*bucketEntry)
	delete(tb.buckets, entry.key)
	tb.lruList.Remove(elem)
	tb.totalEvictions++

	tb.logger.Debug("Token bucket LRU eviction",
		"limiter", tb.name,
		"total_evictions", tb.totalEvictions,
		"current_entries", len(tb.buckets))
}

// refillDuration is how long an empty bucket takes to hold burst tokens again
func refillDuration(perMinute, burst int) time.Duration {
	return (time.Duration(burst)*time.Minute + time.Duration(perMinute) - 1) / time.Duration(perMinute)
}

// Sweep removes buckets that have not been used for the idle timeout and
// have refilled completely, so dropping them changes no decision.
func (tb *TokenBucketLimiter) Sweep(now time.Time) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := tb.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*bucketEntry)

		if now.Sub(entry.lastAccess) > tb.idleTimeout && entry.limiter.TokensAt(now) >= float64(tb.burst) {
			delete(tb.buckets, entry.key)
			tb.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		tb.totalSwept += int64(removed)
		tb.logger.Debug("Token bucket sweep completed",
			"limiter", tb.name,
			"removed", removed,
			"remaining", len(tb.buckets))
	}
	return removed
}

// Len returns the number of tracked buckets
func (tb *TokenBucketLimiter) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

// BucketStats holds token bucket statistics for monitoring
type BucketStats struct {
	CurrentEntries int     // Current number of tracked keys
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	TotalEvictions int64   // Total number of LRU evictions
	TotalSwept     int64   // Buckets removed by sweeps
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// Stats returns current limiter statistics for monitoring and alerting.
func (tb *TokenBucketLimiter) Stats() BucketStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	stats := BucketStats{
		CurrentEntries: len(tb.buckets),
		MaxEntries:     tb.maxEntries,
		TotalEvictions: tb.totalEvictions,
		TotalSwept:     tb.totalSwept,
	}

	if tb.maxEntries > 0 {
		stats.MemoryPressure = float64(stats.CurrentEntries) / float64(tb.maxEntries) * 100.0
	}

	return stats
}
