package security

import (
	"container/list"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultWindowMaxRequests is the default request ceiling per window
	DefaultWindowMaxRequests = 100

	// DefaultWindow is the default sliding window length
	DefaultWindow = 15 * time.Minute

	// DefaultMaxWindowEntries is the maximum number of keys a window counter tracks
	DefaultMaxWindowEntries = 100000
)

// WindowConfig configures a WindowCounter.
type WindowConfig struct {
	// Name identifies the ceiling tier (e.g. "general", "auth")
	Name string

	// MaxRequests is the number of requests admitted per key within Window
	MaxRequests int

	// Window is the sliding window length
	Window time.Duration

	// MaxEntries caps the number of tracked keys. When reached, the least
	// recently used key is evicted. 0 means unlimited.
	MaxEntries int
}

// windowEntry holds the admitted request timestamps for a key, oldest first
type windowEntry struct {
	key        string
	timestamps []time.Time
	lastAccess time.Time
}

// WindowCounter is a sliding-window request counter keyed by an arbitrary identity.
// The (MaxRequests+1)-th request inside any Window-length interval is rejected.
type WindowCounter struct {
	name        string
	entries     map[string]*list.Element // key -> list element
	lruList     *list.List               // LRU list of *windowEntry
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	maxEntries  int
	logger      *slog.Logger

	// Statistics
	totalAllowed   int64
	totalBlocked   int64
	totalEvictions int64
	totalSwept     int64
}

// NewWindowCounter creates a window counter. Invalid values fall back to defaults.
func NewWindowCounter(cfg WindowConfig, logger *slog.Logger) *WindowCounter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "window"
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultWindowMaxRequests
		logger.Warn("Invalid window MaxRequests, using default", "limiter", cfg.Name, "max_requests", cfg.MaxRequests)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
		logger.Warn("Invalid window length, using default", "limiter", cfg.Name, "window", cfg.Window)
	}
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = DefaultMaxWindowEntries
		logger.Warn("Invalid window MaxEntries, using default", "limiter", cfg.Name, "max_entries", cfg.MaxEntries)
	}

	return &WindowCounter{
		name:        cfg.Name,
		entries:     make(map[string]*list.Element),
		lruList:     list.New(),
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		maxEntries:  cfg.MaxEntries,
		logger:      logger,
	}
}

// Name returns the tier name
func (wc *WindowCounter) Name() string {
	return wc.name
}

// Window returns the configured window length
func (wc *WindowCounter) Window() time.Duration {
	return wc.window
}

// TryAdmit compacts the key's timestamps and admits the request if fewer than
// MaxRequests remain inside the window. A rejected request is not recorded.
func (wc *WindowCounter) TryAdmit(key string, now time.Time) Admission {
	cutoff := now.Add(-wc.window)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if elem, exists := wc.entries[key]; exists {
		wc.lruList.MoveToFront(elem)
		entry := elem.Value.(*windowEntry)
		if now.After(entry.lastAccess) {
			entry.lastAccess = now
		}
		entry.timestamps = compact(entry.timestamps, cutoff)

		if len(entry.timestamps) >= wc.maxRequests {
			wc.totalBlocked++
			retryAfter := clampDuration(entry.timestamps[0].Add(wc.window).Sub(now))
			wc.logger.Debug("Window limit reached",
				"limiter", wc.name,
				"in_window", len(entry.timestamps),
				"max_requests", wc.maxRequests,
				"retry_after", retryAfter)
			return Admission{Admitted: false, RetryAfter: retryAfter}
		}

		entry.timestamps = insertSorted(entry.timestamps, now)
		wc.totalAllowed++
		return Admission{Admitted: true}
	}

	if wc.maxEntries > 0 && len(wc.entries) >= wc.maxEntries {
		wc.evictLRU()
	}

	entry := &windowEntry{
		key:        key,
		timestamps: []time.Time{now},
		lastAccess: now,
	}
	wc.entries[key] = wc.lruList.PushFront(entry)
	wc.totalAllowed++

	return Admission{Admitted: true}
}

// Count returns how many requests for key are inside the window at now.
// It does not record anything.
func (wc *WindowCounter) Count(key string, now time.Time) int {
	cutoff := now.Add(-wc.window)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	elem, exists := wc.entries[key]
	if !exists {
		return 0
	}
	entry := elem.Value.(*windowEntry)
	entry.timestamps = compact(entry.timestamps, cutoff)
	return len(entry.timestamps)
}

// insertSorted adds t keeping timestamps chronological. Callers read the
// clock before taking the lock, so a request can arrive slightly out of order.
func insertSorted(timestamps []time.Time, t time.Time) []time.Time {
	n := len(timestamps)
	if n == 0 || !t.Before(timestamps[n-1]) {
		return append(timestamps, t)
	}
	i := sort.Search(n, func(i int) bool { return timestamps[i].After(t) })
	timestamps = append(timestamps, time.Time{})
	copy(timestamps[i+1:], timestamps[i:])
	timestamps[i] = t
	return timestamps
}

// compact drops timestamps at or before cutoff, in place.
// Timestamps are chronological, so the first kept entry ends the scan.
func compact(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(timestamps) && !timestamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return timestamps
	}
	n := copy(timestamps, timestamps[i:])
	return timestamps[:n]
}

// evictLRU removes the least recently used key.
// Must be called with mutex locked.
func (wc *WindowCounter) evictLRU() {
	elem := wc.lruList.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*windowEntry)
	delete(wc.entries, entry.key)
	wc.lruList.Remove(elem)
	wc.totalEvictions++

	wc.logger.Debug("Window counter LRU eviction",
		"limiter", wc.name,
		"total_evictions", wc.totalEvictions,
		"current_entries", len(wc.entries))
}

// Sweep removes keys that have no timestamps left inside the window.
// Returns the number of keys removed.
func (wc *WindowCounter) Sweep(now time.Time) int {
	cutoff := now.Add(-wc.window)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := wc.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*windowEntry)

		entry.timestamps = compact(entry.timestamps, cutoff)
		if len(entry.timestamps) == 0 {
			delete(wc.entries, entry.key)
			wc.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		wc.totalSwept += int64(removed)
		wc.logger.Debug("Window counter sweep completed",
			"limiter", wc.name,
			"removed", removed,
			"remaining", len(wc.entries))
	}
	return removed
}

// Len returns the number of tracked keys
func (wc *WindowCounter) Len() int {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return len(wc.entries)
}

// WindowStats holds window counter statistics for monitoring
type WindowStats struct {
	Name           string
	CurrentEntries int     // Current number of tracked keys
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	MaxRequests    int     // Ceiling per window
	Window         string  // Window duration
	TotalAllowed   int64   // Requests admitted
	TotalBlocked   int64   // Requests rejected
	TotalEvictions int64   // LRU evictions
	TotalSwept     int64   // Keys removed by sweeps
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// Stats returns current statistics
func (wc *WindowCounter) Stats() WindowStats {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	stats := WindowStats{
		Name:           wc.name,
		CurrentEntries: len(wc.entries),
		MaxEntries:     wc.maxEntries,
		MaxRequests:    wc.maxRequests,
		Window:         wc.window.String(),
		TotalAllowed:   wc.totalAllowed,
		TotalBlocked:   wc.totalBlocked,
		TotalEvictions: wc.totalEvictions,
		TotalSwept:     wc.totalSwept,
	}

	if wc.maxEntries > 0 {
		stats.MemoryPressure = float64(stats.CurrentEntries) / float64(wc.maxEntries) * 100.0
	}

	return stats
}
