package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the background sweep runs
const DefaultSweepInterval = 15 * time.Minute

// Sweepable is tracker state that can drop entries with no remaining relevance.
type Sweepable interface {
	Sweep(now time.Time) int
}

// SweepTarget names a Sweepable for logs and metrics
type SweepTarget struct {
	Name   string
	Target Sweepable
}

// SweepObserver is notified after each target is swept
type SweepObserver func(ctx context.Context, target string, removed int)

// Sweeper periodically reclaims expired entries from a set of trackers.
// It runs on its own schedule, independent of request traffic.
type Sweeper struct {
	interval time.Duration
	targets  []SweepTarget
	clock    Clock
	logger   *slog.Logger
	observer SweepObserver

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. Call Start (or Run) to begin the periodic loop;
// SweepOnce can be used without starting it.
func NewSweeper(interval time.Duration, clock Clock, logger *slog.Logger, targets ...SweepTarget) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
		logger.Warn("Invalid sweep interval, using default", "interval", interval)
	}

	return &Sweeper{
		interval: interval,
		targets:  targets,
		clock:    clock,
		logger:   logger,
	}
}

// SetObserver registers a callback invoked after each target is swept.
// Must be called before Start.
func (s *Sweeper) SetObserver(observer SweepObserver) {
	s.observer = observer
}

// Interval returns the sweep interval
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// SweepOnce sweeps every target at the current clock time and returns the
// total number of entries removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := s.clock.Now()
	total := 0
	for _, t := range s.targets {
		removed := t.Target.Sweep(now)
		total += removed
		if s.observer != nil {
			s.observer(ctx, t.Name, removed)
		}
	}

	if total > 0 {
		s.logger.Debug("Sweep completed", "removed", total, "targets", len(s.targets))
	}
	return total
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
// It blocks; run it in a goroutine or use Run with an errgroup.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
		close(done)
	}()

	s.logger.Info("Sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// Stop cancels the loop and waits for it to exit.
// Safe to call multiple times and before Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Run returns a function for errgroup-style lifecycle management. The
// function blocks until ctx is cancelled and treats cancellation as a clean exit.
func (s *Sweeper) Run(ctx context.Context) func() error {
	return func() error {
		err := s.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}
