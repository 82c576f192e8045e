package security

import "time"

// Clock is the time source used by the trackers. Tests inject a controllable
// implementation so that window and lockout arithmetic is deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time {
	return time.Now()
}
