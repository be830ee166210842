// Package testutil holds deterministic time helpers shared by tests.
// Nothing here may be imported from non-test code.
package testutil

import (
	"context"
	gosync "sync"
	"time"
)

// ManualSleeper satisfies the executor's Sleeper without ever sleeping.
// It records every requested delay so retry tests can assert on backoff
// behavior while running instantly.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualSleeper struct {
	mu    gosync.Mutex
	slept []time.Duration
}

// NewManualSleeper returns an empty ManualSleeper.
func NewManualSleeper() *ManualSleeper {
	return &ManualSleeper{}
}

// Sleep records the requested delay and returns immediately, honoring
// context cancellation the way a real sleep would.
func (s *ManualSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
	return nil
}

// Slept returns a copy of the recorded delays, in order.
func (s *ManualSleeper) Slept() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.slept))
	copy(out, s.slept)
	return out
}

// Reset clears the recorded delays for test reuse.
func (s *ManualSleeper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = nil
}

// FixedNow returns a clock function pinned to t. Inject it wherever a
// component takes a now func so expiry math is reproducible.
func FixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
