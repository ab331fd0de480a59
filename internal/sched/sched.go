// Package sched provides the timer/scheduler glue used for timeouts,
// delayed closures, and coalescing windows, keyed by (id, kind) so
// cancellation is O(1).
package sched

import (
	"sync"
	"time"
)

// Key identifies one scheduled task uniquely, e.g. (roomID, "stateTimeout").
type Key struct {
	ID   uint64
	Kind string
}

// Scheduler runs keyed, cancelable one-shot callbacks on its own
// goroutine, matching the "single monotonic-clock-driven scheduler on
// the main loop" design note.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[Key]*time.Timer
	closed  bool
}

// New creates a Scheduler. Call Stop when the relay shuts down to cancel
// every outstanding timer.
func New() *Scheduler {
	return &Scheduler{timers: make(map[Key]*time.Timer)}
}

// After arms fn to run after d, replacing any existing timer under key.
// fn runs on its own goroutine; callers that touch shared state must
// synchronize the way every other main-loop handler does (post back onto
// the relay's event channel rather than mutating state from fn directly).
func (s *Scheduler) After(key Key, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops the timer under key, if any, in O(1).
func (s *Scheduler) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// CancelAllForID cancels every timer whose Key.ID matches id, used when a
// room closes and every watchdog keyed by that room must die with it.
func (s *Scheduler) CancelAllForID(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.timers {
		if k.ID == id {
			t.Stop()
			delete(s.timers, k)
		}
	}
}

// Pending reports whether a timer is currently armed under key.
func (s *Scheduler) Pending(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Stop cancels every outstanding timer. The Scheduler cannot be reused
// after Stop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
	s.closed = true
}
