package session

import (
	"sync"
	"time"
)

// Scheduler debounces disposal: every visible-count change rekicks a single
// slot timer, so a burst of appends coalesces into exactly one disposal pass.
// An explicit cancel-and-reschedule handle, never a queue of timers.
type Scheduler struct {
	mu       sync.Mutex
	history  *History
	delay    time.Duration
	keepLast int
	timer    *time.Timer
	onPulse  func() // optional haptic hook for the shell
	closed   bool
}

// NewScheduler wires the scheduler to its history. keepLast is the default
// visible window; the shell adjusts it per viewport via SetKeepLast.
func NewScheduler(history *History, delay time.Duration, keepLast int) *Scheduler {
	return &Scheduler{history: history, delay: delay, keepLast: keepLast}
}

// SetOnPulse registers the haptic callback fired after a non-empty pass.
func (s *Scheduler) SetOnPulse(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPulse = hook
}

// SetKeepLast updates the visible window, a presentation policy owned by the
// caller (e.g. 2 on narrow layouts, 4 on wide ones).
func (s *Scheduler) SetKeepLast(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepLast = n
}

// KeepLast returns the current visible window.
func (s *Scheduler) KeepLast() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepLast
}

// Kick restarts the debounce timer. Called on every visible-count change.
func (s *Scheduler) Kick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.run)
}

// Close cancels any pending pass. Further kicks are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) run() {
	s.mu.Lock()
	keep := s.keepLast
	pulse := s.onPulse
	s.timer = nil
	s.mu.Unlock()

	if moved := s.history.DisposeOldest(keep); moved > 0 && pulse != nil {
		pulse()
	}
}
