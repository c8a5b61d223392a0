package game

import (
	"sync"
	"time"
)

// TimerKey names a scheduled timer by the screen it belongs to and its
// purpose. Keying by screen makes "cancel everything for screen X" a
// single bulk operation.
type TimerKey struct {
	Screen  Screen
	Purpose string
}

type timerHandle struct {
	timer     *time.Timer
	cancelled bool
}

// Scheduler owns every pending timer for one agent. Callbacks are
// handed to exec, which serializes them onto the agent's run queue, so
// a callback never races with event handling. A cancelled timer whose
// underlying time.Timer already fired is suppressed on the run queue:
// its callback is never invoked.
type Scheduler struct {
	mu     sync.Mutex
	timers map[TimerKey]*timerHandle
	exec   func(func())
}

// NewScheduler creates a scheduler delivering callbacks through exec.
func NewScheduler(exec func(func())) *Scheduler {
	return &Scheduler{
		timers: make(map[TimerKey]*timerHandle),
		exec:   exec,
	}
}

// After schedules fn to run after d. Scheduling on a key that already
// has a pending timer replaces it.
func (s *Scheduler) After(key TimerKey, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.cancelled = true
		old.timer.Stop()
	}

	h := &timerHandle{}
	h.timer = time.AfterFunc(d, func() {
		s.exec(func() {
			s.mu.Lock()
			if h.cancelled || s.timers[key] != h {
				s.mu.Unlock()
				return
			}
			delete(s.timers, key)
			s.mu.Unlock()
			fn()
		})
	})
	s.timers[key] = h
}

// Cancel stops the timer for key, if any.
func (s *Scheduler) Cancel(key TimerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.timers[key]; ok {
		h.cancelled = true
		h.timer.Stop()
		delete(s.timers, key)
	}
}

// CancelScreen stops every timer belonging to one screen.
func (s *Scheduler) CancelScreen(screen Screen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, h := range s.timers {
		if key.Screen == screen {
			h.cancelled = true
			h.timer.Stop()
			delete(s.timers, key)
		}
	}
}

// CancelAll stops every pending timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, h := range s.timers {
		h.cancelled = true
		h.timer.Stop()
		delete(s.timers, key)
	}
}

// Active reports whether a timer is pending for key.
func (s *Scheduler) Active(key TimerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// ActiveCount returns the number of pending timers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
