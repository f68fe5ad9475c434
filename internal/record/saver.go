package record

import (
	"sync"
	"time"
)

// saver coalesces save requests into at most one write per window. The first
// request of a burst writes immediately; later requests inside the window only
// mark the record dirty, and the timer writes once more when it fires.
type saver struct {
	mu      sync.Mutex
	window  time.Duration
	write   func()
	timer   *time.Timer
	dirty   bool
	stopped bool
}

func newSaver(window time.Duration, write func()) *saver {
	return &saver{window: window, write: write}
}

func (s *saver) trigger() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.timer = time.AfterFunc(s.window, s.fire)
	s.mu.Unlock()

	s.write()
}

func (s *saver) fire() {
	s.mu.Lock()
	if s.stopped || !s.dirty {
		s.timer = nil
		s.mu.Unlock()
		return
	}
	s.dirty = false
	s.timer = time.AfterFunc(s.window, s.fire)
	s.mu.Unlock()

	s.write()
}

// takePending clears and returns the dirty bit.
func (s *saver) takePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.dirty
	s.dirty = false
	return pending
}

func (s *saver) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.dirty = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
