// Package pause holds the flag that suppresses periodic probes and the
// elapsed-time accounting that drives the "still paused" reminder.
package pause

import (
	"sync"
	"time"
)

// State is shared by the command loop and the website loop. The lock is only
// held for the read-modify-write itself.
type State struct {
	mu      sync.Mutex
	paused  bool
	elapsed time.Duration
}

func New() *State { return &State{} }

func (s *State) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetPaused sets the flag. Unpausing resets the elapsed counter.
// It reports whether the flag changed.
func (s *State) SetPaused(paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.paused != paused
	s.paused = paused
	if !paused {
		s.elapsed = 0
	}
	return changed
}

// Elapsed returns the time accumulated since the last reminder.
func (s *State) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Advance is called once per website-loop iteration. While paused it adds
// step to the counter; once the counter reaches remindEvery it resets and
// remind is true. When not paused it does nothing.
func (s *State) Advance(step, remindEvery time.Duration) (paused, remind bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return false, false
	}
	s.elapsed += step
	if remindEvery > 0 && s.elapsed >= remindEvery {
		s.elapsed = 0
		return true, true
	}
	return true, false
}
