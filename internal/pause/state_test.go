package pause

import (
	"sync"
	"testing"
	"time"
)

func TestAdvanceOnlyCountsWhilePaused(t *testing.T) {
	s := New()
	if paused, remind := s.Advance(time.Second, time.Minute); paused || remind {
		t.Fatalf("Advance on running state = %v, %v", paused, remind)
	}
	if s.Elapsed() != 0 {
		t.Fatalf("elapsed = %s, want 0", s.Elapsed())
	}
}

func TestAdvanceRemindsAndResets(t *testing.T) {
	s := New()
	s.SetPaused(true)

	step, every := 20*time.Second, time.Minute
	var reminders int
	for i := 0; i < 3; i++ {
		paused, remind := s.Advance(step, every)
		if !paused {
			t.Fatalf("iteration %d: not paused", i)
		}
		if remind {
			reminders++
		}
	}
	if reminders != 1 {
		t.Fatalf("reminders = %d, want 1", reminders)
	}
	if s.Elapsed() != 0 {
		t.Fatalf("elapsed = %s after reminder, want 0", s.Elapsed())
	}

	s.Advance(step, every)
	if s.Elapsed() != step {
		t.Fatalf("elapsed = %s, want %s", s.Elapsed(), step)
	}
}

func TestUnpauseResetsElapsed(t *testing.T) {
	s := New()
	if !s.SetPaused(true) {
		t.Fatal("expected change on first pause")
	}
	if s.SetPaused(true) {
		t.Fatal("expected no change on repeated pause")
	}
	s.Advance(time.Second, time.Hour)
	s.SetPaused(false)
	if s.IsPaused() || s.Elapsed() != 0 {
		t.Fatalf("paused=%v elapsed=%s after unpause", s.IsPaused(), s.Elapsed())
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.SetPaused((i+j)%2 == 0)
				s.Advance(time.Millisecond, time.Second)
				_ = s.IsPaused()
			}
		}(i)
	}
	wg.Wait()
}
