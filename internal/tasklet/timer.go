package tasklet

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// timer was still pending.
	Stop() bool
}

// Scheduler creates one-shot timers whose callbacks run on the loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// ClockScheduler is a Scheduler backed by a clock.Clock.
type ClockScheduler struct {
	clock clock.Clock
	loop  *Loop
}

// NewClockScheduler returns a scheduler that fires on clk and runs the
// callback on loop.
func NewClockScheduler(clk clock.Clock, loop *Loop) *ClockScheduler {
	return &ClockScheduler{clock: clk, loop: loop}
}

// AfterFunc schedules fn to run on the loop after d.
func (s *ClockScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = s.clock.AfterFunc(d, func() {
		// Dropped when the loop has stopped; nothing is left to update.
		_ = s.loop.Post(func() {
			if t.stopped.Load() {
				return
			}
			fn()
		})
	})
	return t
}

// Clock returns the underlying clock.
func (s *ClockScheduler) Clock() clock.Clock {
	return s.clock
}

type loopTimer struct {
	timer   *clock.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	return t.timer.Stop()
}

// Slot owns at most one pending timer. It is not safe for concurrent use and
// belongs to the loop goroutine.
type Slot struct {
	timer Timer
	gen   uint64
}

// Schedule cancels any pending timer and schedules fn after d. The slot is
// empty again by the time fn runs.
func (s *Slot) Schedule(sched Scheduler, d time.Duration, fn func()) {
	s.Cancel()
	gen := s.gen
	s.timer = sched.AfterFunc(d, func() {
		if s.timer == nil || s.gen != gen {
			return
		}
		s.timer = nil
		s.gen++
		fn()
	})
}

// Cancel stops the pending timer. It reports whether one was pending.
func (s *Slot) Cancel() bool {
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.gen++
	return true
}

// Pending reports whether a timer is scheduled and has not fired.
func (s *Slot) Pending() bool {
	return s.timer != nil
}
