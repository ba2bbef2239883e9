// Package tasklettest provides a manual Scheduler for tests that drive
// timers explicitly instead of waiting on a clock.
package tasklettest

import (
	"sort"
	"time"

	"github.com/nerrad567/meshgate/internal/tasklet"
)

// Scheduler records timers and fires them on demand on the calling goroutine.
type Scheduler struct {
	now     time.Duration
	seq     int
	pending []*Timer
	created int
}

var _ tasklet.Scheduler = (*Scheduler)(nil)

// Timer is a timer created by Scheduler.
type Timer struct {
	Delay time.Duration

	due     time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
	s       *Scheduler
}

// NewScheduler returns an empty manual scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// AfterFunc records fn to run once the scheduler has advanced by d.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) tasklet.Timer {
	s.seq++
	s.created++
	t := &Timer{Delay: d, due: s.now + d, seq: s.seq, fn: fn, s: s}
	s.pending = append(s.pending, t)
	return t
}

// Stop removes the timer. It reports whether the timer was pending.
func (t *Timer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.s.remove(t)
	return true
}

// Pending returns the live timers ordered by due time.
func (s *Scheduler) Pending() []*Timer {
	out := append([]*Timer(nil), s.pending...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].due == out[j].due {
			return out[i].seq < out[j].seq
		}
		return out[i].due < out[j].due
	})
	return out
}

// Len returns the number of live timers.
func (s *Scheduler) Len() int {
	return len(s.pending)
}

// Created returns how many timers were ever scheduled.
func (s *Scheduler) Created() int {
	return s.created
}

// Advance moves time forward by d and fires every timer that becomes due,
// including timers scheduled by callbacks within the window.
func (s *Scheduler) Advance(d time.Duration) int {
	target := s.now + d
	fired := 0
	for {
		next := s.Pending()
		if len(next) == 0 || next[0].due > target {
			break
		}
		t := next[0]
		s.now = t.due
		s.fire(t)
		fired++
	}
	s.now = target
	return fired
}

// FireNext fires the earliest pending timer regardless of its delay.
// It reports false when nothing is pending.
func (s *Scheduler) FireNext() bool {
	next := s.Pending()
	if len(next) == 0 {
		return false
	}
	t := next[0]
	if t.due > s.now {
		s.now = t.due
	}
	s.fire(t)
	return true
}

func (s *Scheduler) fire(t *Timer) {
	s.remove(t)
	t.fired = true
	t.fn()
}

func (s *Scheduler) remove(t *Timer) {
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
