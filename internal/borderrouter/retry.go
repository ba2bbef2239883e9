package borderrouter

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshgate/internal/backoff"
	"github.com/nerrad567/meshgate/internal/tasklet"
)

// RetryState is the state of the mesh bootstrap retry controller.
type RetryState uint8

const (
	RetryIdle RetryState = iota
	RetryScheduled
	RetryBringingUp
	RetryGaveUp
)

func (s RetryState) String() string {
	switch s {
	case RetryIdle:
		return "IDLE"
	case RetryScheduled:
		return "RETRY_SCHEDULED"
	case RetryBringingUp:
		return "BRINGING_UP"
	case RetryGaveUp:
		return "GIVE_UP"
	default:
		return fmt.Sprintf("RetryState(%d)", s)
	}
}

// MarshalText encodes the state by name.
func (s RetryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *RetryState) UnmarshalText(text []byte) error {
	for st := RetryIdle; st <= RetryGaveUp; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown retry state %q", text)
}

// RetryConfig bounds the retry backoff. Zero Max or MaxAttempts disables the
// respective limit; zero Initial retries immediately.
type RetryConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// RetryController schedules mesh bootstrap retries with jittered exponential
// backoff. It runs on the router loop and is not safe for concurrent use.
type RetryController struct {
	cfg     RetryConfig
	backoff *backoff.Backoff
	sched   tasklet.Scheduler
	action  func()

	clock    clock.Clock
	logger   Logger
	observer Observer

	state      RetryState
	attempts   int
	reconnects int
	current    time.Duration
	timer      tasklet.Slot
}

// NewRetryController creates a controller that calls action when a retry
// timer fires. action runs on the loop after the state moved to BRINGING_UP.
func NewRetryController(cfg RetryConfig, sched tasklet.Scheduler, action func()) *RetryController {
	return NewRetryControllerWithBackoff(cfg, backoff.New(backoff.Config{Initial: cfg.Initial, Max: cfg.Max}), sched, action)
}

// NewRetryControllerWithBackoff is NewRetryController with a caller built
// backoff, used to make jitter deterministic.
func NewRetryControllerWithBackoff(cfg RetryConfig, b *backoff.Backoff, sched tasklet.Scheduler, action func()) *RetryController {
	return &RetryController{
		cfg:      cfg,
		backoff:  b,
		sched:    sched,
		action:   action,
		clock:    clock.New(),
		logger:   noopLogger{},
		observer: noopObserver{},
	}
}

// SetLogger sets the logger.
func (r *RetryController) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetObserver sets the observer notified on every transition.
func (r *RetryController) SetObserver(o Observer) {
	if o != nil {
		r.observer = o
	}
}

// SetClock sets the clock used for event timestamps.
func (r *RetryController) SetClock(c clock.Clock) {
	if c != nil {
		r.clock = c
	}
}

// Status returns a copy of the controller state.
func (r *RetryController) Status() RetryStatus {
	return RetryStatus{
		State:       r.state,
		Attempts:    r.attempts,
		Reconnects:  r.reconnects,
		Backoff:     r.current,
		MaxAttempts: r.cfg.MaxAttempts,
	}
}

// State returns the current state.
func (r *RetryController) State() RetryState {
	return r.state
}

// Failure records a failed or lost bootstrap and schedules the next retry.
//
// It returns the scheduled delay, or ErrRetryExhausted when the attempt
// limit is reached. A failure while a retry is already scheduled keeps the
// pending timer.
func (r *RetryController) Failure() (time.Duration, error) {
	switch r.state {
	case RetryGaveUp:
		return 0, ErrRetryExhausted
	case RetryScheduled:
		r.logger.Debug("retry already scheduled", "attempts", r.attempts)
		return r.current, nil
	}

	if r.cfg.MaxAttempts > 0 && r.attempts >= r.cfg.MaxAttempts {
		r.state = RetryGaveUp
		r.timer.Cancel()
		r.logger.Error("mesh bootstrap retries exhausted", "attempts", r.attempts, "max_attempts", r.cfg.MaxAttempts)
		r.notify(0, true)
		return 0, ErrRetryExhausted
	}

	if r.cfg.Initial == 0 {
		r.logger.Info("retrying mesh bootstrap immediately", "attempt", r.attempts+1)
		r.current = 0
		r.fire()
		return 0, nil
	}

	delay := r.backoff.Next()
	r.current = delay
	r.state = RetryScheduled
	r.timer.Schedule(r.sched, delay, r.fire)
	r.logger.Info("mesh bootstrap retry scheduled", "delay", delay, "attempt", r.attempts+1)
	r.notify(delay, false)
	return delay, nil
}

// NoteReconnect counts a loss of an already bootstrapped mesh.
func (r *RetryController) NoteReconnect() {
	r.reconnects++
}

// Success records a completed bootstrap and resets attempts and backoff.
func (r *RetryController) Success() {
	r.timer.Cancel()
	wasIdle := r.state == RetryIdle && r.attempts == 0
	r.state = RetryIdle
	r.attempts = 0
	r.current = 0
	r.backoff.Reset()
	if !wasIdle {
		r.logger.Info("mesh bootstrap succeeded, retry state reset")
		r.notify(0, false)
	}
}

// Reset leaves GIVE_UP (or any state) and clears all counters.
func (r *RetryController) Reset() {
	r.timer.Cancel()
	r.state = RetryIdle
	r.attempts = 0
	r.reconnects = 0
	r.current = 0
	r.backoff.Reset()
	r.notify(0, false)
}

// Cancel drops a scheduled retry and returns to IDLE. Counters are kept and
// GIVE_UP is left untouched.
func (r *RetryController) Cancel() {
	if r.timer.Cancel() && r.state == RetryScheduled {
		r.state = RetryIdle
		r.notify(0, false)
	}
}

// Pending reports whether a retry timer is scheduled.
func (r *RetryController) Pending() bool {
	return r.timer.Pending()
}

func (r *RetryController) fire() {
	r.attempts++
	r.state = RetryBringingUp
	r.logger.Debug("mesh bootstrap retry", "attempt", r.attempts, "reconnects", r.reconnects)
	r.notify(0, false)
	r.action()
}

func (r *RetryController) notify(delay time.Duration, gaveUp bool) {
	r.observer.RetryChanged(RetryEvent{
		At:     r.clock.Now(),
		Status: r.Status(),
		Delay:  delay,
		GaveUp: gaveUp,
	})
}
