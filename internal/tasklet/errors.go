package tasklet

import "errors"

var (
	// ErrStopped is returned when posting to a loop that is not running.
	ErrStopped = errors.New("tasklet: loop stopped")

	// ErrQueueFull is returned by TryPost when the queue has no room.
	ErrQueueFull = errors.New("tasklet: queue full")
)
