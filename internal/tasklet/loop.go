package tasklet

import (
	"context"
	"fmt"
	"sync"
)

// DefaultQueueSize is the task queue capacity used by the daemon.
const DefaultQueueSize = 64

// Logger is the logging interface used by the loop.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Loop runs posted tasks sequentially on a single goroutine.
type Loop struct {
	queue chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	running bool

	startOnce sync.Once
	stopOnce  sync.Once

	logger Logger
}

// New creates a loop with the given queue capacity.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		queue:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for recovered task panics.
func (l *Loop) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Start launches the loop goroutine. It stops when ctx is cancelled or Stop
// is called. Calling Start more than once has no effect.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.running = true
		l.mu.Unlock()

		l.wg.Add(1)
		go l.run(ctx)
	})
}

// Stop stops the loop and waits for the running task to finish.
// Tasks still queued are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(l.done)
	})
	l.wg.Wait()
}

// Post queues fn. It blocks while the queue is full and returns ErrStopped
// if the loop is not running.
func (l *Loop) Post(fn func()) error {
	if !l.isRunning() {
		return ErrStopped
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// TryPost queues fn without blocking.
func (l *Loop) TryPost(fn func()) error {
	if !l.isRunning() {
		return ErrStopped
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	default:
		return ErrQueueFull
	}
}

// Call runs fn on the loop and waits for it to complete.
// It must not be called from a task, which would deadlock.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	err := l.Post(func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasklet call: %w", ctx.Err())
	case <-l.done:
		return ErrStopped
	}
}

func (l *Loop) isRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			return
		case <-l.done:
			return
		case fn := <-l.queue:
			l.runTask(fn)
		}
	}
}

// runTask runs one task with panic recovery so a faulty handler cannot take
// the loop down.
func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tasklet task panic recovered", "panic", r)
		}
	}()
	fn()
}
