package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshgate/internal/borderrouter"
)

const (
	// DefaultQueueSize is the number of pending writes buffered by a Recorder.
	DefaultQueueSize = 256

	drainTimeout = 5 * time.Second
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Logger    Logger
	QueueSize int

	// Initial seeds the snapshot kept by the recorder. Connection and retry
	// events update it and each update is saved with SaveState.
	Initial borderrouter.Snapshot
}

type write struct {
	event *Event
	state *borderrouter.Snapshot
}

// Recorder is a borderrouter.Observer that journals events and the
// resulting router state. Callbacks never block: writes are queued for a
// background goroutine and dropped with a warning when the queue is full.
type Recorder struct {
	repo   Repository
	logger Logger
	queue  chan write

	mu    sync.Mutex
	state borderrouter.Snapshot

	dropped atomic.Int64

	started  atomic.Bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ borderrouter.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, opts RecorderOptions) *Recorder {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Recorder{
		repo:   repo,
		logger: opts.Logger,
		queue:  make(chan write, opts.QueueSize),
		state:  opts.Initial,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine. Writes queued after ctx is cancelled
// are still flushed by Stop.
func (r *Recorder) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run(ctx)
}

// Stop flushes queued writes and stops the writer. Safe to call more than once.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
		if r.started.Load() {
			<-r.done
		}
	})
}

// Dropped returns the number of writes discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// State returns the snapshot as last recorded.
func (r *Recorder) State() borderrouter.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ConnectionChanged journals a tracker transition.
func (r *Recorder) ConnectionChanged(ev borderrouter.ConnectionEvent) {
	payload, err := EncodeConnection(ev.State)
	if err != nil {
		r.logger.Error("encoding connection event", "error", err)
		return
	}

	r.mu.Lock()
	r.state.Connection = ev.State
	r.state.At = ev.At
	state := r.state
	r.mu.Unlock()

	r.enqueue(write{
		event: &Event{Kind: KindConnection, Reason: string(ev.Reason), Payload: payload, CreatedAt: ev.At},
		state: &state,
	})
}

// RetryChanged journals a retry controller transition. A give-up is stored
// under KindGiveUp.
func (r *Recorder) RetryChanged(ev borderrouter.RetryEvent) {
	payload, err := EncodeRetry(ev)
	if err != nil {
		r.logger.Error("encoding retry event", "error", err)
		return
	}

	kind := KindRetry
	if ev.GaveUp {
		kind = KindGiveUp
	}

	r.mu.Lock()
	r.state.Retry = ev.Status
	r.state.At = ev.At
	state := r.state
	r.mu.Unlock()

	r.enqueue(write{
		event: &Event{Kind: kind, Reason: ev.Status.State.String(), Payload: payload, CreatedAt: ev.At},
		state: &state,
	})
}

// RecordSnapshot replaces the recorded state with a full snapshot.
func (r *Recorder) RecordSnapshot(s borderrouter.Snapshot) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.enqueue(write{state: &s})
}

// RecordLifecycle journals a process lifecycle event such as "started".
func (r *Recorder) RecordLifecycle(reason string, at time.Time) {
	r.enqueue(write{event: &Event{Kind: KindLifecycle, Reason: reason, CreatedAt: at}})
}

func (r *Recorder) enqueue(w write) {
	select {
	case <-r.quit:
		r.logger.Debug("journal write after stop", "error", ErrClosed)
		return
	default:
	}

	select {
	case r.queue <- w:
	default:
		r.dropped.Add(1)
		r.logger.Warn("journal queue full, dropping write", "dropped", r.dropped.Load())
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case w := <-r.queue:
			r.write(ctx, w)
		case <-r.quit:
			r.drain(ctx)
			return
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	for {
		select {
		case w := <-r.queue:
			r.write(ctx, w)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, w write) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if w.event != nil {
		if err := r.repo.Create(ctx, w.event); err != nil {
			r.logger.Error("journal write failed", "kind", w.event.Kind, "error", err)
		}
	}
	if w.state != nil {
		if err := r.repo.SaveState(ctx, *w.state); err != nil {
			r.logger.Error("saving router state failed", "error", err)
		}
	}
}
