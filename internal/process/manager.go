package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/meshgate/internal/backoff"
)

// Status is the supervision state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Logger is the subset of logging.Logger the manager uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs one daemon and restarts it when it exits unexpectedly.
type Manager struct {
	config  Config
	logger  Logger
	backoff *backoff.Backoff

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastErr   error
	startedAt time.Time
	stopping  bool

	// stop is closed by Stop; done is closed when supervision ends.
	stop chan struct{}
	done chan struct{}
}

// NewManager fills unset durations in cfg with defaults.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		config:  cfg,
		logger:  noopLogger{},
		status:  StatusStopped,
		backoff: backoff.New(backoff.Config{Initial: cfg.RestartDelay, Max: cfg.MaxRestartDelay}),
	}
}

// SetLogger must be called before Start.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the daemon and supervises it until Stop is called or ctx
// is cancelled. A launch failure is returned directly and nothing is
// supervised.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.supervisingLocked() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopping = false
	m.restarts = 0
	m.lastErr = nil
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.backoff.Reset()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastErr = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.supervise(ctx, stop, done)
	return nil
}

func (m *Manager) supervisingLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Stop ends supervision. A running daemon gets SIGTERM on its process group
// and SIGKILL if it is still alive after GracefulTimeout. Stop returns once
// supervision has ended.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopping {
		m.stopping = true
		close(m.stop)
	}
	cmd, done := m.cmd, m.done
	alive := m.status == StatusRunning
	m.mu.Unlock()

	// Not started, or waiting out a restart delay: the stop channel ends it.
	if !alive || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping daemon", "name", m.config.Name, "pid", pid)
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		m.logger.Warn("sigterm failed", "name", m.config.Name, "error", err)
	}

	grace := time.NewTimer(m.config.GracefulTimeout)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
	}

	m.logger.Warn("daemon ignored sigterm, killing", "name", m.config.Name, "after", m.config.GracefulTimeout)
	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// signalGroup signals every process in the group led by pid. A group that
// is already gone is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) stopRequested() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopping
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError is the reason for the most recent unexpected exit or failed
// launch.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// RestartCount is the number of consecutive restarts since the last
// stable run.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restarts
}

// Uptime is the length of the current run, zero when not running.
func (m *Manager) Uptime() time.Duration {
	return m.Stats().Uptime
}

// PID is the process ID of the latest run, zero before the first launch.
func (m *Manager) PID() int {
	return m.Stats().PID
}

// Stats is a snapshot of the supervisor.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Name: m.config.Name, Status: m.status, RestartCount: m.restarts}
	if m.cmd != nil && m.cmd.Process != nil {
		s.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		s.Uptime = time.Since(m.startedAt)
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
