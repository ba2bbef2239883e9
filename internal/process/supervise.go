package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// healthFailureLimit consecutive probe failures kill the daemon.
	healthFailureLimit = 3
	probeTimeout       = 5 * time.Second
	maxOutputLine      = 64 << 10
)

// launch starts one run of the daemon in its own process group.
func (m *Manager) launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from validated config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Dir = m.config.WorkDir
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s stdout: %w", m.config.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%s stderr: %w", m.config.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, &startError{err: err})
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startedAt = time.Now()
	m.mu.Unlock()

	go m.relay("stdout", stdout)
	go m.relay("stderr", stderr)

	m.logger.Info("daemon started", "name", m.config.Name, "binary", m.config.Binary, "pid", cmd.Process.Pid)
	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

// relay logs the daemon's output line by line at debug level.
func (m *Manager) relay(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxOutputLine)
	for sc.Scan() {
		m.logger.Debug("daemon output", "name", m.config.Name, "stream", stream, "line", sc.Text())
	}
}

// supervise waits for each run to end and decides whether to relaunch.
// It closes done when supervision is over.
func (m *Manager) supervise(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		m.mu.RLock()
		cmd, started := m.cmd, m.startedAt
		m.mu.RUnlock()

		err := m.watch(ctx, cmd)

		if m.stopRequested() || ctx.Err() != nil {
			m.setStatus(StatusStopped)
			m.logger.Info("daemon stopped", "name", m.config.Name)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		if err == nil {
			err = errors.New("exited with status 0")
		}
		ran := time.Since(started)
		m.logger.Warn("daemon exited unexpectedly", "name", m.config.Name, "error", err, "ran_for", ran)

		m.mu.Lock()
		m.lastErr = err
		m.status = StatusFailed
		if ran >= m.config.StableThreshold {
			m.restarts = 0
			m.backoff.Reset()
		}
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}
		if !m.relaunch(ctx, stop) {
			return
		}
	}
}

// watch blocks until the run ends. With a health probe configured it kills
// a run that fails healthFailureLimit probes in a row.
func (m *Manager) watch(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if m.config.HealthCheckFunc == nil {
		return <-exited
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			// cmd.Cancel kills the group; wait for the reap.
			<-exited
			return ctx.Err()
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := m.config.HealthCheckFunc(probeCtx)
		cancel()

		if err == nil {
			if failures > 0 {
				m.logger.Info("daemon healthy again", "name", m.config.Name, "after_failures", failures)
			}
			failures = 0
			continue
		}

		failures++
		m.logger.Warn("daemon health probe failed", "name", m.config.Name, "error", err, "consecutive", failures)
		if failures < healthFailureLimit {
			continue
		}

		m.logger.Error("daemon unresponsive, killing", "name", m.config.Name)
		_ = signalGroup(cmd.Process.Pid, syscall.SIGKILL)
		<-exited
		return fmt.Errorf("killed after %d failed health checks", failures)
	}
}

// nextRestartDelay advances the restart backoff.
func (m *Manager) nextRestartDelay() time.Duration {
	return m.backoff.Next()
}

// relaunch waits out the backoff and starts a new run, retrying failed
// launches. It reports false when supervision should end instead.
func (m *Manager) relaunch(ctx context.Context, stop <-chan struct{}) bool {
	for {
		if !m.config.RestartOnFailure {
			m.logger.Info("restart disabled", "name", m.config.Name)
			return false
		}
		if err := m.LastError(); !IsRecoverable(err) {
			m.logger.Error("daemon cannot be restarted", "name", m.config.Name, "error", err)
			return false
		}

		m.mu.Lock()
		if limit := m.config.MaxRestartAttempts; limit > 0 && m.restarts >= limit {
			m.mu.Unlock()
			m.logger.Error("restart limit reached", "name", m.config.Name, "attempts", limit)
			return false
		}
		m.restarts++
		attempt := m.restarts
		m.mu.Unlock()

		delay := m.nextRestartDelay()
		m.logger.Info("restarting daemon", "name", m.config.Name, "attempt", attempt, "delay", delay)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		wait := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			wait.Stop()
			m.setStatus(StatusStopped)
			return false
		case <-stop:
			wait.Stop()
			m.setStatus(StatusStopped)
			return false
		case <-wait.C:
		}

		err := m.launch(ctx)
		if err == nil {
			return true
		}
		m.logger.Error("relaunch failed", "name", m.config.Name, "error", err)
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
	}
}
