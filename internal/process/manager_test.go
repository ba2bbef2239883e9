package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/meshgate/internal/backoff"
)

func TestNewManager_Defaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want Config
	}{
		{
			name: "unset durations",
			cfg:  Config{Name: "stackd", Binary: "/usr/sbin/stackd"},
			want: Config{
				RestartDelay:        5 * time.Second,
				MaxRestartDelay:     5 * time.Minute,
				StableThreshold:     2 * time.Minute,
				GracefulTimeout:     10 * time.Second,
				HealthCheckInterval: 30 * time.Second,
			},
		},
		{
			name: "explicit durations kept",
			cfg: Config{
				Name:                "stackd",
				Binary:              "/usr/sbin/stackd",
				RestartDelay:        time.Second,
				MaxRestartDelay:     time.Minute,
				StableThreshold:     5 * time.Minute,
				GracefulTimeout:     3 * time.Second,
				HealthCheckInterval: time.Minute,
			},
			want: Config{
				RestartDelay:        time.Second,
				MaxRestartDelay:     time.Minute,
				StableThreshold:     5 * time.Minute,
				GracefulTimeout:     3 * time.Second,
				HealthCheckInterval: time.Minute,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewManager(tt.cfg).config
			checks := []struct {
				field     string
				got, want time.Duration
			}{
				{"RestartDelay", got.RestartDelay, tt.want.RestartDelay},
				{"MaxRestartDelay", got.MaxRestartDelay, tt.want.MaxRestartDelay},
				{"StableThreshold", got.StableThreshold, tt.want.StableThreshold},
				{"GracefulTimeout", got.GracefulTimeout, tt.want.GracefulTimeout},
				{"HealthCheckInterval", got.HealthCheckInterval, tt.want.HealthCheckInterval},
			}
			for _, c := range checks {
				if c.got != c.want {
					t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
				}
			}
			if got.Name != tt.cfg.Name || got.Binary != tt.cfg.Binary {
				t.Errorf("identity = %q %q, want %q %q", got.Name, got.Binary, tt.cfg.Name, tt.cfg.Binary)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("stackd", "/usr/sbin/stackd", []string{"--radio", "/dev/ttyACM0"})

	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
	if len(cfg.Args) != 2 || cfg.Args[1] != "/dev/ttyACM0" {
		t.Errorf("Args = %v", cfg.Args)
	}
	if cfg.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want 5s", cfg.RestartDelay)
	}
}

func TestManager_Idle(t *testing.T) {
	m := NewManager(Config{Name: "stackd", Binary: "/bin/true"})

	want := Stats{Name: "stackd", Status: StatusStopped}
	if got := m.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if m.IsRunning() || m.PID() != 0 || m.Uptime() != 0 || m.LastError() != nil {
		t.Errorf("idle manager reports running=%v pid=%d uptime=%v err=%v",
			m.IsRunning(), m.PID(), m.Uptime(), m.LastError())
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() before Start() error = %v", err)
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/sleep",
		Args:   []string{"10"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	defer m.Stop()

	if err := m.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if m.PID() == 0 {
		t.Error("PID() = 0 after Start()")
	}
	if m.Status() != StatusRunning {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusRunning)
	}
	if m.Uptime() <= 0 {
		t.Errorf("Uptime() = %v while running", m.Uptime())
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	if m.Status() != StatusStopped {
		t.Errorf("Status() after Stop() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{
		Name:   "bad-binary",
		Binary: "/nonexistent/binary",
	})

	ctx := context.Background()
	err := m.Start(ctx)
	if err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}

	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if IsRecoverable(err) {
		t.Errorf("IsRecoverable(%v) = true, want false", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after failed start error = %v", err)
	}
}

func TestManager_RestartBackoff(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	want := backoff.Config{Initial: time.Second, Max: 30 * time.Second}
	if got := m.backoff.Config(); got != want {
		t.Fatalf("backoff config = %+v, want %+v", got, want)
	}

	// A midpoint random source makes the jitter factor exactly 1.
	m.backoff = backoff.NewWithRand(want, func(int) int { return 500 })

	wantDelays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, w := range wantDelays {
		if got := m.nextRestartDelay(); got != w {
			t.Errorf("restart %d delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	t.Run("nil error is recoverable", func(t *testing.T) {
		if !IsRecoverable(nil) {
			t.Error("IsRecoverable(nil) = false, want true")
		}
	})

	t.Run("plain error is recoverable", func(t *testing.T) {
		err := context.DeadlineExceeded
		if !IsRecoverable(err) {
			t.Error("plain error should be recoverable by default")
		}
	})

	t.Run("recoverable error interface", func(t *testing.T) {
		err := &testRecoverableError{recoverable: true}
		if !IsRecoverable(err) {
			t.Error("recoverable error should return true")
		}
	})

	t.Run("non-recoverable error interface", func(t *testing.T) {
		err := &testRecoverableError{recoverable: false}
		if IsRecoverable(err) {
			t.Error("non-recoverable error should return false")
		}
	})

	launch := []struct {
		name string
		err  error
		want bool
	}{
		{"missing binary", fs.ErrNotExist, false},
		{"not executable", fs.ErrPermission, false},
		{"not in PATH", exec.ErrNotFound, false},
		{"other launch failure", errors.New("too many open files"), true},
	}
	for _, tt := range launch {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("starting stackd: %w", &startError{err: tt.err})
			if got := IsRecoverable(err); got != tt.want {
				t.Errorf("IsRecoverable(%v) = %v, want %v", err, got, tt.want)
			}
		})
	}
}

// testRecoverableError implements RecoverableError for testing.
type testRecoverableError struct {
	recoverable bool
}

func (e *testRecoverableError) Error() string       { return "test error" }
func (e *testRecoverableError) IsRecoverable() bool { return e.recoverable }

func TestManager_OnStartCallback(t *testing.T) {
	started := false
	m := NewManager(Config{
		Name:   "callback-test",
		Binary: "/bin/sleep",
		Args:   []string{"60"},
		OnStart: func() {
			started = true
		},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	if !started {
		t.Error("OnStart callback was not called")
	}
}

// waitDone waits for supervision to end.
func waitDone(t *testing.T, m *Manager, timeout time.Duration) {
	t.Helper()
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("monitor still running after %v (status %q)", timeout, m.Status())
	}
}

func TestManager_RestartsUntilLimit(t *testing.T) {
	var restarts atomic.Int32
	var stops atomic.Int32
	m := NewManager(Config{
		Name:               "crashy",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 3"},
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnRestart:          func(int) { restarts.Add(1) },
		OnStop:             func(error) { stops.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, m, 5*time.Second)

	if got := restarts.Load(); got != 2 {
		t.Errorf("restarts = %d, want 2", got)
	}
	if got := stops.Load(); got != 3 {
		t.Errorf("OnStop calls = %d, want 3", got)
	}
	if got := m.RestartCount(); got != 2 {
		t.Errorf("RestartCount() = %d, want 2", got)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil after crash")
	}
}

func TestManager_NoRestartWhenDisabled(t *testing.T) {
	var restarts atomic.Int32
	m := NewManager(Config{
		Name:      "once",
		Binary:    "/bin/sh",
		Args:      []string{"-c", "exit 1"},
		OnRestart: func(int) { restarts.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, m, 5*time.Second)

	if got := restarts.Load(); got != 0 {
		t.Errorf("restarts = %d, want 0", got)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_StopDuringRestartDelay(t *testing.T) {
	m := NewManager(Config{
		Name:             "slow-restart",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "exit 1"},
		RestartOnFailure: true,
		RestartDelay:     time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.Status() != StatusFailed {
		if time.Now().After(deadline) {
			t.Fatalf("Status() = %q, process never exited", m.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() blocked on the restart delay")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_HealthCheckKillsProcess(t *testing.T) {
	m := NewManager(Config{
		Name:                "hung",
		Binary:              "/bin/sleep",
		Args:                []string{"60"},
		HealthCheckInterval: 10 * time.Millisecond,
		HealthCheckFunc: func(context.Context) error {
			return errors.New("no response")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, m, 5*time.Second)

	err := m.LastError()
	if err == nil || !strings.Contains(err.Error(), "failed health checks") {
		t.Errorf("LastError() = %v, want health check failure", err)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after health check kill")
	}
}

func TestManager_ContextCancelStops(t *testing.T) {
	m := NewManager(Config{
		Name:             "ctx",
		Binary:           "/bin/sleep",
		Args:             []string{"60"},
		RestartOnFailure: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	cancel()
	waitDone(t, m, 5*time.Second)

	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
}
