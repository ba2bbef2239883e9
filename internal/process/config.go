package process

import (
	"context"
	"time"
)

const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
)

// Config describes the supervised daemon and its restart policy.
type Config struct {
	// Name identifies the process in logs and errors.
	Name string

	Binary  string
	Args    []string
	WorkDir string

	// Env is appended to the parent environment. Nil inherits it unchanged.
	Env []string

	RestartOnFailure bool

	// RestartDelay is the first restart delay. Later delays double up to
	// MaxRestartDelay, with jitter.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for the restart backoff
	// and attempt counter to reset.
	StableThreshold time.Duration

	// MaxRestartAttempts bounds consecutive restarts. Zero means no bound.
	MaxRestartAttempts int

	// GracefulTimeout is the wait between SIGTERM and SIGKILL on Stop.
	GracefulTimeout time.Duration

	// HealthCheckFunc, when set, is called every HealthCheckInterval while
	// the process runs. Three failures in a row kill it, which counts as
	// an unexpected exit.
	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration

	OnStart   func()
	OnStop    func(err error)
	OnRestart func(attempt int)
}

// DefaultConfig returns a restarting configuration with at most ten
// consecutive restarts.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:               name,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   true,
		MaxRestartAttempts: 10,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	setDefault(&c.RestartDelay, defaultRestartDelay)
	setDefault(&c.MaxRestartDelay, defaultMaxRestartDelay)
	setDefault(&c.StableThreshold, defaultStableThreshold)
	setDefault(&c.GracefulTimeout, defaultGracefulTimeout)
	setDefault(&c.HealthCheckInterval, defaultHealthCheckInterval)
	return c
}

func setDefault(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}
