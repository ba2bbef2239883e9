package borderrouter

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshgate/internal/tasklet"
)

// ShutdownPolicy decides what happens to the DHCPv6 server when the delayed
// shutdown fires.
type ShutdownPolicy string

const (
	// ShutdownWithdraw keeps the server instance and republishes the prefix
	// without the default route flag.
	ShutdownWithdraw ShutdownPolicy = "withdraw"

	// ShutdownDelete stops the server instance before withdrawing the route.
	ShutdownDelete ShutdownPolicy = "delete"
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// ShutdownDelay is how long an active server survives backhaul loss.
	ShutdownDelay time.Duration

	// LeaseTime is the DHCPv6 lease handed to mesh clients.
	LeaseTime time.Duration

	// Policy defaults to ShutdownWithdraw.
	Policy ShutdownPolicy
}

// Tracker holds the backhaul and mesh readiness and keeps the DHCPv6 prefix
// delegation server and default route publication consistent with it.
//
// A Tracker is not safe for concurrent use. All methods, and the shutdown
// timer callback, run on the router loop.
type Tracker struct {
	cfg      TrackerConfig
	stack    Stack
	sched    tasklet.Scheduler
	clock    clock.Clock
	logger   Logger
	observer Observer

	// ctx is used for work started from the shutdown timer.
	ctx context.Context

	state    ConnectionState
	shutdown tasklet.Slot
}

// NewTracker creates a tracker with both interfaces unset.
func NewTracker(cfg TrackerConfig, stack Stack, sched tasklet.Scheduler) *Tracker {
	if cfg.Policy == "" {
		cfg.Policy = ShutdownWithdraw
	}
	t := &Tracker{
		cfg:      cfg,
		stack:    stack,
		sched:    sched,
		clock:    clock.New(),
		logger:   noopLogger{},
		observer: noopObserver{},
		ctx:      context.Background(),
	}
	t.resetState()
	return t
}

// SetLogger sets the logger.
func (t *Tracker) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// SetObserver sets the observer notified after every change.
func (t *Tracker) SetObserver(o Observer) {
	if o != nil {
		t.observer = o
	}
}

// SetClock sets the clock used for event timestamps.
func (t *Tracker) SetClock(c clock.Clock) {
	if c != nil {
		t.clock = c
	}
}

// SetContext sets the context passed to the stack from the shutdown timer.
func (t *Tracker) SetContext(ctx context.Context) {
	if ctx != nil {
		t.ctx = ctx
	}
}

// State returns a copy of the current state.
func (t *Tracker) State() ConnectionState {
	s := t.state
	s.ShutdownPending = t.shutdown.Pending()
	return s
}

// Reset cancels any pending shutdown and returns to the initial state.
// It performs no stack calls.
func (t *Tracker) Reset() {
	t.shutdown.Cancel()
	t.resetState()
	t.notify(ReasonReset)
}

func (t *Tracker) resetState() {
	t.state = ConnectionState{
		MeshInterfaceID:     Unset,
		BackhaulInterfaceID: Unset,
	}
}

// Close cancels a pending shutdown without running it.
func (t *Tracker) Close() {
	t.shutdown.Cancel()
}

// SetMeshInterfaceID records the mesh interface handle, Unset on tear-down.
func (t *Tracker) SetMeshInterfaceID(id InterfaceID) {
	if t.state.MeshInterfaceID == id {
		return
	}
	t.state.MeshInterfaceID = id
	t.notify(ReasonInterfaceChanged)
}

// SetBackhaulInterfaceID records the backhaul interface handle, Unset on tear-down.
func (t *Tracker) SetBackhaulInterfaceID(id InterfaceID) {
	if t.state.BackhaulInterfaceID == id {
		return
	}
	t.state.BackhaulInterfaceID = id
	t.notify(ReasonInterfaceChanged)
}

// SetMeshConnection records the mesh bootstrap state.
//
// When the mesh goes down the server is considered gone with it: the active
// flag is cleared and a pending shutdown is cancelled without any stack call.
func (t *Tracker) SetMeshConnection(ctx context.Context, ready bool) {
	t.state.MeshReady = ready
	if ready {
		t.logger.Debug("mesh connected")
		t.notify(ReasonMeshReady)
		t.startupAttempt(ctx)
		return
	}

	t.logger.Debug("mesh disconnected")
	t.state.DHCPServerActive = false
	t.shutdown.Cancel()
	t.notify(ReasonMeshDown)
}

// SetBackhaulConnection records the backhaul bootstrap state. Losing the
// backhaul only requests a delayed shutdown.
func (t *Tracker) SetBackhaulConnection(ctx context.Context, ready bool) {
	t.state.BackhaulReady = ready
	if ready {
		t.logger.Debug("backhaul connected")
		t.notify(ReasonBackhaulReady)
		t.startupAttempt(ctx)
		return
	}

	t.logger.Debug("backhaul disconnected")
	t.notify(ReasonBackhaulDown)
	t.shutdownRequest()
}

// SetDelegatedPrefix records the prefix delegated onto the mesh. A length of
// zero clears it. The address is kept as given, host bits included.
func (t *Tracker) SetDelegatedPrefix(addr [16]byte, length int) error {
	if length < 0 || length > 128 {
		return fmt.Errorf("%w: got %d", ErrInvalidPrefixLength, length)
	}
	if length == 0 {
		t.state.DelegatedPrefix = netip.Prefix{}
	} else {
		t.state.DelegatedPrefix = netip.PrefixFrom(netip.AddrFrom16(addr), length)
	}
	t.notify(ReasonPrefixSet)
	return nil
}

// startupAttempt starts the DHCPv6 server when both sides are ready, or
// refreshes the default route publication when it already runs.
func (t *Tracker) startupAttempt(ctx context.Context) {
	if t.shutdown.Cancel() {
		t.logger.Debug("pending dhcp server shutdown cancelled")
		t.notify(ReasonShutdownCancelled)
	}

	switch {
	case !t.state.BackhaulReady:
		t.logger.Debug("startup deferred", "reason", "backhaul down")
		// A server left running without backhaul must still wind down.
		t.shutdownRequest()
		return
	case !t.state.MeshReady:
		t.logger.Debug("startup deferred", "reason", "mesh down")
		return
	case !t.state.HasPrefix():
		t.logger.Error("dhcp server prefix length is 0")
		return
	case !t.state.MeshInterfaceID.Valid():
		t.logger.Error("mesh interface id not set")
		return
	}

	id := t.state.MeshInterfaceID
	prefix := t.state.DelegatedPrefix

	if t.state.DHCPServerActive {
		t.logger.Debug("dhcp server already running, refreshing default route", "prefix", prefix)
		if err := t.publish(ctx, true); err != nil {
			t.logger.Error("failed to refresh default route", "prefix", prefix, "error", err)
		}
		return
	}

	if err := t.stack.DHCPPrefixDelegationStart(ctx, id, prefix, t.cfg.LeaseTime); err != nil {
		t.logger.Error("dhcp server start failed", "interface_id", id, "prefix", prefix, "error", err)
		t.notify(ReasonServerFailed)
		return
	}
	if err := t.publish(ctx, true); err != nil {
		t.logger.Error("failed to publish default route", "interface_id", id, "prefix", prefix, "error", err)
		t.notify(ReasonServerFailed)
		return
	}

	t.state.DHCPServerActive = true
	t.logger.Info("dhcp server started", "interface_id", id, "prefix", prefix, "lease", t.cfg.LeaseTime)
	t.notify(ReasonServerStarted)
}

// shutdownRequest arms the delayed shutdown unless one is already pending.
func (t *Tracker) shutdownRequest() {
	if !t.state.DHCPServerActive || t.shutdown.Pending() {
		return
	}
	t.logger.Info("dhcp server shutdown scheduled", "delay", t.cfg.ShutdownDelay)
	t.shutdown.Schedule(t.sched, t.cfg.ShutdownDelay, t.shutdownExpired)
	t.notify(ReasonShutdownPending)
}

func (t *Tracker) shutdownExpired() {
	ctx := t.ctx
	id := t.state.MeshInterfaceID
	prefix := t.state.DelegatedPrefix

	t.state.DHCPServerActive = false

	if id.Valid() && t.state.HasPrefix() {
		if t.cfg.Policy == ShutdownDelete {
			if err := t.stack.DHCPPrefixDelegationStop(ctx, id, prefix); err != nil {
				t.logger.Error("dhcp server stop failed", "interface_id", id, "prefix", prefix, "error", err)
			}
		}
		if err := t.publish(ctx, false); err != nil {
			t.logger.Error("failed to withdraw default route", "interface_id", id, "prefix", prefix, "error", err)
		}
	}

	t.state.DelegatedPrefix = netip.Prefix{}
	t.logger.Info("dhcp server shut down", "interface_id", id, "prefix", prefix, "policy", t.cfg.Policy)
	t.notify(ReasonShutdownComplete)
}

func (t *Tracker) publish(ctx context.Context, defaultRoute bool) error {
	flags := PrefixFlags{DefaultRoute: defaultRoute, DHCP: true, Stable: true}
	return t.stack.PublishPrefix(ctx, t.state.MeshInterfaceID, t.state.DelegatedPrefix, flags)
}

func (t *Tracker) notify(reason Reason) {
	t.observer.ConnectionChanged(ConnectionEvent{
		At:     t.clock.Now(),
		Reason: reason,
		State:  t.State(),
	})
}
