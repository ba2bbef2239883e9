package borderrouter

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshgate/internal/backoff"
	"github.com/nerrad567/meshgate/internal/tasklet"
)

// BackhaulSettings describe the backhaul interface.
type BackhaulSettings struct {
	Driver   BackhaulDriver
	DriverID DriverID
	Metric   int

	// StaticPrefix is valid only for static bootstrap.
	StaticPrefix netip.Prefix

	// DefaultRoute is added after a static bootstrap when non-nil.
	DefaultRoute *Route
}

// Static reports whether the backhaul bootstraps from a configured prefix.
func (b BackhaulSettings) Static() bool {
	return b.StaticPrefix.IsValid()
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Backhaul BackhaulSettings
	Tracker  TrackerConfig
	Retry    RetryConfig

	MeshMetric int

	// PrefixLength is the length of the prefix delegated onto the mesh.
	PrefixLength int

	// Reconnect enables bootstrap retries after mesh failures.
	Reconnect bool
}

// RouterOptions holds the dependencies for NewRouter.
type RouterOptions struct {
	Config    RouterConfig
	Profile   MeshProfile
	Stack     Stack
	Scheduler tasklet.Scheduler

	// Optional.
	Backoff  *backoff.Backoff
	Clock    clock.Clock
	Logger   Logger
	Observer Observer
}

// Router classifies driver and interface events and drives the tracker and
// retry controller. It is the single owner of both; every method must run on
// the router loop.
type Router struct {
	cfg     RouterConfig
	profile MeshProfile
	stack   Stack
	clock   clock.Clock
	logger  Logger

	tracker *Tracker
	retry   *RetryController

	meshDriver DriverID

	// ctx is used for work started from timers.
	ctx context.Context

	meshConnected   bool
	meshBringUp     bool
	backbonePair    [2]InterfaceID
	backboneStarted bool
}

// NewRouter builds a router with its tracker and retry controller.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Profile == nil {
		return nil, errors.New("borderrouter: mesh profile is required")
	}
	if opts.Stack == nil {
		return nil, errors.New("borderrouter: stack is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("borderrouter: scheduler is required")
	}
	if opts.Config.PrefixLength == 0 {
		opts.Config.PrefixLength = 64
	}
	if opts.Config.PrefixLength < 0 || opts.Config.PrefixLength > 128 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPrefixLength, opts.Config.PrefixLength)
	}

	r := &Router{
		cfg:     opts.Config,
		profile: opts.Profile,
		stack:   opts.Stack,
		clock:   opts.Clock,
		logger:  opts.Logger,
		ctx:     context.Background(),

		meshDriver: opts.Profile.BringUpParams(Unset).DriverID,
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}

	r.tracker = NewTracker(opts.Config.Tracker, opts.Stack, opts.Scheduler)
	r.tracker.SetClock(r.clock)
	r.tracker.SetLogger(r.logger)

	b := opts.Backoff
	if b == nil {
		b = backoff.New(backoff.Config{Initial: opts.Config.Retry.Initial, Max: opts.Config.Retry.Max})
	}
	r.retry = NewRetryControllerWithBackoff(opts.Config.Retry, b, opts.Scheduler, r.retryBootstrap)
	r.retry.SetClock(r.clock)
	r.retry.SetLogger(r.logger)

	if opts.Observer != nil {
		r.SetObserver(opts.Observer)
	}

	return r, nil
}

// SetObserver replaces the observer of the tracker and retry controller.
// Call it before Start or from the router loop.
func (r *Router) SetObserver(obs Observer) {
	r.tracker.SetObserver(obs)
	r.retry.SetObserver(obs)
}

// Tracker returns the connection state tracker.
func (r *Router) Tracker() *Tracker { return r.tracker }

// Retry returns the retry controller.
func (r *Router) Retry() *RetryController { return r.retry }

// Start brings up the mesh interface unless the mesh profile waits for the
// backhaul. The backhaul itself is brought up by its driver link-up event.
func (r *Router) Start(ctx context.Context) {
	r.ctx = ctx
	r.tracker.SetContext(ctx)
	r.logger.Info("border router starting",
		"mesh_mode", r.profile.Mode(),
		"backhaul_driver", r.cfg.Backhaul.Driver,
	)
	if r.profile.AwaitsBackhaul() {
		r.logger.Info("mesh bring-up deferred until backhaul bootstrap")
		return
	}
	r.bringUpMesh(ctx)
}

// HandleDriverStatus reacts to a driver link change.
func (r *Router) HandleDriverStatus(ctx context.Context, ev DriverEvent) {
	switch ev.DriverID {
	case r.cfg.Backhaul.DriverID:
		if ev.LinkUp {
			r.bringUpBackhaul(ctx)
		} else {
			r.bringDownBackhaul(ctx)
		}
	case r.meshDriver:
		if ev.LinkUp {
			if !r.profile.AwaitsBackhaul() || r.tracker.State().BackhaulReady {
				r.bringUpMesh(ctx)
			}
		} else {
			r.bringDownMesh(ctx)
		}
	default:
		r.logger.Warn("driver status for unknown driver", "driver_id", ev.DriverID, "link_up", ev.LinkUp)
	}
}

// HandleInterfaceStatus reacts to a bootstrap status change.
func (r *Router) HandleInterfaceStatus(ctx context.Context, ev InterfaceEvent) {
	state := r.tracker.State()
	switch {
	case ev.InterfaceID.Valid() && ev.InterfaceID == state.BackhaulInterfaceID:
		r.backhaulStatus(ctx, ev.Status)
	case ev.InterfaceID.Valid() && ev.InterfaceID == state.MeshInterfaceID:
		r.meshStatus(ctx, ev.Status)
	default:
		r.logger.Debug("status for unknown interface", "interface_id", ev.InterfaceID, "status", ev.Status)
	}
}

// RetryBootstrap triggers a mesh bring-up outside the backoff schedule and
// clears a previous give-up.
func (r *Router) RetryBootstrap(ctx context.Context) {
	if r.retry.State() == RetryGaveUp {
		r.logger.Info("retry controller reset by operator")
	}
	r.retry.Reset()
	r.bringUpMesh(ctx)
}

// Snapshot returns the combined router state.
func (r *Router) Snapshot() Snapshot {
	return Snapshot{
		At:         r.clock.Now(),
		MeshMode:   r.profile.Mode(),
		Backhaul:   r.cfg.Backhaul.Driver,
		Connection: r.tracker.State(),
		Retry:      r.retry.Status(),

		MeshBringUpOngoing: r.meshBringUp,
	}
}

// RoutingTable returns the current stack routing table.
func (r *Router) RoutingTable(ctx context.Context) ([]RouteEntry, error) {
	return r.stack.RoutingTable(ctx)
}

// Close cancels pending timers. Interfaces are left as they are.
func (r *Router) Close() {
	r.retry.Cancel()
	r.tracker.Close()
}

func (r *Router) backhaulStatus(ctx context.Context, status InterfaceStatus) {
	switch status {
	case StatusBootstrapReady:
		r.backhaulReady(ctx)
	case StatusPhyDown, StatusConnectionDown:
		r.logger.Warn("backhaul connection lost", "status", status)
		r.tracker.SetBackhaulConnection(ctx, false)
	default:
		r.logger.Warn("backhaul bootstrap problem", "status", status)
	}
}

func (r *Router) backhaulReady(ctx context.Context) {
	id := r.tracker.State().BackhaulInterfaceID

	addr, err := r.stack.GlobalAddress(ctx, id)
	if err != nil {
		r.logger.Warn("backhaul global address unavailable", "interface_id", id, "error", err)
	} else {
		r.logger.Info("backhaul bootstrap ready", "interface_id", id, "address", addr)
		if err := r.tracker.SetDelegatedPrefix(addr.As16(), r.cfg.PrefixLength); err != nil {
			r.logger.Error("failed to record delegated prefix", "error", err)
		}
	}

	if err := r.stack.SetInterfaceMetric(ctx, id, r.cfg.Backhaul.Metric); err != nil {
		r.logger.Warn("failed to set backhaul metric", "interface_id", id, "error", err)
	}

	if r.cfg.Backhaul.Static() && r.cfg.Backhaul.DefaultRoute != nil {
		route := *r.cfg.Backhaul.DefaultRoute
		if err := r.stack.AddRoute(ctx, id, route); err != nil {
			r.logger.Warn("failed to add backhaul default route", "prefix", route.Prefix, "next_hop", route.NextHop, "error", err)
		}
	}

	r.tracker.SetBackhaulConnection(ctx, true)

	if r.profile.AwaitsBackhaul() && !r.tracker.State().MeshInterfaceID.Valid() {
		r.bringUpMesh(ctx)
	}
}

func (r *Router) meshStatus(ctx context.Context, status InterfaceStatus) {
	if status == StatusBootstrapReady {
		id := r.tracker.State().MeshInterfaceID
		r.logger.Info("mesh bootstrap ready", "interface_id", id)
		if err := r.stack.SetInterfaceMetric(ctx, id, r.cfg.MeshMetric); err != nil {
			r.logger.Warn("failed to set mesh metric", "interface_id", id, "error", err)
		}
		r.meshConnected = true
		r.meshBringUp = false
		r.retry.Success()
		r.tracker.SetMeshConnection(ctx, true)
		return
	}

	wasConnected := r.meshConnected
	r.meshConnected = false
	r.logger.Warn("mesh bootstrap failed", "status", status, "was_connected", wasConnected)
	r.tracker.SetMeshConnection(ctx, false)

	if !r.cfg.Reconnect {
		return
	}
	if wasConnected && status.countsAsReconnect() {
		r.retry.NoteReconnect()
	}
	if _, err := r.retry.Failure(); errors.Is(err, ErrRetryExhausted) {
		r.meshBringUp = false
		r.logger.Error("giving up on mesh bootstrap", "status", status)
	}
}

// retryBootstrap is the retry controller action.
func (r *Router) retryBootstrap() {
	r.bringUpMesh(r.ctx)
}

func (r *Router) bringUpMesh(ctx context.Context) {
	current := r.tracker.State().MeshInterfaceID
	params := r.profile.BringUpParams(current)

	id, err := r.stack.InterfaceBringUp(ctx, KindMesh, params)
	if err != nil {
		// Retries are driven by status events only.
		r.logger.Error("mesh interface bring-up failed", "mode", r.profile.Mode(), "error", err)
		return
	}
	r.meshBringUp = true
	r.logger.Info("mesh interface bootstrap started", "interface_id", id, "mode", r.profile.Mode())
	r.tracker.SetMeshInterfaceID(id)
	r.interfacesChanged(ctx)
}

func (r *Router) bringDownMesh(ctx context.Context) {
	id := r.tracker.State().MeshInterfaceID
	r.retry.Cancel()
	r.meshConnected = false
	r.meshBringUp = false
	if !id.Valid() {
		r.logger.Warn("mesh interface down requested but interface not up")
		return
	}
	if err := r.stack.InterfaceBringDown(ctx, id); err != nil {
		r.logger.Warn("mesh interface bring-down failed", "interface_id", id, "error", err)
	}
	r.tracker.SetMeshConnection(ctx, false)
	r.tracker.SetMeshInterfaceID(Unset)
	r.interfacesChanged(ctx)
}

func (r *Router) bringUpBackhaul(ctx context.Context) {
	if r.tracker.State().BackhaulInterfaceID.Valid() {
		r.logger.Debug("backhaul interface already active")
		return
	}

	b := r.cfg.Backhaul
	params := BringUpParams{
		InterfaceID: Unset,
		DriverID:    b.DriverID,
		Name:        "bh0",
		Driver:      b.Driver,
		StaticAddr:  b.StaticPrefix,
	}
	id, err := r.stack.InterfaceBringUp(ctx, b.Driver.Kind(), params)
	if err != nil {
		r.logger.Error("backhaul bootstrap start failed", "driver", b.Driver, "error", err)
		return
	}
	r.logger.Info("backhaul bootstrap started", "interface_id", id, "driver", b.Driver)
	r.tracker.SetBackhaulInterfaceID(id)
	r.interfacesChanged(ctx)
}

func (r *Router) bringDownBackhaul(ctx context.Context) {
	id := r.tracker.State().BackhaulInterfaceID
	if !id.Valid() {
		r.logger.Warn("backhaul interface down failed", "reason", "interface not up")
		return
	}
	if err := r.stack.InterfaceBringDown(ctx, id); err != nil {
		r.logger.Warn("backhaul interface bring-down failed", "interface_id", id, "error", err)
	}
	r.tracker.SetBackhaulInterfaceID(Unset)
	r.tracker.SetBackhaulConnection(ctx, false)
	r.logger.Info("backhaul interface is down")
	r.interfacesChanged(ctx)
}

// interfacesChanged runs the profile hook once for every new pair of valid
// interface IDs.
func (r *Router) interfacesChanged(ctx context.Context) {
	s := r.tracker.State()
	if !s.MeshInterfaceID.Valid() || !s.BackhaulInterfaceID.Valid() {
		r.backboneStarted = false
		return
	}
	pair := [2]InterfaceID{s.MeshInterfaceID, s.BackhaulInterfaceID}
	if r.backboneStarted && pair == r.backbonePair {
		return
	}
	if err := r.profile.InterfacesKnown(ctx, r.stack, pair[0], pair[1]); err != nil {
		r.logger.Error("mesh profile setup failed", "mode", r.profile.Mode(), "error", err)
		return
	}
	r.backbonePair = pair
	r.backboneStarted = true
}
