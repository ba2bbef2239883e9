package stackbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/mqtt"
)

// DefaultStatusInterval is the period between status reports.
const DefaultStatusInterval = 20 * time.Second

// Caller runs fn on the router loop and waits for it. *tasklet.Loop
// implements it.
type Caller interface {
	Call(ctx context.Context, fn func()) error
}

// StatusSource provides the router state. Its methods are only called
// through the Caller. *borderrouter.Router implements it.
type StatusSource interface {
	Snapshot() borderrouter.Snapshot
	RoutingTable(ctx context.Context) ([]borderrouter.RouteEntry, error)
}

// SnapshotSink receives every reported snapshot.
type SnapshotSink interface {
	RecordSnapshot(s borderrouter.Snapshot)
}

// StatusReporterOptions configures a StatusReporter.
type StatusReporterOptions struct {
	Transport Transport
	Caller    Caller
	Source    StatusSource
	QoS       byte

	SiteID   string
	Version  string
	Interval time.Duration

	// Optional.
	Sinks  []SnapshotSink
	Clock  clock.Clock
	Logger Logger
}

// StatusReporter periodically collects the router snapshot and routing
// table, logs them and publishes them retained on meshgate/router/state.
// A report can also be requested with Trigger, and every router
// transition triggers one.
type StatusReporter struct {
	transport Transport
	caller    Caller
	source    StatusSource
	qos       byte
	siteID    string
	version   string
	interval  time.Duration
	sinks     []SnapshotSink
	clock     clock.Clock
	logger    Logger
	topics    mqtt.Topics

	trigger  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ borderrouter.Observer = (*StatusReporter)(nil)

// NewStatusReporter creates a reporter. Call Start to begin reporting.
func NewStatusReporter(opts StatusReporterOptions) (*StatusReporter, error) {
	if opts.Transport == nil || opts.Caller == nil || opts.Source == nil {
		return nil, errors.New("stackbus: status reporter needs transport, caller and source")
	}
	r := &StatusReporter{
		transport: opts.Transport,
		caller:    opts.Caller,
		source:    opts.Source,
		qos:       opts.QoS,
		siteID:    opts.SiteID,
		version:   opts.Version,
		interval:  opts.Interval,
		sinks:     opts.Sinks,
		clock:     opts.Clock,
		logger:    opts.Logger,
		trigger:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if r.interval <= 0 {
		r.interval = DefaultStatusInterval
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

// Start launches the report loop. The first report is sent immediately.
func (r *StatusReporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop ends the report loop. Safe to call more than once.
func (r *StatusReporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// Trigger requests a report as soon as possible. Requests made while one is
// already queued are merged. Never blocks.
func (r *StatusReporter) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *StatusReporter) ConnectionChanged(borderrouter.ConnectionEvent) { r.Trigger() }
func (r *StatusReporter) RetryChanged(borderrouter.RetryEvent)           { r.Trigger() }

// Report collects, logs and publishes one status report. A routing table
// failure is reported in the message instead of failing the report.
func (r *StatusReporter) Report(ctx context.Context) (StateMessage, error) {
	var (
		snap      borderrouter.Snapshot
		routes    []borderrouter.RouteEntry
		routesErr error
	)
	if err := r.caller.Call(ctx, func() {
		snap = r.source.Snapshot()
		routes, routesErr = r.source.RoutingTable(ctx)
	}); err != nil {
		return StateMessage{}, fmt.Errorf("collecting router status: %w", err)
	}

	msg := StateMessage{
		SiteID:   r.siteID,
		Version:  r.version,
		Snapshot: snap,
		Routes:   routes,
	}
	if msg.Routes == nil {
		msg.Routes = []borderrouter.RouteEntry{}
	}
	if routesErr != nil {
		msg.Error = routesErr.Error()
		r.logger.Warn("routing table unavailable", "error", routesErr)
	}

	conn := snap.Connection
	r.logger.Info("border router status",
		"mesh_mode", snap.MeshMode,
		"mesh_interface", conn.MeshInterfaceID,
		"backhaul_interface", conn.BackhaulInterfaceID,
		"backhaul_ready", conn.BackhaulReady,
		"mesh_ready", conn.MeshReady,
		"prefix", conn.DelegatedPrefix,
		"dhcp_server_active", conn.DHCPServerActive,
		"shutdown_pending", conn.ShutdownPending,
		"retry_state", snap.Retry.State,
		"retry_attempts", snap.Retry.Attempts,
		"reconnects", snap.Retry.Reconnects,
		"routes", len(msg.Routes),
	)

	for _, sink := range r.sinks {
		sink.RecordSnapshot(snap)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("encoding router status: %w", err)
	}
	if err := r.transport.Publish(r.topics.RouterState(), payload, r.qos, true); err != nil {
		return msg, fmt.Errorf("publishing router status: %w", err)
	}
	return msg, nil
}

func (r *StatusReporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.report(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.report(ctx)
		case <-r.trigger:
			r.report(ctx)
		}
	}
}

func (r *StatusReporter) report(ctx context.Context) {
	if _, err := r.Report(ctx); err != nil {
		r.logger.Warn("status report failed", "error", err)
	}
}
