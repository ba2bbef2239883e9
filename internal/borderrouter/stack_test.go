package borderrouter

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// call is one recorded stack operation.
type call struct {
	Op     string
	ID     InterfaceID
	Kind   InterfaceKind
	Params BringUpParams
	Prefix netip.Prefix
	Flags  PrefixFlags
	Lease  time.Duration
	Metric int
	Route  Route
	Peer   InterfaceID
	Ctx    context.Context
}

// fakeStack records every call and returns configured results.
type fakeStack struct {
	calls []call

	nextID    InterfaceID
	addresses map[InterfaceID]netip.Addr

	bringUpErr   error
	dhcpStartErr error
	publishErr   error
}

func newFakeStack() *fakeStack {
	return &fakeStack{
		nextID:    1,
		addresses: make(map[InterfaceID]netip.Addr),
	}
}

func (f *fakeStack) record(c call) { f.calls = append(f.calls, c) }

func (f *fakeStack) InterfaceBringUp(_ context.Context, kind InterfaceKind, params BringUpParams) (InterfaceID, error) {
	f.record(call{Op: "bring_up", Kind: kind, Params: params})
	if f.bringUpErr != nil {
		return Unset, f.bringUpErr
	}
	if params.InterfaceID.Valid() {
		return params.InterfaceID, nil
	}
	id := f.nextID
	f.nextID++
	return id, nil
}

func (f *fakeStack) InterfaceBringDown(_ context.Context, id InterfaceID) error {
	f.record(call{Op: "bring_down", ID: id})
	return nil
}

func (f *fakeStack) GlobalAddress(_ context.Context, id InterfaceID) (netip.Addr, error) {
	f.record(call{Op: "global_address", ID: id})
	addr, ok := f.addresses[id]
	if !ok {
		return netip.Addr{}, fmt.Errorf("no global address on %s", id)
	}
	return addr, nil
}

func (f *fakeStack) DHCPPrefixDelegationStart(_ context.Context, id InterfaceID, prefix netip.Prefix, lease time.Duration) error {
	f.record(call{Op: "dhcp_start", ID: id, Prefix: prefix, Lease: lease})
	return f.dhcpStartErr
}

func (f *fakeStack) DHCPPrefixDelegationStop(ctx context.Context, id InterfaceID, prefix netip.Prefix) error {
	f.record(call{Op: "dhcp_stop", ID: id, Prefix: prefix, Ctx: ctx})
	return nil
}

func (f *fakeStack) PublishPrefix(ctx context.Context, id InterfaceID, prefix netip.Prefix, flags PrefixFlags) error {
	f.record(call{Op: "publish", ID: id, Prefix: prefix, Flags: flags, Ctx: ctx})
	return f.publishErr
}

func (f *fakeStack) SetInterfaceMetric(_ context.Context, id InterfaceID, metric int) error {
	f.record(call{Op: "metric", ID: id, Metric: metric})
	return nil
}

func (f *fakeStack) AddRoute(_ context.Context, id InterfaceID, route Route) error {
	f.record(call{Op: "route_add", ID: id, Route: route})
	return nil
}

func (f *fakeStack) StartBackbone(_ context.Context, mesh, backhaul InterfaceID) error {
	f.record(call{Op: "backbone", ID: mesh, Peer: backhaul})
	return nil
}

func (f *fakeStack) RoutingTable(context.Context) ([]RouteEntry, error) {
	f.record(call{Op: "routing_table"})
	return nil, errors.New("not implemented")
}

// ops returns the recorded calls with the given operation.
func (f *fakeStack) ops(op string) []call {
	var out []call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeStack) reset() { f.calls = nil }

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	conn  []ConnectionEvent
	retry []RetryEvent
}

func (o *recordingObserver) ConnectionChanged(ev ConnectionEvent) { o.conn = append(o.conn, ev) }
func (o *recordingObserver) RetryChanged(ev RetryEvent)           { o.retry = append(o.retry, ev) }

func (o *recordingObserver) reasons() []Reason {
	out := make([]Reason, 0, len(o.conn))
	for _, ev := range o.conn {
		out = append(out, ev.Reason)
	}
	return out
}
