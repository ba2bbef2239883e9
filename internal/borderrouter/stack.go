package borderrouter

import (
	"context"
	"net/netip"
	"time"
)

// Stack is the set of operations the router needs from the external mesh
// and backhaul protocol stack.
//
// Calls are made from the router loop and may block up to the stack's
// request timeout.
type Stack interface {
	InterfaceBringUp(ctx context.Context, kind InterfaceKind, params BringUpParams) (InterfaceID, error)
	InterfaceBringDown(ctx context.Context, id InterfaceID) error
	GlobalAddress(ctx context.Context, id InterfaceID) (netip.Addr, error)

	DHCPPrefixDelegationStart(ctx context.Context, id InterfaceID, prefix netip.Prefix, lease time.Duration) error
	DHCPPrefixDelegationStop(ctx context.Context, id InterfaceID, prefix netip.Prefix) error
	PublishPrefix(ctx context.Context, id InterfaceID, prefix netip.Prefix, flags PrefixFlags) error

	SetInterfaceMetric(ctx context.Context, id InterfaceID, metric int) error
	AddRoute(ctx context.Context, id InterfaceID, route Route) error
	StartBackbone(ctx context.Context, mesh, backhaul InterfaceID) error
	RoutingTable(ctx context.Context) ([]RouteEntry, error)
}
