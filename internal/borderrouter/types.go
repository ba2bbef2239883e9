package borderrouter

import (
	"fmt"
	"net/netip"
	"strconv"
	"time"
)

// InterfaceID identifies a network interface created by the stack.
type InterfaceID int8

// Unset marks an interface that has not been created or was torn down.
const Unset InterfaceID = -1

// Valid reports whether id refers to a created interface.
func (id InterfaceID) Valid() bool { return id != Unset }

func (id InterfaceID) String() string {
	if id == Unset {
		return "unset"
	}
	return strconv.Itoa(int(id))
}

// DriverID identifies a registered backhaul or radio driver.
type DriverID int

// InterfaceKind is the link type of an interface to bring up.
type InterfaceKind string

const (
	KindEthernet InterfaceKind = "ethernet"
	KindPPP      InterfaceKind = "ppp"
	KindMesh     InterfaceKind = "mesh"
)

// InterfaceStatus is a bootstrap status reported by the stack.
type InterfaceStatus string

const (
	StatusBootstrapReady        InterfaceStatus = "bootstrap-ready"
	StatusScanFail              InterfaceStatus = "scan-fail"
	StatusAddressAllocationFail InterfaceStatus = "address-allocation-fail"
	StatusConnectionDown        InterfaceStatus = "connection-down"
	StatusParentPollFail        InterfaceStatus = "parent-poll-fail"
	StatusAuthenticationFail    InterfaceStatus = "authentication-fail"
	StatusDuplicateAddress      InterfaceStatus = "duplicate-address-detected"
	StatusPhyDown               InterfaceStatus = "phy-down"
)

var knownStatuses = map[InterfaceStatus]struct{}{
	StatusBootstrapReady:        {},
	StatusScanFail:              {},
	StatusAddressAllocationFail: {},
	StatusConnectionDown:        {},
	StatusParentPollFail:        {},
	StatusAuthenticationFail:    {},
	StatusDuplicateAddress:      {},
	StatusPhyDown:               {},
}

// ParseInterfaceStatus validates a status string received from the stack.
func ParseInterfaceStatus(s string) (InterfaceStatus, error) {
	st := InterfaceStatus(s)
	if _, ok := knownStatuses[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// IsFailure reports whether the status means bootstrap failed or the link
// was lost.
func (s InterfaceStatus) IsFailure() bool {
	return s != StatusBootstrapReady
}

// countsAsReconnect reports whether a failure on a connected mesh is a
// reconnection rather than a plain boot failure.
func (s InterfaceStatus) countsAsReconnect() bool {
	return s == StatusAddressAllocationFail || s == StatusConnectionDown
}

// DriverEvent reports a driver link change.
type DriverEvent struct {
	DriverID DriverID
	LinkUp   bool
}

// InterfaceEvent reports a bootstrap status change on an interface.
type InterfaceEvent struct {
	InterfaceID InterfaceID
	Status      InterfaceStatus
}

// PrefixFlags control how a prefix is advertised on the mesh.
type PrefixFlags struct {
	DefaultRoute bool `json:"default_route"`
	DHCP         bool `json:"dhcp"`
	Stable       bool `json:"stable"`
}

// BringUpParams describes the interface to create or restart.
type BringUpParams struct {
	// InterfaceID is Unset to create a new interface.
	InterfaceID InterfaceID `json:"interface_id"`
	DriverID    DriverID    `json:"driver_id"`
	Name        string      `json:"name"`

	// Backhaul only.
	Driver     BackhaulDriver `json:"driver,omitempty"`
	StaticAddr netip.Prefix   `json:"static_prefix,omitzero"`

	// Mesh only.
	MeshMode    MeshMode `json:"mesh_mode,omitempty"`
	NetworkName string   `json:"network_name,omitempty"`
	PANID       int      `json:"pan_id,omitempty"`
	Channel     int      `json:"channel,omitempty"`
}

// Route is a static route added on an interface. A zero Lifetime never
// expires.
type Route struct {
	Prefix   netip.Prefix  `json:"prefix"`
	NextHop  netip.Addr    `json:"next_hop,omitzero"`
	Lifetime time.Duration `json:"lifetime"`
}

// RouteEntry is one line of the stack routing table.
type RouteEntry struct {
	Prefix      netip.Prefix `json:"prefix"`
	NextHop     netip.Addr   `json:"next_hop,omitzero"`
	InterfaceID InterfaceID  `json:"interface_id"`
	Metric      int          `json:"metric"`
}
