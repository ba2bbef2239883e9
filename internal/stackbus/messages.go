package stackbus

import (
	"encoding/json"
	"net/netip"
	"time"

	"github.com/nerrad567/meshgate/internal/borderrouter"
)

// Stack request operations. Each is published on meshgate/stack/request/{op}.
const (
	OpInterfaceUp   = "interface_up"
	OpInterfaceDown = "interface_down"
	OpGlobalAddress = "global_address"
	OpDHCPStart     = "dhcp_pd_start"
	OpDHCPStop      = "dhcp_pd_stop"
	OpPublishPrefix = "publish_prefix"
	OpSetMetric     = "set_metric"
	OpAddRoute      = "add_route"
	OpStartBackbone = "start_backbone"
	OpRoutingTable  = "routing_table"
)

// Router commands accepted on meshgate/router/command/{command}.
const (
	CommandRetry  = "retry"
	CommandStatus = "status"
)

// Request is sent to the stack daemon.
type Request struct {
	RequestID string          `json:"request_id"`
	Op        string          `json:"op"`
	Timestamp time.Time       `json:"timestamp"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Response is returned by the stack daemon on
// meshgate/stack/response/{request_id}.
type Response struct {
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Error     *ResponseError  `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// ResponseError describes a failed stack request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DriverStatusMessage is published by the stack when a driver link changes.
// Topic: meshgate/stack/driver/{driver_id}/status
type DriverStatusMessage struct {
	LinkUp bool `json:"link_up"`
}

// InterfaceStatusMessage is published by the stack on bootstrap changes.
// Topic: meshgate/stack/interface/{interface_id}/status
type InterfaceStatusMessage struct {
	Status string `json:"status"`
}

// EventMessage is published on meshgate/router/event/{kind}.
type EventMessage struct {
	Kind       string                        `json:"kind"`
	Timestamp  time.Time                     `json:"timestamp"`
	Reason     string                        `json:"reason,omitempty"`
	Connection *borderrouter.ConnectionState `json:"connection,omitempty"`
	Retry      *borderrouter.RetryStatus     `json:"retry,omitempty"`
	DelayMS    int64                         `json:"delay_ms,omitempty"`
}

// Event kinds.
const (
	EventConnection = "connection"
	EventRetry      = "retry"
	EventGiveUp     = "give_up"
)

// StateMessage is the retained router state on meshgate/router/state.
type StateMessage struct {
	SiteID   string                    `json:"site_id"`
	Version  string                    `json:"version,omitempty"`
	Snapshot borderrouter.Snapshot     `json:"snapshot"`
	Routes   []borderrouter.RouteEntry `json:"routes"`
	Error    string                    `json:"error,omitempty"`
}

type bringUpParams struct {
	Kind borderrouter.InterfaceKind `json:"kind"`
	borderrouter.BringUpParams
}

type interfaceParams struct {
	InterfaceID borderrouter.InterfaceID `json:"interface_id"`
}

type dhcpParams struct {
	InterfaceID  borderrouter.InterfaceID `json:"interface_id"`
	Prefix       netip.Prefix             `json:"prefix"`
	LeaseSeconds int64                    `json:"lease_seconds,omitempty"`
}

type publishParams struct {
	InterfaceID borderrouter.InterfaceID `json:"interface_id"`
	Prefix      netip.Prefix             `json:"prefix"`
	Flags       borderrouter.PrefixFlags `json:"flags"`
}

type metricParams struct {
	InterfaceID borderrouter.InterfaceID `json:"interface_id"`
	Metric      int                      `json:"metric"`
}

type routeParams struct {
	InterfaceID     borderrouter.InterfaceID `json:"interface_id"`
	Prefix          netip.Prefix             `json:"prefix"`
	NextHop         netip.Addr               `json:"next_hop,omitzero"`
	LifetimeSeconds int64                    `json:"lifetime_seconds"`
}

type backboneParams struct {
	Mesh     borderrouter.InterfaceID `json:"mesh_interface_id"`
	Backhaul borderrouter.InterfaceID `json:"backhaul_interface_id"`
}

type interfaceResult struct {
	InterfaceID borderrouter.InterfaceID `json:"interface_id"`
}

type addressResult struct {
	Address netip.Addr `json:"address"`
}

type routesResult struct {
	Routes []borderrouter.RouteEntry `json:"routes"`
}
