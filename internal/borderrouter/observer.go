package borderrouter

import (
	"net/netip"
	"time"
)

// ConnectionState is a copy of the tracker state.
type ConnectionState struct {
	MeshInterfaceID     InterfaceID  `json:"mesh_interface_id"`
	BackhaulInterfaceID InterfaceID  `json:"backhaul_interface_id"`
	BackhaulReady       bool         `json:"backhaul_ready"`
	MeshReady           bool         `json:"mesh_ready"`
	DelegatedPrefix     netip.Prefix `json:"delegated_prefix,omitzero"`
	DHCPServerActive    bool         `json:"dhcp_server_active"`
	ShutdownPending     bool         `json:"shutdown_pending"`
}

// HasPrefix reports whether a non-empty delegated prefix is recorded.
func (s ConnectionState) HasPrefix() bool {
	return s.DelegatedPrefix.IsValid() && s.DelegatedPrefix.Bits() > 0
}

// RetryStatus is a copy of the retry controller state.
type RetryStatus struct {
	State       RetryState    `json:"state"`
	Attempts    int           `json:"attempts"`
	Reconnects  int           `json:"reconnects"`
	Backoff     time.Duration `json:"backoff"`
	MaxAttempts int           `json:"max_attempts"`
}

// Snapshot is the full router state reported to observers and status
// consumers.
type Snapshot struct {
	At         time.Time       `json:"at"`
	MeshMode   MeshMode        `json:"mesh_mode"`
	Backhaul   BackhaulDriver  `json:"backhaul_driver"`
	Connection ConnectionState `json:"connection"`
	Retry      RetryStatus     `json:"retry"`

	MeshBringUpOngoing bool `json:"mesh_bring_up_ongoing"`
}

// Reason names why a connection change was reported.
type Reason string

const (
	ReasonMeshReady         Reason = "mesh_ready"
	ReasonMeshDown          Reason = "mesh_down"
	ReasonBackhaulReady     Reason = "backhaul_ready"
	ReasonBackhaulDown      Reason = "backhaul_down"
	ReasonPrefixSet         Reason = "prefix_set"
	ReasonServerStarted     Reason = "dhcp_server_started"
	ReasonServerFailed      Reason = "dhcp_server_failed"
	ReasonShutdownPending   Reason = "shutdown_pending"
	ReasonShutdownCancelled Reason = "shutdown_cancelled"
	ReasonShutdownComplete  Reason = "shutdown_complete"
	ReasonInterfaceChanged  Reason = "interface_changed"
	ReasonReset             Reason = "reset"
)

// ConnectionEvent is emitted after every tracker change.
type ConnectionEvent struct {
	At     time.Time       `json:"at"`
	Reason Reason          `json:"reason"`
	State  ConnectionState `json:"state"`
}

// RetryEvent is emitted after every retry controller transition.
type RetryEvent struct {
	At     time.Time     `json:"at"`
	Status RetryStatus   `json:"status"`
	Delay  time.Duration `json:"delay"`
	GaveUp bool          `json:"gave_up"`
}

// Observer receives router events on the router loop. Implementations must
// not block for long and must not call back into the router.
type Observer interface {
	ConnectionChanged(ev ConnectionEvent)
	RetryChanged(ev RetryEvent)
}

type noopObserver struct{}

func (noopObserver) ConnectionChanged(ConnectionEvent) {}
func (noopObserver) RetryChanged(RetryEvent)           {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) ConnectionChanged(ev ConnectionEvent) {
	for _, obs := range o {
		obs.ConnectionChanged(ev)
	}
}

func (o Observers) RetryChanged(ev RetryEvent) {
	for _, obs := range o {
		obs.RetryChanged(ev)
	}
}

// Logger is the logging interface used by the router components.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
