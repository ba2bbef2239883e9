// Package telemetry turns router transitions and status snapshots into
// InfluxDB points.
package telemetry

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meshgate/internal/borderrouter"
)

// Measurement names.
const (
	MeasurementConnection = "router_connection"
	MeasurementRetry      = "router_retry"
	MeasurementState      = "router_state"
)

// Writer queues points. *influxdb.Client implements it.
type Writer interface {
	WritePoint(p *write.Point)
}

// Recorder writes one point per router transition and per status report.
// It implements borderrouter.Observer and the status reporter sink.
type Recorder struct {
	w Writer
}

var _ borderrouter.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder writing to w.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w}
}

func (r *Recorder) ConnectionChanged(ev borderrouter.ConnectionEvent) {
	r.w.WritePoint(ConnectionPoint(ev))
}

func (r *Recorder) RetryChanged(ev borderrouter.RetryEvent) {
	r.w.WritePoint(RetryPoint(ev))
}

// RecordSnapshot writes a router_state point.
func (r *Recorder) RecordSnapshot(s borderrouter.Snapshot) {
	r.w.WritePoint(StatePoint(s))
}

// ConnectionPoint builds the point for a tracker transition.
func ConnectionPoint(ev borderrouter.ConnectionEvent) *write.Point {
	return write.NewPoint(MeasurementConnection,
		map[string]string{"reason": string(ev.Reason)},
		connectionFields(ev.State),
		ev.At,
	)
}

// RetryPoint builds the point for a retry controller transition.
func RetryPoint(ev borderrouter.RetryEvent) *write.Point {
	return write.NewPoint(MeasurementRetry,
		map[string]string{"state": ev.Status.State.String()},
		map[string]any{
			"attempts":   ev.Status.Attempts,
			"reconnects": ev.Status.Reconnects,
			"backoff_ms": ev.Status.Backoff.Milliseconds(),
			"delay_ms":   ev.Delay.Milliseconds(),
			"gave_up":    ev.GaveUp,
		},
		ev.At,
	)
}

// StatePoint builds the periodic router_state point.
func StatePoint(s borderrouter.Snapshot) *write.Point {
	fields := connectionFields(s.Connection)
	fields["mesh_interface_id"] = int(s.Connection.MeshInterfaceID)
	fields["backhaul_interface_id"] = int(s.Connection.BackhaulInterfaceID)
	fields["retry_attempts"] = s.Retry.Attempts
	fields["reconnects"] = s.Retry.Reconnects
	fields["mesh_bring_up_ongoing"] = s.MeshBringUpOngoing

	return write.NewPoint(MeasurementState,
		map[string]string{
			"mesh_mode":       string(s.MeshMode),
			"backhaul_driver": string(s.Backhaul),
			"retry_state":     s.Retry.State.String(),
		},
		fields,
		s.At,
	)
}

func connectionFields(s borderrouter.ConnectionState) map[string]any {
	prefixLen := 0
	if s.HasPrefix() {
		prefixLen = s.DelegatedPrefix.Bits()
	}
	return map[string]any{
		"backhaul_ready":     s.BackhaulReady,
		"mesh_ready":         s.MeshReady,
		"dhcp_server_active": s.DHCPServerActive,
		"shutdown_pending":   s.ShutdownPending,
		"prefix_length":      prefixLen,
	}
}
