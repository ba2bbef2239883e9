package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry export is switched off.
	ErrDisabled = errors.New("influxdb: telemetry export disabled")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: client closed")

	// ErrUnhealthy means the server answered the ping but reported itself
	// not ready.
	ErrUnhealthy = errors.New("influxdb: server not healthy")

	// ErrWriteFailed wraps errors reported by the background batch writer.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)
