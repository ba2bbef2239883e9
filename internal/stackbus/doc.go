// Package stackbus connects the border router to the external mesh and
// backhaul stack daemon over MQTT.
//
// This package provides:
//   - Client: borderrouter.Stack as JSON request/response exchanges on
//     meshgate/stack/request/{op} and meshgate/stack/response/{request_id}
//   - Bridge: driver and interface status ingress plus operator commands,
//     posted onto the router loop without blocking the MQTT goroutine
//   - Publisher: router transitions on meshgate/router/event/{kind}
//   - StatusReporter: periodic retained state on meshgate/router/state
//
// Request flow:
//
//	router loop ──Client.call──▶ meshgate/stack/request/dhcp_pd_start
//	stack daemon ─────────────▶ meshgate/stack/response/{id} ──▶ waiting call
//
// Client calls block the router loop until the response, the request
// timeout or context cancellation. Response delivery never blocks, so the
// ordered MQTT callback goroutine cannot deadlock against the loop.
package stackbus
