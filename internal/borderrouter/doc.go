// Package borderrouter implements the border router connection and
// bootstrap state machine.
//
// Three pieces make up the package:
//
//   - Tracker holds backhaul and mesh readiness, the delegated prefix and
//     whether the DHCPv6 prefix delegation server runs. It starts the server
//     once both sides are ready and delays its shutdown after backhaul loss so
//     that short backhaul flaps do not disturb mesh clients.
//   - RetryController retries mesh bootstrap with jittered exponential
//     backoff and reports ErrRetryExhausted once the attempt limit is hit.
//   - Router classifies driver and interface status events and drives the
//     other two, using a MeshProfile for the mesh mode specific parts.
//
// None of the types are safe for concurrent use. meshgate runs them on a
// single tasklet.Loop; timers come from a tasklet.Scheduler so expirations
// are delivered on the same loop.
//
// # Delayed shutdown
//
// When the backhaul goes down while the server is active, a one-shot timer
// is armed. Any renewed readiness cancels it. When it fires the default
// route flag is withdrawn and the delegated prefix is cleared; the server
// instance itself is kept unless the delete policy is configured.
package borderrouter
