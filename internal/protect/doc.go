// Package protect implements the client for UniFi Protect video
// security controllers.
//
// This package maintains a live, in-memory model of one controller: its
// NVR and every adopted camera, sensor, light, chime and viewer. The
// model is seeded over REST and kept current by two WebSocket
// subscriptions, one for device state deltas and one for motion/ring
// events.
//
// # Architecture
//
// The client composes four layers around a single shared model:
//
//	┌────────────┐  REST   ┌───────────────┐
//	│            │◄───────►│  restClient   │──┐
//	│ Controller │         └───────────────┘  │   ┌──────────────┐
//	│   (NVR)    │  WS     ┌───────────────┐  ├──►│ synchronizer │──► Snapshot
//	│            │◄───────►│ streamManager │──┘   └──────────────┘
//	└────────────┘         └───────────────┘            │
//	                                                    ▼
//	                                               Changesets
//
// # Key Responsibilities
//
//   - Authenticate every request with the controller's integration API key
//   - Bootstrap the device inventory and NVR state over REST
//   - Hold two WebSocket subscriptions open with independent reconnect loops
//   - Merge stream deltas and events into the model field by field
//   - Re-bootstrap after every reconnect before resuming delta processing
//   - Fan merged changes out to subscribers through a bounded queue
//   - Issue PTZ and alarm commands without ever writing to the model
//
// # Consistency
//
// Reads always see a complete snapshot: the synchronizer swaps the whole
// model atomically and hands out deep copies. While a subscription is
// down the model stays readable and is flagged stale rather than torn
// down; the flag clears when the next bootstrap lands.
//
// Commands are fire-and-forget against the controller. Their effects
// come back through the streams like any other change, so the model has
// exactly one writer path.
//
// # Error Classification
//
// Errors wrap one of four sentinels so callers can branch without
// parsing messages: ErrAuth (credentials rejected), ErrNetwork
// (unreachable or 5xx), ErrValidation (bad argument, caught before any
// I/O) and ErrProtocol (malformed response or frame). Malformed stream
// frames are dropped and counted; they never terminate a subscription.
//
// # Thread Safety
//
// All exported methods on Client are safe for concurrent use from
// multiple goroutines.
package protect
