// Package bridge mirrors UniFi Protect state onto MQTT and relays MQTT
// commands back to the controller.
//
// This package sits between the protect client and the MQTT broker. It
// consumes changesets and events from the client, publishes them as
// retained state and event messages, and executes inbound commands
// against the controller, answering each with an acknowledgment.
//
// # Architecture
//
// The bridge operates as a translator between two worlds:
//
//	┌─────────────────┐            ┌─────────────────┐
//	│  UniFi Protect  │  WS/REST   │  Protect Bridge │   MQTT
//	│   Controller    │◄──────────►│   (this pkg)    │◄────────► Broker
//	└─────────────────┘            └─────────────────┘
//
// # Key Responsibilities
//
//   - Publish per-device state to protectsync/device/{id}/state (retained)
//   - Publish NVR storage state to protectsync/nvr/state (retained)
//   - Publish motion, ring and smart detection events to protectsync/event/{type}
//   - Clear retained state when a device is removed from the controller
//   - Execute commands from protectsync/command/{kind} and ack on
//     protectsync/ack/{request_id}
//   - Journal events, removals and command outcomes for later queries
//   - Forward device state and event counts to InfluxDB when configured
//
// # Message Flow
//
// State flows one way: the client's dispatch worker hands changesets to
// the bridge's bounded queue, a single worker publishes them in order.
// When the queue is full the oldest-first guarantee is kept by dropping
// the newest change and counting the drop; retained topics make the
// mirror self-correcting on the next change.
//
// Commands flow the other way: an MQTT message arrives, the bridge
// calls the controller synchronously, then publishes a single terminal
// ack with status "accepted" or "failed".
//
// Example command exchange:
//
//	→ protectsync/command/goto_preset
//	  {"id": "a1b2", "device_id": "abc123", "parameters": {"slot": 2}}
//	← protectsync/ack/a1b2
//	  {"request_id": "a1b2", "command": "goto_preset", "status": "accepted"}
//
// # Startup Ordering
//
// Register the bridge before starting the client. The client's
// bootstrap changeset names every device, so the first dispatch seeds
// all retained topics without a separate initial-sync pass.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use from multiple
// goroutines.
package bridge
