// Package api implements the read-only HTTP status server for
// protect-sync.
//
// This package provides:
//   - Health and metrics endpoints for monitoring
//   - Device and NVR state reads from the live controller model
//   - Recent event listing from the journal
//   - Middleware stack (request ID, logging, recovery, bearer auth)
//
// # Architecture
//
// The API server is an operator surface, not an automation one:
// automation consumers integrate over MQTT. Every device read comes
// from an isolated snapshot copy of the controller model, so handlers
// can never mutate or observe client internals. Writes do not exist;
// commands flow through the MQTT bridge only.
//
// # Security
//
// The server binds to loopback by default. When auth_token is
// configured, every request must carry "Authorization: Bearer <token>";
// an empty token disables authentication for trusted deployments.
//
// # Graceful Degradation
//
// The journal, bridge and InfluxDB dependencies are optional. Without a
// journal the events endpoint answers 503; without the others the
// corresponding metric sections are omitted.
package api
