package protect

import "errors"

// Domain errors for the protect client package.
//
// Callers classify failures with errors.Is: ErrAuth is fatal and never
// retried automatically, ErrNetwork is transient and drives the stream
// reconnect cycle, ErrValidation is raised before any network I/O, and
// ErrProtocol marks a malformed message or response. A stale model is not
// an error; it is reported through Snapshot.Stale and Client.Stale.
var (
	// ErrAuth is returned when the controller rejects the API token
	// (HTTP 401) or the token lacks permission (HTTP 403).
	ErrAuth = errors.New("protect: authentication failed")

	// ErrNetwork is returned when the controller cannot be reached or a
	// request fails in transit (dial, timeout, 5xx).
	ErrNetwork = errors.New("protect: network failure")

	// ErrValidation is returned when a command argument is rejected before
	// any request is made.
	ErrValidation = errors.New("protect: invalid command argument")

	// ErrProtocol is returned when the controller sends a response or
	// stream message the client cannot interpret.
	ErrProtocol = errors.New("protect: protocol error")

	// ErrNotRunning is returned when an operation requires a started
	// client but Start has not been called or Close has completed.
	ErrNotRunning = errors.New("protect: client not running")

	// ErrAlreadyRunning is returned when Start is called on a client that
	// is already running.
	ErrAlreadyRunning = errors.New("protect: client already running")
)
