package influxdb

import "errors"

// Sentinel errors for the telemetry client, checked with errors.Is.
var (
	// ErrNotConnected reports an operation attempted before Connect
	// succeeded or after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed reports a failed initial health probe.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled reports that telemetry is switched off in the
	// configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
