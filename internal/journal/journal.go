// Package journal persists the daemon's event history in SQLite.
//
// The bridge appends an entry for every controller event, device
// removal and executed command, plus one sync marker per daemon run;
// the status API reads the journal back for the /api/v1/events/recent
// endpoint. Entries are append-only and pruned by a retention window.
package journal

import (
	"context"
	"time"
)

// Entry source values.
const (
	// SourceStream marks entries produced by live WebSocket deltas.
	SourceStream = "stream"

	// SourceBootstrap marks entries produced by a full model load.
	SourceBootstrap = "bootstrap"

	// SourceCommand marks entries produced by command execution.
	SourceCommand = "command"
)

// Entry represents a single journal record.
//
// Kind carries the controller event type (motion, ring, smartDetectZone...)
// for event entries, the command kind (start_patrol, trigger_alarm...) for
// command entries, or a bridge-defined marker ("removed", "sync").
type Entry struct {
	// ID is the auto-incremented primary key for the journal row.
	ID int64 `json:"id"`

	// DeviceID is the device (or controller) the entry concerns.
	DeviceID string `json:"device_id"`

	// Kind classifies the entry.
	Kind string `json:"kind"`

	// Payload is the JSON detail for the entry.
	Payload map[string]any `json:"payload"`

	// Source identifies how the entry was produced (stream, bootstrap, command).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the entry (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Journal stores and retrieves daemon event history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Journal interface {
	// Record appends an entry. A zero CreatedAt is filled with the current
	// time; an empty Source defaults to SourceStream.
	Record(ctx context.Context, e Entry) error

	// Recent returns the newest entries across all devices, newest first.
	// The limit is clamped (default 50, max 200).
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// RecentForDevice returns the newest entries for one device, newest
	// first, with the same limit clamping as Recent.
	RecentForDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error)

	// Prune deletes entries older than now-olderThan. Returns the number
	// of rows removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)

	// Count returns the total number of journal entries.
	Count(ctx context.Context) (int64, error)
}
