package bridge

import (
	"time"

	"github.com/dvselas/protect-sync/internal/protect"
)

// MQTT message types exchanged between protect-sync and automation
// consumers. Topic layout lives in the infrastructure mqtt package;
// every payload here is JSON with RFC3339 timestamps.

// StateMessage is published when a device's canonical state changes.
// Topic: protectsync/device/{id}/state
// QoS: configured, Retained: configured (default yes)
type StateMessage struct {
	// DeviceID is the controller-assigned device identifier.
	DeviceID string `json:"device_id"`

	// Kind is the device kind (camera, sensor, light, chime, viewer).
	Kind protect.Kind `json:"kind"`

	// Timestamp is when the state was published (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State carries the typed device projection. The raw controller
	// attribute map stays inside the daemon to keep retained payloads
	// small and the wire contract stable.
	State *protect.Device `json:"state"`
}

// NewStateMessage creates a state message for a device. The device is
// expected to be an isolated copy; its attribute map is dropped from
// the published document.
func NewStateMessage(dev *protect.Device) StateMessage {
	doc := *dev
	doc.Attributes = nil
	return StateMessage{
		DeviceID:  dev.ID,
		Kind:      dev.Kind,
		Timestamp: time.Now().UTC(),
		State:     &doc,
	}
}

// NVRStateMessage is published when the controller's storage counters
// change.
// Topic: protectsync/nvr/state
// QoS: configured, Retained: configured (default yes)
type NVRStateMessage struct {
	// ID is the controller identifier.
	ID string `json:"id"`

	// Name is the controller display name.
	Name string `json:"name,omitempty"`

	// Version is the controller application version.
	Version string `json:"version,omitempty"`

	// Timestamp is when the state was published (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Storage holds the recording storage counters.
	Storage StorageInfo `json:"storage"`
}

// StorageInfo holds recording storage utilisation.
type StorageInfo struct {
	UsedBytes      int64   `json:"used_bytes"`
	TotalBytes     int64   `json:"total_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// NewNVRStateMessage creates an NVR state message from the snapshot's
// NVR record and storage counters.
func NewNVRStateMessage(nvr *protect.NVR, stats protect.NvrStats) NVRStateMessage {
	msg := NVRStateMessage{
		Timestamp: time.Now().UTC(),
		Storage: StorageInfo{
			UsedBytes:      stats.StorageUsedBytes,
			TotalBytes:     stats.StorageTotalBytes,
			AvailableBytes: stats.StorageAvailableBytes,
			UsedPercent:    stats.UsedPercent(),
		},
	}
	if nvr != nil {
		msg.ID = nvr.ID
		msg.Name = nvr.Name
		msg.Version = nvr.Version
	}
	return msg
}

// EventMessage is published for every controller event fact.
// Topic: protectsync/event/{type}
// QoS: configured, Retained: no
type EventMessage struct {
	// ID is the controller-assigned event identifier.
	ID string `json:"id,omitempty"`

	// Type is the event type (motion, ring, smartDetectZone, ...).
	Type protect.EventType `json:"type"`

	// DeviceID is the device the event originated from.
	DeviceID string `json:"device_id"`

	// Start and End are controller timestamps. A missing End on a
	// motion event means the motion is still in progress.
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	// Timestamp is when the event was published (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// NewEventMessage creates an event message from a decoded stream event.
func NewEventMessage(evt protect.Event) EventMessage {
	return EventMessage{
		ID:        evt.ID,
		Type:      evt.Type,
		DeviceID:  evt.DeviceID,
		Start:     evt.Start,
		End:       evt.End,
		Timestamp: time.Now().UTC(),
	}
}

// CommandMessage is received from automation consumers to execute a
// controller command. The command kind is carried by the topic.
// Topic: protectsync/command/{kind}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with the
	// acknowledgment. Assigned by the bridge when the sender omits it.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device identifier.
	DeviceID string `json:"device_id"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"slot": 2} for start_patrol and goto_preset
	//   {"trigger_id": "doorbell-pressed"} for trigger_alarm
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was delivered to the controller.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published to acknowledge a command.
// Topic: protectsync/ack/{request_id}
type AckMessage struct {
	// RequestID is the ID from the original command.
	RequestID string `json:"request_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device identifier.
	DeviceID string `json:"device_id,omitempty"`

	// Command is the command kind from the topic.
	Command string `json:"command"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "INVALID_PARAMETERS").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand        = "INVALID_COMMAND"
	ErrCodeInvalidParameters     = "INVALID_PARAMETERS"
	ErrCodeAuthFailed            = "AUTH_FAILED"
	ErrCodeControllerUnreachable = "CONTROLLER_UNREACHABLE"
	ErrCodeProtocolError         = "PROTOCOL_ERROR"
	ErrCodeNotRunning            = "NOT_RUNNING"
	ErrCodeBridgeError           = "BRIDGE_ERROR"
)

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, command string, status AckStatus) AckMessage {
	return AckMessage{
		RequestID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   command,
		Status:    status,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, command, code, message string) AckMessage {
	ack := NewAckMessage(cmd, command, AckFailed)
	ack.Error = &AckError{
		Code:    code,
		Message: message,
	}
	return ack
}
