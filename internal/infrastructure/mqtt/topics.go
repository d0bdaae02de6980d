package mqtt

import "fmt"

// Topic prefixes for the protect-sync MQTT surface.
//
// All topics live under a single flat namespace:
// protectsync/{category}/{id_or_type}[/suffix]
const (
	// TopicPrefix is the base for all protect-sync topics.
	TopicPrefix = "protectsync"

	// TopicPrefixSystem is the base for daemon lifecycle topics.
	TopicPrefixSystem = "protectsync/system"
)

// Topics provides builders for protect-sync MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("66b1ab8f0267ba03e40b8bdd")
//	// Returns: "protectsync/device/66b1ab8f0267ba03e40b8bdd/state"
type Topics struct{}

// =============================================================================
// State Topics (retained)
// =============================================================================

// DeviceState returns the canonical state topic for a device.
// The bridge publishes these retained so new subscribers immediately
// see the current state of every device.
//
// Example: protectsync/device/66b1ab8f0267ba03e40b8bdd/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, deviceID)
}

// NVRState returns the topic for controller storage statistics.
// Published retained on every stats change.
//
// Example: protectsync/nvr/state
func (Topics) NVRState() string {
	return fmt.Sprintf("%s/nvr/state", TopicPrefix)
}

// =============================================================================
// Event Topics (not retained)
// =============================================================================

// Event returns the topic for a controller event fact.
// Events are transient facts (motion, ring, smart detections) and are
// never retained.
//
// Example: protectsync/event/motion
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// =============================================================================
// Command Topics
// =============================================================================

// Command returns the inbound topic for a command kind.
// External automations publish JSON command requests here; the bridge
// subscribes and delegates to the controller client.
//
// Example: protectsync/command/start_patrol
func (Topics) Command(kind string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, kind)
}

// Ack returns the outbound acknowledgement topic for a command request.
// The bridge publishes exactly one ack per accepted command, keyed by
// the request id carried in the command payload.
//
// Example: protectsync/ack/req-7f3a
func (Topics) Ack(requestID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, requestID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the daemon status topic.
// Carries retained online/offline payloads, including the broker-side
// Last Will published on unexpected disconnect.
//
// Example: protectsync/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: protectsync/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", TopicPrefix)
}

// AllEvents returns a pattern matching every event topic.
//
// Pattern: protectsync/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllCommands returns a pattern matching every inbound command topic.
// The bridge subscribes to this once and routes by the final segment.
//
// Pattern: protectsync/command/#
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/#", TopicPrefix)
}

// AllTopics returns a pattern matching all protect-sync topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: protectsync/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
