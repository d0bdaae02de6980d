package protect

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies which controller model a device belongs to.
type Kind string

// Device kinds reported by the controller's modelKey field.
const (
	KindCamera   Kind = "camera"
	KindSensor   Kind = "sensor"
	KindLight    Kind = "light"
	KindChime    Kind = "chime"
	KindViewer   Kind = "viewer"
	KindLiveview Kind = "liveview"
	KindNVR      Kind = "nvr"
)

// ConnectionState is the normalized link state of a device.
type ConnectionState string

// Normalized connection states. The controller reports uppercase wire
// values ("CONNECTED", "DISCONNECTED", "ADOPTING"); the model folds them
// to three states.
const (
	StateOnline   ConnectionState = "online"
	StateOffline  ConnectionState = "offline"
	StateAdopting ConnectionState = "adopting"
)

// connectionStateFromWire folds a controller state string to a
// ConnectionState. A device mid-renegotiation ("CONNECTING") counts as
// online so availability does not flap during brief link resets.
func connectionStateFromWire(raw string) ConnectionState {
	switch strings.ToUpper(raw) {
	case "CONNECTED", "CONNECTING", "ONLINE":
		return StateOnline
	case "ADOPTING", "PROVISIONING":
		return StateAdopting
	default:
		return StateOffline
	}
}

// Device is a single controller-managed endpoint: camera, sensor, light,
// chime, viewer or liveview. Identity is the controller-assigned ID,
// which is stable and never reused.
//
// The typed fields are projections of the raw attribute map. Merges
// overlay partial payloads onto Attributes and re-project, so fields the
// typed model does not pin down survive untouched and last-writer-wins
// applies per field, not per record.
type Device struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	Name            string          `json:"name"`
	Model           string          `json:"model,omitempty"`
	Type            string          `json:"type,omitempty"`
	Mac             string          `json:"mac,omitempty"`
	FirmwareVersion string          `json:"firmware_version,omitempty"`
	ConnectionState ConnectionState `json:"connection_state"`

	// Capability flags derived from the controller payload.
	IsDoorbell bool `json:"is_doorbell,omitempty"`
	HasPTZ     bool `json:"has_ptz,omitempty"`

	// Mutable attributes, updated by device deltas and events.
	RecordingMode      string     `json:"recording_mode,omitempty"`
	PrivacyModeEnabled bool       `json:"privacy_mode_enabled,omitempty"`
	MotionDetected     bool       `json:"motion_detected,omitempty"`
	LastMotionAt       *time.Time `json:"last_motion_at,omitempty"`
	LastRing           *time.Time `json:"last_ring,omitempty"`
	PIRMotionDetected  bool       `json:"pir_motion_detected,omitempty"`
	BatteryLevel       *int       `json:"battery_level,omitempty"`
	BatteryIsLow       bool       `json:"battery_is_low,omitempty"`

	// Attributes holds the full last-known controller payload for this
	// device, including fields the typed model does not surface.
	Attributes map[string]any `json:"attributes,omitempty"`

	// UpdatedAt is when the model last merged a payload or event for
	// this device.
	UpdatedAt time.Time `json:"updated_at"`
}

// newDevice builds a Device of the given kind from a raw controller
// payload. Missing or malformed fields decode to zero values; the
// payload is retained as the attribute map.
func newDevice(kind Kind, payload map[string]any) *Device {
	d := &Device{
		Kind:       kind,
		Attributes: deepCopyMap(payload),
	}
	if d.Attributes == nil {
		d.Attributes = make(map[string]any)
	}
	d.project()
	return d
}

// applyPayload overlays the fields present in a partial payload onto the
// device's attribute map and refreshes the typed projections. Fields
// absent from the payload are left untouched.
func (d *Device) applyPayload(payload map[string]any) {
	if d.Attributes == nil {
		d.Attributes = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		d.Attributes[k] = deepCopyValue(v)
	}
	d.project()
}

// project refreshes the typed fields from the attribute map. It is a
// pure function of Attributes, so re-projecting after an identical merge
// cannot change the device.
func (d *Device) project() {
	a := d.Attributes

	if id := stringAttr(a, "id"); id != "" {
		d.ID = id
	}
	if mk := stringAttr(a, "modelKey"); mk != "" {
		d.Kind = Kind(mk)
	}
	if name := stringAttr(a, "name"); name != "" {
		d.Name = name
	}
	if model := stringAttr(a, "model"); model != "" {
		d.Model = model
	}
	if typ := stringAttr(a, "type"); typ != "" {
		d.Type = typ
	}
	if mac := stringAttr(a, "mac"); mac != "" {
		d.Mac = mac
	}
	if fw := stringAttr(a, "firmwareVersion"); fw != "" {
		d.FirmwareVersion = fw
	}

	d.ConnectionState = connectionStateFromWire(stringAttr(a, "state"))

	ff := mapAttr(a, "featureFlags")
	d.HasPTZ = boolAttr(ff, "hasPtz")
	d.IsDoorbell = d.Type == "doorbell" || boolAttr(ff, "isDoorbell")

	if rs := mapAttr(a, "recordingSettings"); rs != nil {
		d.RecordingMode = stringAttr(rs, "mode")
	}
	d.PrivacyModeEnabled = boolAttr(a, "privacyModeEnabled")

	d.MotionDetected = boolAttr(a, "isMotionDetected")
	d.PIRMotionDetected = boolAttr(a, "isPirMotionDetected")
	d.LastMotionAt = timeFromMillis(a["lastMotion"])
	if d.LastMotionAt == nil {
		d.LastMotionAt = timeFromMillis(a["motionDetectedAt"])
	}
	d.LastRing = timeFromMillis(a["lastRing"])

	if bs := mapAttr(a, "batteryStatus"); bs != nil {
		if lvl, ok := int64Attr(bs, "percentage"); ok {
			level := int(lvl)
			d.BatteryLevel = &level
		}
		d.BatteryIsLow = boolAttr(bs, "isLow")
	}
}

// DeepCopy creates a completely independent copy of the device.
// The attribute map is cloned so modifications to the copy do not affect
// the original. This is essential for snapshot isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields
	cpy.Attributes = deepCopyMap(d.Attributes)

	// Pointer fields (*int, *time.Time) are replaced wholesale on merge,
	// never written through, so sharing the pointed-to values is safe.

	return &cpy
}

// NVR is the controller appliance itself.
type NVR struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Version    string         `json:"version,omitempty"`
	Host       string         `json:"host,omitempty"`
	Mac        string         `json:"mac,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// nvrFromPayload builds an NVR from a raw controller payload.
func nvrFromPayload(payload map[string]any) *NVR {
	return &NVR{
		ID:         stringAttr(payload, "id"),
		Name:       stringAttr(payload, "name"),
		Version:    stringAttr(payload, "version"),
		Host:       stringAttr(payload, "host"),
		Mac:        stringAttr(payload, "mac"),
		Attributes: deepCopyMap(payload),
	}
}

// DeepCopy creates a completely independent copy of the NVR.
func (n *NVR) DeepCopy() *NVR {
	if n == nil {
		return nil
	}
	cpy := *n
	cpy.Attributes = deepCopyMap(n.Attributes)
	return &cpy
}

// NvrStats holds the controller's recording storage counters. One
// instance per controller connection.
type NvrStats struct {
	StorageUsedBytes      int64 `json:"storage_used_bytes"`
	StorageTotalBytes     int64 `json:"storage_total_bytes"`
	StorageAvailableBytes int64 `json:"storage_available_bytes"`
}

// nvrStatsFromPayload extracts storage counters from an nvr payload.
// Reports false when the payload carries no storageStats block.
func nvrStatsFromPayload(payload map[string]any) (NvrStats, bool) {
	ss := mapAttr(payload, "storageStats")
	if ss == nil {
		return NvrStats{}, false
	}
	var stats NvrStats
	if v, ok := int64Attr(ss, "used"); ok {
		stats.StorageUsedBytes = v
	}
	if v, ok := int64Attr(ss, "total"); ok {
		stats.StorageTotalBytes = v
	}
	if v, ok := int64Attr(ss, "available"); ok {
		stats.StorageAvailableBytes = v
	}
	return stats, true
}

// UsedPercent returns storage utilization as a percentage, or 0 when the
// total is unknown.
func (s NvrStats) UsedPercent() float64 {
	if s.StorageTotalBytes <= 0 {
		return 0
	}
	return float64(s.StorageUsedBytes) / float64(s.StorageTotalBytes) * 100
}

// Bootstrap is the raw full-state listing fetched at startup and after
// every reconnect. Payloads stay untyped here; the synchronizer turns
// them into Devices when the bootstrap is applied.
type Bootstrap struct {
	Cameras   []map[string]any
	Sensors   []map[string]any
	Lights    []map[string]any
	Chimes    []map[string]any
	Viewers   []map[string]any
	Liveviews []map[string]any
	NVR       map[string]any
}

// Snapshot is the full authoritative model at a point in time. It is
// replaced wholesale by a fresh bootstrap, never partially.
type Snapshot struct {
	DeviceByID map[string]*Device `json:"device_by_id"`
	NVR        *NVR               `json:"nvr,omitempty"`
	NvrStats   NvrStats           `json:"nvr_stats"`
	FetchedAt  time.Time          `json:"fetched_at"`

	// Stale is set while the connection to the controller is known to be
	// degraded (a subscription dropped and no bootstrap has succeeded
	// since). The model is retained but may be out of date.
	Stale bool `json:"stale"`
}

// DeepCopy creates a completely independent copy of the snapshot.
// All devices and the NVR are cloned so readers can never mutate or
// observe the synchronizer's internal state.
func (s *Snapshot) DeepCopy() *Snapshot {
	if s == nil {
		return nil
	}

	cpy := *s
	cpy.DeviceByID = make(map[string]*Device, len(s.DeviceByID))
	for id, d := range s.DeviceByID {
		cpy.DeviceByID[id] = d.DeepCopy()
	}
	cpy.NVR = s.NVR.DeepCopy()

	return &cpy
}

// Devices returns the snapshot's devices of the given kind, or all
// devices when kind is empty, sorted by name then ID for stable output.
func (s *Snapshot) Devices(kind Kind) []Device {
	devices := make([]Device, 0, len(s.DeviceByID))
	for _, d := range s.DeviceByID {
		if kind != "" && d.Kind != kind {
			continue
		}
		devices = append(devices, *d.DeepCopy())
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// EventType identifies the kind of fact an event carries.
type EventType string

// Event types emitted on the events subscription.
const (
	EventTypeRing            EventType = "ring"
	EventTypeMotion          EventType = "motion"
	EventTypeSmartDetectZone EventType = "smartDetectZone"
	EventTypeSmartDetectLine EventType = "smartDetectLine"
	EventTypeLightMotion     EventType = "lightMotion"
)

// Event is one incremental fact about exactly one device, decoded from
// the events subscription. Start and End are controller timestamps; a
// nil End on a motion event means the motion is still in progress.
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	DeviceID string         `json:"device_id"`
	Start    *time.Time     `json:"start,omitempty"`
	End      *time.Time     `json:"end,omitempty"`
	Raw      map[string]any `json:"-"`
}

// eventFromItem decodes one events-subscription item. The controller
// emits {"id", "type", "device", "start", "end"} with epoch-millisecond
// timestamps. An event without a type or device id is unusable.
func eventFromItem(item map[string]any) (Event, error) {
	evt := Event{
		ID:       stringAttr(item, "id"),
		Type:     EventType(stringAttr(item, "type")),
		DeviceID: stringAttr(item, "device"),
		Start:    timeFromMillis(item["start"]),
		End:      timeFromMillis(item["end"]),
		Raw:      item,
	}
	if evt.Type == "" || evt.DeviceID == "" {
		return Event{}, fmt.Errorf("%w: event missing type or device id", ErrProtocol)
	}
	return evt, nil
}

// Changeset is the minimal diff produced by merging one message into the
// snapshot; it names which entities changed so subscribers can react
// without diffing the whole model.
type Changeset struct {
	UpdatedDeviceIDs []string `json:"updated_device_ids,omitempty"`
	RemovedDeviceIDs []string `json:"removed_device_ids,omitempty"`
	NvrStatsChanged  bool     `json:"nvr_stats_changed,omitempty"`
}

// Empty reports whether the changeset carries no changes.
func (c Changeset) Empty() bool {
	return len(c.UpdatedDeviceIDs) == 0 && len(c.RemovedDeviceIDs) == 0 && !c.NvrStatsChanged
}

// SubscriptionState is the lifecycle state of one stream subscription.
type SubscriptionState string

// Subscription states. ShutDown is terminal and entered only on stop.
const (
	SubStateDisconnected SubscriptionState = "disconnected"
	SubStateConnecting   SubscriptionState = "connecting"
	SubStateConnected    SubscriptionState = "connected"
	SubStateReconnecting SubscriptionState = "reconnecting"
	SubStateShutDown     SubscriptionState = "shutdown"
)

// SubscriptionStatus is a read-only diagnostic view of one subscription.
type SubscriptionStatus struct {
	Name           string            `json:"name"`
	State          SubscriptionState `json:"state"`
	LastError      string            `json:"last_error,omitempty"`
	RetryCount     int               `json:"retry_count"`
	FramesReceived uint64            `json:"frames_received"`
	FramesDropped  uint64            `json:"frames_dropped"`
	Reconnects     uint64            `json:"reconnects"`
}

// Attribute decode helpers. Controller payloads arrive as generic JSON,
// so every read tolerates a missing key or unexpected type.

func stringAttr(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolAttr(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func mapAttr(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func int64Attr(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// timeFromMillis converts a controller epoch-milliseconds value to a UTC
// time. Returns nil when the value is absent, null or not numeric.
func timeFromMillis(v any) *time.Time {
	var ms int64
	switch n := v.(type) {
	case float64:
		ms = int64(n)
	case int64:
		ms = n
	case int:
		ms = int64(n)
	default:
		return nil
	}
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}
