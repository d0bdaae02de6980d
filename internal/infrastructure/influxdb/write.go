package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// emit queues one point on the batched writer. Disconnected clients
// and empty field sets (invalid in line protocol) are dropped quietly.
func (c *Client) emit(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// WriteDeviceState records a snapshot of device state values, tagged
// by device and kind. The bridge calls this on every changeset so
// dashboards can graph motion activity, recording state, or signal
// strength over time.
//
//	client.WriteDeviceState("6a8f3c0b2de1", "camera", map[string]interface{}{
//	    "is_motion_detected": true,
//	    "is_recording":       true,
//	})
func (c *Client) WriteDeviceState(deviceID string, kind string, fields map[string]interface{}) {
	c.emit("device_state", map[string]string{
		"device_id": deviceID,
		"kind":      kind,
	}, fields, time.Now())
}

// WriteStorageStats records NVR recording storage utilisation. Pass
// totalBytes 0 when capacity is unknown; the percentage is then
// omitted rather than fabricated.
func (c *Client) WriteStorageStats(usedBytes int64, totalBytes int64) {
	fields := map[string]interface{}{
		"used_bytes": usedBytes,
	}
	if totalBytes > 0 {
		fields["total_bytes"] = totalBytes
		fields["used_percent"] = float64(usedBytes) / float64(totalBytes) * 100
	}

	c.emit("nvr_storage", map[string]string{}, fields, time.Now())
}

// WriteEventCount records one occurrence of a controller event, tagged
// by type and source device. Rate queries (motion per hour, disconnects
// per day) become a sum over the window.
func (c *Client) WriteEventCount(eventType string, deviceID string) {
	c.emit("events", map[string]string{
		"type":      eventType,
		"device_id": deviceID,
	}, map[string]interface{}{"count": 1}, time.Now())
}

// WritePoint records a custom measurement. Keep tags low-cardinality;
// they are indexed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.emit(measurement, tags, fields, time.Now())
}

// WritePointWithTime is WritePoint with an explicit timestamp, for
// data that did not happen "now".
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.emit(measurement, tags, fields, timestamp)
}
