// Package influxdb ships telemetry to InfluxDB v2.
//
// Three measurements cover the daemon's needs: device_state snapshots
// (motion, recording, connectivity per device), nvr_storage utilisation,
// and events counts for rate queries. WritePoint and WritePointWithTime
// exist for anything beyond those.
//
// Telemetry is strictly optional. Connect returns ErrDisabled when the
// config turns the feature off, and every write on a disconnected or
// zero-value client is a silent no-op, so callers never guard their
// write calls. Writes are batched and asynchronous; failures arrive
// through the SetOnError callback, not return values.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // errors.Is(err, influxdb.ErrDisabled) → run without telemetry
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("telemetry write", "error", err) })
//	client.WriteDeviceState("6a8f3c0b2de1", "camera", map[string]interface{}{
//	    "is_recording": true,
//	})
//	client.WriteEventCount("motion", "6a8f3c0b2de1")
//
// Batch size and flush interval come from config.yaml, keeping network
// overhead flat under a chatty controller.
package influxdb
