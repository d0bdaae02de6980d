package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dvselas/protect-sync/internal/bridge"
	"github.com/dvselas/protect-sync/internal/protect"
)

// SystemMetrics is the payload served by GET /api/v1/metrics: a point-in-time
// snapshot of the process and every subsystem wired into the server. Optional
// sections are omitted when the subsystem is not configured.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Controller    ControllerMetrics `json:"controller"`
	Bridge        *bridge.Stats     `json:"bridge,omitempty"`
	Journal       *JournalMetrics   `json:"journal,omitempty"`
	Influx        *InfluxMetrics    `json:"influxdb,omitempty"`
}

// RuntimeMetrics reports process health: goroutine count, heap usage and
// GC activity.
type RuntimeMetrics struct {
	Goroutines   int     `json:"goroutines"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb"`
	GCCycles     uint32  `json:"gc_cycles"`
}

// ControllerMetrics combines client counters with the state of both
// websocket subscriptions.
type ControllerMetrics struct {
	Stats   protect.Stats              `json:"stats"`
	Devices protect.SubscriptionStatus `json:"devices_subscription"`
	Events  protect.SubscriptionStatus `json:"events_subscription"`
}

// JournalMetrics reports how many rows the event journal holds.
type JournalMetrics struct {
	Entries int64 `json:"entries"`
}

// InfluxMetrics reports whether the telemetry writer has a live connection.
type InfluxMetrics struct {
	Connected bool `json:"connected"`
}

// snapshotRuntime samples the Go runtime. ReadMemStats stops the world
// briefly, which is acceptable at metrics-poll frequency.
func snapshotRuntime() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	const mib = 1 << 20
	return RuntimeMetrics{
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(mem.Alloc) / mib,
		TotalAllocMB: float64(mem.TotalAlloc) / mib,
		GCCycles:     mem.NumGC,
	}
}

// handleMetrics assembles the full system snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	devices, events := s.client.Status()

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime:       snapshotRuntime(),
		Controller: ControllerMetrics{
			Stats:   s.client.Stats(),
			Devices: devices,
			Events:  events,
		},
	}

	if s.bridge != nil {
		stats := s.bridge.Stats()
		m.Bridge = &stats
	}
	if s.journal != nil {
		if count, err := s.journal.Count(r.Context()); err == nil {
			m.Journal = &JournalMetrics{Entries: count}
		}
	}
	if s.influx != nil {
		m.Influx = &InfluxMetrics{Connected: s.influx.IsConnected()}
	}

	writeJSON(w, http.StatusOK, m)
}
