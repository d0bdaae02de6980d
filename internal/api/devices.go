package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dvselas/protect-sync/internal/protect"
)

// handleListDevices returns all devices from the live model, with an
// optional kind filter.
//
// Query parameters:
//   - kind: filter by device kind (camera, sensor, light, chime, viewer)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snap := s.client.CurrentSnapshot()

	kind := protect.Kind(r.URL.Query().Get("kind"))
	devices := snap.Devices(kind)

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
		"stale":   snap.Stale,
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap := s.client.CurrentSnapshot()
	dev, ok := snap.DeviceByID[id]
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device": dev,
		"stale":  snap.Stale,
	})
}

// handleGetNVR returns the controller record and storage counters.
func (s *Server) handleGetNVR(w http.ResponseWriter, _ *http.Request) {
	snap := s.client.CurrentSnapshot()
	if snap.NVR == nil {
		writeError(w, http.StatusServiceUnavailable, "controller model not loaded")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nvr": snap.NVR,
		"storage": map[string]any{
			"used_bytes":      snap.NvrStats.StorageUsedBytes,
			"total_bytes":     snap.NvrStats.StorageTotalBytes,
			"available_bytes": snap.NvrStats.StorageAvailableBytes,
			"used_percent":    snap.NvrStats.UsedPercent(),
		},
		"stale": snap.Stale,
	})
}
