package api

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
)

// handleRecentEvents returns the newest journal entries, newest first.
//
// Query parameters:
//   - device_id: filter by device
//   - limit: maximum entries to return (default 50, max 200)
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal unavailable")
		return
	}

	limit, err := parseEventLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		entries, err := s.journal.RecentForDevice(ctx, deviceID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load events")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"device_id": deviceID,
			"events":    entries,
			"count":     len(entries),
		})
		return
	}

	entries, err := s.journal.Recent(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

// parseEventLimit validates the limit query parameter.
func parseEventLimit(raw string) (int, error) {
	if raw == "" {
		return defaultEventLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxEventLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}
