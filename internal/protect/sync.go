package protect

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the client.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// synchronizer owns the canonical snapshot. It is the model's single
// writer: only the Apply methods mutate it, serialized by mu, so readers
// can never observe a half-applied message. Readers receive deep copies.
//
// Unknown device policy: a message referencing a device the model does
// not hold synthesizes a minimal placeholder from the observed fields
// and logs a warning. The next bootstrap fills in the rest. The policy
// is total and holds for every message path.
type synchronizer struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	logger   Logger
}

func newSynchronizer(logger Logger) *synchronizer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &synchronizer{
		snapshot: &Snapshot{DeviceByID: make(map[string]*Device)},
		logger:   logger,
	}
}

// ApplyBootstrap replaces the held model wholesale and clears the stale
// flag. The returned changeset names every device in the new model plus
// any device from the previous model that disappeared, so consumers can
// fully refresh what they mirror.
func (s *synchronizer) ApplyBootstrap(b *Bootstrap) Changeset {
	now := time.Now().UTC()
	next := &Snapshot{
		DeviceByID: make(map[string]*Device),
		FetchedAt:  now,
	}

	seed := func(kind Kind, payloads []map[string]any) {
		for _, payload := range payloads {
			d := newDevice(kind, payload)
			if d.ID == "" {
				s.logger.Warn("bootstrap payload without id skipped", "kind", kind)
				continue
			}
			d.UpdatedAt = now
			next.DeviceByID[d.ID] = d
		}
	}
	seed(KindCamera, b.Cameras)
	seed(KindSensor, b.Sensors)
	seed(KindLight, b.Lights)
	seed(KindChime, b.Chimes)
	seed(KindViewer, b.Viewers)
	seed(KindLiveview, b.Liveviews)

	if b.NVR != nil {
		next.NVR = nvrFromPayload(b.NVR)
		if stats, ok := nvrStatsFromPayload(b.NVR); ok {
			next.NvrStats = stats
		}
	}

	updated := make([]string, 0, len(next.DeviceByID))
	for id := range next.DeviceByID {
		updated = append(updated, id)
	}
	sort.Strings(updated)

	s.mu.Lock()
	var removed []string
	for id := range s.snapshot.DeviceByID {
		if _, ok := next.DeviceByID[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	s.snapshot = next
	s.mu.Unlock()

	s.logger.Info("bootstrap applied", "devices", len(updated), "removed", len(removed))

	return Changeset{
		UpdatedDeviceIDs: updated,
		RemovedDeviceIDs: removed,
		NvrStatsChanged:  true,
	}
}

// ApplyDeviceDelta merges one devices-subscription message. Only the
// fields present in the partial payload overwrite; absent fields stay
// untouched. The controller uses "add" for both discovery and updates,
// so both insert-or-merge; "remove" deletes. A payload without an id is
// unusable and reported as a protocol error.
func (s *synchronizer) ApplyDeviceDelta(action string, item map[string]any) (Changeset, error) {
	id := stringAttr(item, "id")
	if id == "" {
		return Changeset{}, fmt.Errorf("%w: device message without id", ErrProtocol)
	}

	if Kind(stringAttr(item, "modelKey")) == KindNVR {
		return s.applyNVRDelta(item), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if action == "remove" {
		if _, ok := s.snapshot.DeviceByID[id]; !ok {
			return Changeset{}, nil
		}
		delete(s.snapshot.DeviceByID, id)
		s.logger.Info("device removed", "device_id", id)
		return Changeset{RemovedDeviceIDs: []string{id}}, nil
	}

	now := time.Now().UTC()
	d, ok := s.snapshot.DeviceByID[id]
	if !ok {
		d = newDevice(Kind(stringAttr(item, "modelKey")), item)
		d.UpdatedAt = now
		s.snapshot.DeviceByID[id] = d
		if action == "add" {
			s.logger.Info("device added", "device_id", id, "kind", d.Kind, "name", d.Name)
		} else {
			s.logger.Warn("update for unknown device, synthesized placeholder",
				"device_id", id, "kind", d.Kind)
		}
		return Changeset{UpdatedDeviceIDs: []string{id}}, nil
	}

	d.applyPayload(item)
	d.UpdatedAt = now
	return Changeset{UpdatedDeviceIDs: []string{id}}, nil
}

// applyNVRDelta merges an nvr-model message. Deltas before the first
// bootstrap are skipped; subscriptions only start once a bootstrap has
// seeded the model, so this covers a controller misbehavior, nothing
// normal.
func (s *synchronizer) applyNVRDelta(item map[string]any) Changeset {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot.NVR == nil {
		s.logger.Warn("nvr delta before bootstrap skipped")
		return Changeset{}
	}

	attrs := s.snapshot.NVR.Attributes
	if attrs == nil {
		attrs = make(map[string]any, len(item))
	}
	for k, v := range item {
		attrs[k] = deepCopyValue(v)
	}
	s.snapshot.NVR = nvrFromPayload(attrs)

	var cs Changeset
	if stats, ok := nvrStatsFromPayload(attrs); ok && stats != s.snapshot.NvrStats {
		s.snapshot.NvrStats = stats
		cs.NvrStatsChanged = true
	}
	return cs
}

// ApplyEvent merges one events-subscription fact into the model. Each
// event type maps onto the attribute fields it owns; the merge then
// follows the same per-field overlay as device deltas, so replaying an
// identical event is idempotent and later events win per field.
func (s *synchronizer) ApplyEvent(evt Event) Changeset {
	patch := make(map[string]any, 2)
	kind := KindCamera

	switch evt.Type {
	case EventTypeRing:
		patch["lastRing"] = millisValue(evt.Start)
	case EventTypeMotion, EventTypeSmartDetectZone, EventTypeSmartDetectLine:
		patch["isMotionDetected"] = evt.End == nil
		patch["lastMotion"] = millisValue(evt.Start)
	case EventTypeLightMotion:
		kind = KindLight
		patch["isPirMotionDetected"] = evt.End == nil
		patch["lastMotion"] = millisValue(evt.Start)
	default:
		s.logger.Debug("unhandled event type", "type", evt.Type, "device_id", evt.DeviceID)
		return Changeset{}
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.snapshot.DeviceByID[evt.DeviceID]
	if !ok {
		item := deepCopyMap(patch)
		item["id"] = evt.DeviceID
		d = newDevice(kind, item)
		d.UpdatedAt = now
		s.snapshot.DeviceByID[evt.DeviceID] = d
		s.logger.Warn("event for unknown device, synthesized placeholder",
			"device_id", evt.DeviceID, "type", evt.Type)
		return Changeset{UpdatedDeviceIDs: []string{evt.DeviceID}}
	}

	d.applyPayload(patch)
	d.UpdatedAt = now
	return Changeset{UpdatedDeviceIDs: []string{evt.DeviceID}}
}

// CurrentSnapshot returns a deep copy of the model. Callers can safely
// hold or modify it.
func (s *synchronizer) CurrentSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.DeepCopy()
}

// MarkStale flags the model as possibly out of date. Set when a
// subscription drops; cleared by the next successful bootstrap.
func (s *synchronizer) MarkStale() {
	s.mu.Lock()
	s.snapshot.Stale = true
	s.mu.Unlock()
}

// Stale reports whether the model is flagged as possibly out of date.
func (s *synchronizer) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Stale
}

// DeviceCount returns the number of devices in the model.
func (s *synchronizer) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshot.DeviceByID)
}

// millisValue converts a timestamp to the controller's epoch-millisecond
// representation, preserving nil so an event without a start clears the
// field exactly as the controller sent it.
func millisValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
