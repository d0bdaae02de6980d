package protect

import (
	"testing"
	"time"
)

func TestDeduperSuppressesWithinWindow(t *testing.T) {
	d, err := newEventDeduper(5*time.Second, 16)
	if err != nil {
		t.Fatalf("newEventDeduper() error: %v", err)
	}

	now := time.UnixMilli(1700000000000)
	d.now = func() time.Time { return now }

	start := now.Add(-time.Second)
	evt := Event{ID: "evt1", Type: EventTypeMotion, DeviceID: "cam1", Start: &start}

	if d.IsDuplicate(SubscriptionEvents, evt) {
		t.Error("first sighting reported as duplicate")
	}
	if !d.IsDuplicate(SubscriptionEvents, evt) {
		t.Error("re-delivery inside window not suppressed")
	}

	// Outside the window the same frame passes again.
	now = now.Add(6 * time.Second)
	if d.IsDuplicate(SubscriptionEvents, evt) {
		t.Error("re-delivery outside window suppressed")
	}
}

func TestDeduperDistinguishesProgress(t *testing.T) {
	d, err := newEventDeduper(5*time.Second, 16)
	if err != nil {
		t.Fatalf("newEventDeduper() error: %v", err)
	}

	now := time.UnixMilli(1700000000000)
	d.now = func() time.Time { return now }

	start := now.Add(-2 * time.Second)
	open := Event{ID: "evt1", Type: EventTypeMotion, DeviceID: "cam1", Start: &start}
	if d.IsDuplicate(SubscriptionEvents, open) {
		t.Error("open frame reported as duplicate")
	}

	// The end frame of the same event is progress, not a re-delivery.
	end := now
	closed := open
	closed.End = &end
	if d.IsDuplicate(SubscriptionEvents, closed) {
		t.Error("end frame suppressed as duplicate of open frame")
	}

	// Different devices never collide.
	other := open
	other.DeviceID = "cam2"
	if d.IsDuplicate(SubscriptionEvents, other) {
		t.Error("frame for different device suppressed")
	}
}

func TestDeduperDefaults(t *testing.T) {
	d, err := newEventDeduper(0, 0)
	if err != nil {
		t.Fatalf("newEventDeduper() error: %v", err)
	}
	if d.window != defaultDedupWindow {
		t.Errorf("window = %v, want %v", d.window, defaultDedupWindow)
	}
}
