package protect

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup defaults, used when the owning client passes zero values.
const (
	defaultDedupWindow    = 5 * time.Second
	defaultDedupCacheSize = 1024
)

// eventDeduper suppresses re-delivered event frames. The controller
// re-emits event records as they progress and replays recent history on
// resubscribe; identical frames seen inside the window are dropped
// before they reach the synchronizer.
//
// The end timestamp participates in the key, so a start frame and its
// later end frame never collide; only byte-for-byte re-deliveries of the
// same progress state are suppressed.
type eventDeduper struct {
	window time.Duration
	seen   *lru.Cache[string, time.Time]
	now    func() time.Time // Injectable for tests
}

func newEventDeduper(window time.Duration, size int) (*eventDeduper, error) {
	if window <= 0 {
		window = defaultDedupWindow
	}
	if size <= 0 {
		size = defaultDedupCacheSize
	}

	seen, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}

	return &eventDeduper{
		window: window,
		seen:   seen,
		now:    time.Now,
	}, nil
}

// IsDuplicate reports whether an identical frame was seen inside the
// window. First sightings and expired entries are recorded as seen.
func (d *eventDeduper) IsDuplicate(subscription string, evt Event) bool {
	key := d.key(subscription, evt)
	now := d.now()

	if last, ok := d.seen.Get(key); ok && now.Sub(last) < d.window {
		return true
	}

	d.seen.Add(key, now)
	return false
}

// key buckets timestamps to whole seconds so controller-side jitter in
// re-deliveries still collides.
func (d *eventDeduper) key(subscription string, evt Event) string {
	var start, end int64
	if evt.Start != nil {
		start = evt.Start.Unix()
	}
	if evt.End != nil {
		end = evt.End.Unix()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d", subscription, evt.ID, evt.Type, evt.DeviceID, start, end)
}
