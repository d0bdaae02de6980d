package protect

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client defaults.
const (
	// defaultRequestTimeout bounds each REST call.
	defaultRequestTimeout = 30 * time.Second

	// defaultChangeQueueSize bounds the changeset fan-out queue.
	defaultChangeQueueSize = 256
)

// Config configures a Client.
type Config struct {
	// Host is the controller base URL, e.g. "https://192.168.1.1".
	Host string

	// APIToken is the static integration API key.
	APIToken string

	// VerifyTLS enables certificate verification. Controllers commonly
	// serve self-signed certificates, so false is a supported mode.
	VerifyTLS bool

	// RequestTimeout bounds each REST call. Defaults to 30s.
	RequestTimeout time.Duration

	// ReconnectInitial and ReconnectMax tune the stream backoff curve.
	// Zero values select the package defaults (1s, 120s).
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// DedupWindow and DedupCacheSize tune duplicate-event suppression.
	// Zero values select the package defaults (5s, 1024).
	DedupWindow    time.Duration
	DedupCacheSize int

	// ChangeQueueSize bounds the changeset fan-out queue. Defaults
	// to 256.
	ChangeQueueSize int

	// Logger receives structured log records. Defaults to no-op.
	Logger Logger
}

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	EventsApplied        uint64 `json:"events_applied"`
	CommandsIssued       uint64 `json:"commands_issued"`
	ChangesetsPublished  uint64 `json:"changesets_published"`
	ChangesetsDropped    uint64 `json:"changesets_dropped"`
	DuplicatesSuppressed uint64 `json:"duplicates_suppressed"`
	FramesReceived       uint64 `json:"frames_received"`
	FramesDropped        uint64 `json:"frames_dropped"`
	Reconnects           uint64 `json:"reconnects"`
	Devices              int    `json:"devices"`
	Stale                bool   `json:"stale"`
}

// Client maintains a live model of one controller. It orchestrates the
// startup sequence (probe, bootstrap, subscribe), routes stream messages
// into the synchronizer, fans changesets out to subscribers, and
// delegates commands to the REST client.
//
// A Client is single-use: construct with New, run with Start, terminate
// with Close. Commands never mutate the model directly; every state
// change arrives through the event path.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	cfg    Config
	logger Logger

	transport *Transport
	rest      *restClient
	model     *synchronizer
	dedup     *eventDeduper
	streams   *streamManager

	// Changeset and event fan-out. A single dispatch worker preserves
	// application order for subscribers.
	subscribersMu sync.RWMutex
	subscribers   []func(Changeset)
	eventSubs     []func(Event)
	changeQueue   chan change
	workerWG      sync.WaitGroup

	// bootstrapMu serializes re-bootstraps when both subscriptions
	// recover at once.
	bootstrapMu sync.Mutex

	// Lifecycle.
	runMu     sync.Mutex
	running   bool
	ctx       context.Context    // Client-level context, cancelled on Close()
	ctxCancel context.CancelFunc // Cancel function for ctx
	done      *closeOnce
	stopOnce  sync.Once

	// Counters.
	eventsApplied        atomic.Uint64
	commandsIssued       atomic.Uint64
	changesetsPublished  atomic.Uint64
	changesetsDropped    atomic.Uint64
	duplicatesSuppressed atomic.Uint64
}

// change is one unit of dispatch work: the changeset a merge produced
// and, when the merge came from a decoded stream event, the event fact
// itself. Carrying both through one queue keeps a device's event and
// its state change in order for subscribers.
type change struct {
	cs  Changeset
	evt *Event
}

// New creates a client for the configured controller. Host and token are
// validated here; the first network contact happens in Start.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	transport, err := NewTransport(Credential{
		Host:      cfg.Host,
		APIToken:  cfg.APIToken,
		VerifyTLS: cfg.VerifyTLS,
	}, timeout)
	if err != nil {
		return nil, err
	}

	dedup, err := newEventDeduper(cfg.DedupWindow, cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}

	queueSize := cfg.ChangeQueueSize
	if queueSize <= 0 {
		queueSize = defaultChangeQueueSize
	}

	// Client-level context for stream supervision, cancelled on Close
	ctx, ctxCancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:         cfg,
		logger:      logger,
		transport:   transport,
		model:       newSynchronizer(logger),
		dedup:       dedup,
		changeQueue: make(chan change, queueSize),
		ctx:         ctx,
		ctxCancel:   ctxCancel,
		done:        newCloseOnce(),
	}
	c.rest = newRESTClient(transport)
	c.streams = newStreamManager(transport, StreamConfig{
		InitialBackoff: cfg.ReconnectInitial,
		MaxBackoff:     cfg.ReconnectMax,
	}, subscriptionHooks{
		onFrame:     c.handleFrame,
		onRecovered: c.rebootstrap,
		onDown:      c.streamDown,
	}, logger)

	return c, nil
}

// Start runs the startup sequence: controller probe, initial bootstrap,
// supplemental listings, then both stream subscriptions. A failure
// before the subscriptions launch is fatal and leaves nothing running;
// in particular a rejected token surfaces as ErrAuth and neither
// subscription is started.
//
// The passed context bounds startup only. The running client lives until
// Close.
func (c *Client) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.isClosed() {
		return fmt.Errorf("%w: client closed", ErrNotRunning)
	}
	if c.running {
		return ErrAlreadyRunning
	}

	info, err := c.rest.GetMetaInfo(ctx)
	if err != nil {
		return fmt.Errorf("controller probe: %w", err)
	}
	c.logger.Info("controller reachable",
		"host", c.transport.Host(),
		"version", stringAttr(info, "applicationVersion"))

	b, err := c.rest.GetBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("initial bootstrap: %w", err)
	}
	c.enrich(ctx, b)

	cs := c.model.ApplyBootstrap(b)

	c.workerWG.Add(1)
	go c.changeWorker()
	c.publish(cs)

	c.streams.Start(c.ctx)
	c.running = true

	c.logger.Info("client started", "devices", len(cs.UpdatedDeviceIDs))
	return nil
}

// Close terminates the client: stops both subscriptions, drains the
// dispatch worker and cancels any in-flight work. Idempotent; after it
// returns nothing is left running.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		c.done.Close()
		c.ctxCancel()
		c.streams.Stop()
		c.workerWG.Wait()

		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()

		c.logger.Info("client stopped")
	})
}

// enrich fills the bootstrap with listings the legacy endpoint does not
// carry, fetched in parallel. Failures are logged and non-fatal: a
// controller without lights still bootstraps.
func (c *Client) enrich(ctx context.Context, b *Bootstrap) {
	g := new(errgroup.Group)

	g.Go(func() error {
		lights, err := c.rest.ListLights(ctx)
		if err != nil {
			return fmt.Errorf("lights: %w", err)
		}
		b.Lights = lights
		return nil
	})
	g.Go(func() error {
		chimes, err := c.rest.ListChimes(ctx)
		if err != nil {
			return fmt.Errorf("chimes: %w", err)
		}
		b.Chimes = chimes
		return nil
	})
	g.Go(func() error {
		viewers, err := c.rest.ListViewers(ctx)
		if err != nil {
			return fmt.Errorf("viewers: %w", err)
		}
		b.Viewers = viewers
		return nil
	})
	g.Go(func() error {
		liveviews, err := c.rest.ListLiveviews(ctx)
		if err != nil {
			return fmt.Errorf("liveviews: %w", err)
		}
		b.Liveviews = liveviews
		return nil
	})
	g.Go(func() error {
		nvr, err := c.rest.GetNVR(ctx)
		if err != nil {
			return fmt.Errorf("nvr: %w", err)
		}
		// The legacy bootstrap nvr stays authoritative; the v1 payload
		// only fills blocks the bootstrap omits.
		if b.NVR == nil {
			b.NVR = nvr
			return nil
		}
		for k, v := range nvr {
			if _, ok := b.NVR[k]; !ok {
				b.NVR[k] = v
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		c.logger.Warn("supplemental listings incomplete", "error", err)
	}
}

// rebootstrap refreshes the model after a subscription recovers. Run
// before the subscription resumes forwarding, exactly once per recovery;
// a failure here re-enters the owning subscription's backoff cycle.
func (c *Client) rebootstrap(ctx context.Context, name string) error {
	c.bootstrapMu.Lock()
	defer c.bootstrapMu.Unlock()

	b, err := c.rest.GetBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("re-bootstrap: %w", err)
	}
	c.enrich(ctx, b)

	cs := c.model.ApplyBootstrap(b)
	c.publish(cs)

	c.logger.Info("model refreshed after reconnect", "subscription", name)
	return nil
}

// streamDown marks the model stale. Cleared by the next successful
// bootstrap.
func (c *Client) streamDown(string, error) {
	c.model.MarkStale()
}

// handleFrame routes one decoded frame from either subscription into the
// synchronizer and publishes the resulting changeset.
func (c *Client) handleFrame(name string, frame streamFrame) error {
	switch name {
	case SubscriptionDevices:
		cs, err := c.model.ApplyDeviceDelta(frame.Type, frame.Item)
		if err != nil {
			return err
		}
		c.eventsApplied.Add(1)
		c.publish(cs)
		return nil

	default: // SubscriptionEvents
		evt, err := eventFromItem(frame.Item)
		if err != nil {
			return err
		}
		if c.dedup.IsDuplicate(name, evt) {
			c.duplicatesSuppressed.Add(1)
			return nil
		}
		cs := c.model.ApplyEvent(evt)
		c.eventsApplied.Add(1)
		c.enqueue(change{cs: cs, evt: &evt})
		return nil
	}
}

// publish fans a changeset out through the bounded queue.
func (c *Client) publish(cs Changeset) {
	c.enqueue(change{cs: cs})
}

// enqueue hands a change to the dispatch worker. A full queue drops the
// change and counts it so a slow subscriber cannot stall the receive
// loops.
func (c *Client) enqueue(ch change) {
	if ch.cs.Empty() && ch.evt == nil {
		return
	}
	select {
	case c.changeQueue <- ch:
		c.changesetsPublished.Add(1)
	default:
		c.changesetsDropped.Add(1)
		c.logger.Warn("changeset queue full, dropping",
			"updated", len(ch.cs.UpdatedDeviceIDs),
			"removed", len(ch.cs.RemovedDeviceIDs))
	}
}

// changeWorker dispatches queued changes to subscribers in order,
// draining the queue on shutdown.
func (c *Client) changeWorker() {
	defer c.workerWG.Done()

	for {
		select {
		case ch := <-c.changeQueue:
			c.dispatch(ch)
		case <-c.done.Done():
			for {
				select {
				case ch := <-c.changeQueue:
					c.dispatch(ch)
				default:
					return
				}
			}
		}
	}
}

// dispatch invokes every subscriber, recovering panics so one bad
// callback cannot kill the dispatch worker.
func (c *Client) dispatch(ch change) {
	c.subscribersMu.RLock()
	subs := make([]func(Changeset), len(c.subscribers))
	copy(subs, c.subscribers)
	evtSubs := make([]func(Event), len(c.eventSubs))
	copy(evtSubs, c.eventSubs)
	c.subscribersMu.RUnlock()

	if !ch.cs.Empty() {
		for _, fn := range subs {
			c.invoke(func() { fn(ch.cs) })
		}
	}
	if ch.evt != nil {
		for _, fn := range evtSubs {
			evt := *ch.evt
			c.invoke(func() { fn(evt) })
		}
	}
}

// invoke runs one subscriber callback with panic recovery.
func (c *Client) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("changeset subscriber panicked", "panic", r)
		}
	}()
	fn()
}

// SubscribeChanges registers a callback invoked for every published
// changeset. Callbacks run on the dispatch worker and receive changesets
// in application order; register before Start to also receive the
// initial bootstrap changeset.
func (c *Client) SubscribeChanges(fn func(Changeset)) {
	if fn == nil {
		return
	}
	c.subscribersMu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.subscribersMu.Unlock()
}

// SubscribeEvents registers a callback invoked for every decoded stream
// event that survives dedup and reaches the model. Callbacks run on the
// dispatch worker; for a given device, an event is delivered after the
// changeset it produced.
func (c *Client) SubscribeEvents(fn func(Event)) {
	if fn == nil {
		return
	}
	c.subscribersMu.Lock()
	c.eventSubs = append(c.eventSubs, fn)
	c.subscribersMu.Unlock()
}

// CurrentSnapshot returns a deep copy of the model. Callers can safely
// hold or modify it.
func (c *Client) CurrentSnapshot() *Snapshot {
	return c.model.CurrentSnapshot()
}

// Stale reports whether the model is known possibly out of date because
// a subscription is down.
func (c *Client) Stale() bool {
	return c.model.Stale()
}

// Status returns the diagnostic view of both subscriptions.
func (c *Client) Status() (devices, events SubscriptionStatus) {
	return c.streams.Status()
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	devices, events := c.streams.Status()
	return Stats{
		EventsApplied:        c.eventsApplied.Load(),
		CommandsIssued:       c.commandsIssued.Load(),
		ChangesetsPublished:  c.changesetsPublished.Load(),
		ChangesetsDropped:    c.changesetsDropped.Load(),
		DuplicatesSuppressed: c.duplicatesSuppressed.Load(),
		FramesReceived:       devices.FramesReceived + events.FramesReceived,
		FramesDropped:        devices.FramesDropped + events.FramesDropped,
		Reconnects:           devices.Reconnects + events.Reconnects,
		Devices:              c.model.DeviceCount(),
		Stale:                c.model.Stale(),
	}
}

// HealthCheck verifies the client is running with a current model.
func (c *Client) HealthCheck(context.Context) error {
	c.runMu.Lock()
	running := c.running
	c.runMu.Unlock()

	if !running {
		return fmt.Errorf("%w: health check failed", ErrNotRunning)
	}
	if c.model.Stale() {
		return fmt.Errorf("model stale, reconnect in progress")
	}
	return nil
}

// StartPatrol starts a scripted PTZ patrol on a camera. Slot must be
// 0 through 4; validation happens before any network I/O.
func (c *Client) StartPatrol(ctx context.Context, cameraID string, slot int) error {
	if c.isClosed() {
		return ErrNotRunning
	}
	if err := c.rest.StartPatrol(ctx, cameraID, slot); err != nil {
		return err
	}
	c.commandsIssued.Add(1)
	return nil
}

// StopPatrol stops the active PTZ patrol on a camera.
func (c *Client) StopPatrol(ctx context.Context, cameraID string) error {
	if c.isClosed() {
		return ErrNotRunning
	}
	if err := c.rest.StopPatrol(ctx, cameraID); err != nil {
		return err
	}
	c.commandsIssued.Add(1)
	return nil
}

// GotoPreset moves a PTZ camera to a saved preset position. Slot -1 is
// the home position; validation happens before any network I/O.
func (c *Client) GotoPreset(ctx context.Context, cameraID string, slot int) error {
	if c.isClosed() {
		return ErrNotRunning
	}
	if err := c.rest.GotoPreset(ctx, cameraID, slot); err != nil {
		return err
	}
	c.commandsIssued.Add(1)
	return nil
}

// TriggerAlarm fires the alarm-manager webhook for a trigger id.
func (c *Client) TriggerAlarm(ctx context.Context, triggerID string) error {
	if c.isClosed() {
		return ErrNotRunning
	}
	if err := c.rest.TriggerAlarm(ctx, triggerID); err != nil {
		return err
	}
	c.commandsIssued.Add(1)
	return nil
}

// CameraSnapshotURL returns the direct snapshot URL for a camera.
func (c *Client) CameraSnapshotURL(cameraID string) string {
	return c.rest.CameraSnapshotURL(cameraID)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}
