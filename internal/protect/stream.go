package protect

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Subscription names. Each maps to one long-lived WebSocket.
const (
	SubscriptionDevices = "devices"
	SubscriptionEvents  = "events"

	pathSubscribeDevices = "/proxy/protect/integration/v1/subscribe/devices"
	pathSubscribeEvents  = "/proxy/protect/integration/v1/subscribe/events"
)

// Stream supervision constants.
const (
	// defaultInitialBackoff is the first reconnect delay.
	defaultInitialBackoff = 1 * time.Second

	// defaultMaxBackoff caps the reconnect delay.
	defaultMaxBackoff = 120 * time.Second

	// backoffFactor is the exponential growth rate between attempts.
	backoffFactor = 1.5

	// pongWait is how long a connection may stay silent before it is
	// declared dead. Any frame or pong resets the clock.
	pongWait = 90 * time.Second

	// pingPeriod is how often keepalive pings are sent. Must be well
	// under pongWait.
	pingPeriod = 30 * time.Second

	// writeWait bounds control-frame writes.
	writeWait = 10 * time.Second

	// maxFrameBytes caps a single inbound frame (1MB).
	maxFrameBytes = 1048576
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// streamFrame is the wire envelope shared by both subscriptions:
// {"type": "add"|"update"|"remove", "item": {...}}.
type streamFrame struct {
	Type string         `json:"type"`
	Item map[string]any `json:"item"`
}

// subscriptionHooks connect a subscription to its owner.
type subscriptionHooks struct {
	// onFrame handles one decoded frame. A returned error counts the
	// frame as dropped; the connection stays up.
	onFrame func(name string, frame streamFrame) error

	// onRecovered runs after a reconnect dial succeeds and before any
	// frame is forwarded, closing the outage gap. An error abandons the
	// recovery and re-enters backoff.
	onRecovered func(ctx context.Context, name string) error

	// onDown fires whenever the connection is lost or a connect attempt
	// fails.
	onDown func(name string, err error)
}

// StreamConfig tunes subscription supervision. Zero values select the
// package defaults.
type StreamConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// subscription supervises one long-lived WebSocket: connect, sequential
// receive loop, reconnect with capped exponential backoff and jitter.
// Retries never give up while the client runs; the controller link is
// assumed essential.
//
// State machine: disconnected → connecting → connected → (failure)
// reconnecting → connecting → …; shutdown is terminal and entered only
// via stop.
type subscription struct {
	name      string
	path      string
	transport *Transport
	cfg       StreamConfig
	hooks     subscriptionHooks
	logger    Logger

	// State machine, guarded by stateMu.
	stateMu    sync.RWMutex
	state      SubscriptionState
	lastError  error
	retryCount int

	// Active connection, guarded by connMu so stop can close it and
	// unblock the read loop.
	connMu sync.Mutex
	conn   *websocket.Conn

	// Counters.
	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
	reconnects     atomic.Uint64

	// Shutdown coordination.
	done *closeOnce
	wg   sync.WaitGroup
}

func newSubscription(name, path string, t *Transport, cfg StreamConfig, hooks subscriptionHooks, logger Logger) *subscription {
	if logger == nil {
		logger = noopLogger{}
	}
	return &subscription{
		name:      name,
		path:      path,
		transport: t,
		cfg:       cfg.withDefaults(),
		hooks:     hooks,
		logger:    logger,
		state:     SubStateDisconnected,
		done:      newCloseOnce(),
	}
}

// start launches the supervision loop.
func (s *subscription) start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// stop terminates the subscription and waits for the loop to exit.
// Idempotent; safe from any goroutine.
func (s *subscription) stop() {
	s.done.Close()

	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close() // Unblocks the read loop
	}
	s.connMu.Unlock()

	s.wg.Wait()
}

// run is the supervision loop. One iteration per connection lifetime.
func (s *subscription) run(ctx context.Context) {
	defer s.wg.Done()

	recovering := false
	for {
		if s.stopping(ctx) {
			s.setState(SubStateShutDown, nil)
			return
		}

		s.setState(SubStateConnecting, nil)
		conn, err := s.transport.OpenStream(ctx, s.path)
		if err != nil {
			if s.stopping(ctx) {
				s.setState(SubStateShutDown, nil)
				return
			}
			recovering = true
			s.failAndWait(ctx, err)
			continue
		}

		if recovering && s.hooks.onRecovered != nil {
			// Close the outage gap before forwarding any frame: deltas
			// missed while disconnected only surface through a fresh
			// bootstrap.
			if err := s.hooks.onRecovered(ctx, s.name); err != nil {
				_ = conn.Close()
				if s.stopping(ctx) {
					s.setState(SubStateShutDown, nil)
					return
				}
				s.failAndWait(ctx, err)
				continue
			}
		}
		if recovering {
			s.reconnects.Add(1)
			recovering = false
		}

		s.setConn(conn)
		s.setState(SubStateConnected, nil)
		s.resetRetries()
		s.logger.Info("subscription connected", "subscription", s.name)

		err = s.receive(conn)
		s.setConn(nil)
		_ = conn.Close()

		if s.stopping(ctx) {
			s.setState(SubStateShutDown, nil)
			return
		}
		recovering = true
		s.failAndWait(ctx, err)
	}
}

// receive runs the sequential read loop until the connection fails.
// Malformed frames are dropped and counted; they never tear the
// connection down.
func (s *subscription) receive(conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.framesReceived.Add(1)

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.framesDropped.Add(1)
			s.logger.Warn("dropping malformed frame",
				"subscription", s.name, "error", err)
			continue
		}
		if len(frame.Item) == 0 {
			// The controller occasionally emits empty keepalive items.
			s.framesDropped.Add(1)
			continue
		}

		if err := s.hooks.onFrame(s.name, frame); err != nil {
			s.framesDropped.Add(1)
			s.logger.Warn("dropping unusable frame",
				"subscription", s.name, "type", frame.Type, "error", err)
		}
	}
}

// pingLoop keeps the connection alive between frames. The devices
// stream can stay silent for hours; without pings a dead peer would
// only be noticed at the next write, which never comes.
func (s *subscription) pingLoop(conn *websocket.Conn, pingDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-pingDone:
			return
		case <-s.done.Done():
			return
		}
	}
}

// failAndWait records the failure, notifies the owner and sleeps out the
// backoff delay. Returns early on stop.
func (s *subscription) failAndWait(ctx context.Context, cause error) {
	retries := s.bumpRetries(cause)
	if s.hooks.onDown != nil {
		s.hooks.onDown(s.name, cause)
	}

	delay := s.backoffDelay(retries)
	s.logger.Warn("subscription lost, reconnecting",
		"subscription", s.name,
		"attempt", retries,
		"delay", delay.String(),
		"error", cause)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-s.done.Done():
	}
}

// backoffDelay computes the delay before the given attempt: exponential
// growth capped at the maximum, with ±25% jitter so multiple clients do
// not reconnect in lockstep.
func (s *subscription) backoffDelay(attempt int) time.Duration {
	d := float64(s.cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
		if d >= float64(s.cfg.MaxBackoff) {
			d = float64(s.cfg.MaxBackoff)
			break
		}
	}

	base := time.Duration(d)
	quarter := base / 4
	if quarter <= 0 {
		return base
	}
	return base - quarter + time.Duration(rand.Int63n(int64(2*quarter)))
}

func (s *subscription) stopping(ctx context.Context) bool {
	select {
	case <-s.done.Done():
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *subscription) setState(state SubscriptionState, err error) {
	s.stateMu.Lock()
	s.state = state
	if err != nil {
		s.lastError = err
	}
	s.stateMu.Unlock()
}

func (s *subscription) bumpRetries(cause error) int {
	s.stateMu.Lock()
	s.state = SubStateReconnecting
	s.lastError = cause
	s.retryCount++
	retries := s.retryCount
	s.stateMu.Unlock()
	return retries
}

func (s *subscription) resetRetries() {
	s.stateMu.Lock()
	s.retryCount = 0
	s.stateMu.Unlock()
}

// Status returns a read-only diagnostic view of the subscription.
func (s *subscription) Status() SubscriptionStatus {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	status := SubscriptionStatus{
		Name:           s.name,
		State:          s.state,
		RetryCount:     s.retryCount,
		FramesReceived: s.framesReceived.Load(),
		FramesDropped:  s.framesDropped.Load(),
		Reconnects:     s.reconnects.Load(),
	}
	if s.lastError != nil {
		status.LastError = s.lastError.Error()
	}
	return status
}

// streamManager owns the two controller subscriptions and supervises
// them independently: one stream failing never disturbs the other.
type streamManager struct {
	devices *subscription
	events  *subscription
}

func newStreamManager(t *Transport, cfg StreamConfig, hooks subscriptionHooks, logger Logger) *streamManager {
	return &streamManager{
		devices: newSubscription(SubscriptionDevices, pathSubscribeDevices, t, cfg, hooks, logger),
		events:  newSubscription(SubscriptionEvents, pathSubscribeEvents, t, cfg, hooks, logger),
	}
}

// Start launches both subscription loops.
func (m *streamManager) Start(ctx context.Context) {
	m.devices.start(ctx)
	m.events.start(ctx)
}

// Stop terminates both subscriptions and waits for their loops to exit.
func (m *streamManager) Stop() {
	m.devices.stop()
	m.events.stop()
}

// Status returns the diagnostic view of both subscriptions.
func (m *streamManager) Status() (devices, events SubscriptionStatus) {
	return m.devices.Status(), m.events.Status()
}
