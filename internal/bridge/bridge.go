package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvselas/protect-sync/internal/infrastructure/mqtt"
	"github.com/dvselas/protect-sync/internal/journal"
	"github.com/dvselas/protect-sync/internal/protect"
)

// Bridge operation constants.
const (
	// commandTimeout bounds each delegated controller command.
	commandTimeout = 10 * time.Second

	// recordTimeout bounds each journal write.
	recordTimeout = 5 * time.Second

	// defaultQueueSize bounds the changeset/event intake queue.
	defaultQueueSize = 256
)

// Journal entry kinds written by the bridge. Event entries use the
// controller event type as their kind.
const (
	journalKindRemoved = "removed"
	journalKindSync    = "sync"
)

// Bridge mirrors the live controller model onto MQTT. It handles:
//   - Publishing device state and storage changes as retained topics
//   - Publishing controller events (motion, ring, smart detections)
//   - Receiving commands from consumers and delegating them to the
//     controller client with acknowledgment replies
//   - Journal and telemetry recording for the status API and dashboards
//
// The bridge only ever reads isolated snapshot copies; it never reaches
// into the client's model.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client    Coordinator
	mqtt      MQTTClient
	journal   Journal         // Optional journal for event persistence
	telemetry TelemetryWriter // Optional InfluxDB telemetry

	topics      mqtt.Topics
	qos         byte
	retainState bool

	// Intake queue between the client's dispatch worker and this
	// bridge's publish worker. Bounded so a slow broker can never
	// stall changeset dispatch.
	queue chan item

	// synced flips after the first changeset, which carries the full
	// bootstrap model when the bridge subscribes before client start.
	synced bool

	// Lifecycle. ctx is cancelled by Stop; done closes once the publish
	// worker has drained out.
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex

	// Counters
	statesPublished atomic.Uint64
	eventsPublished atomic.Uint64
	acksPublished   atomic.Uint64
	commandsHandled atomic.Uint64
	commandsFailed  atomic.Uint64
	dropped         atomic.Uint64
	publishErrors   atomic.Uint64
	journalErrors   atomic.Uint64
}

// item is one unit of intake work: a changeset or an event fact.
type item struct {
	cs  *protect.Changeset
	evt *protect.Event
}

// Coordinator is the controller client surface the bridge consumes.
// Satisfied by *protect.Client; narrowed here for mocking in tests.
type Coordinator interface {
	// CurrentSnapshot returns an isolated copy of the live model.
	CurrentSnapshot() *protect.Snapshot

	// SubscribeChanges registers a callback for every changeset.
	SubscribeChanges(fn func(protect.Changeset))

	// SubscribeEvents registers a callback for every decoded event.
	SubscribeEvents(fn func(protect.Event))

	// StartPatrol starts a scripted PTZ patrol on a camera.
	StartPatrol(ctx context.Context, cameraID string, slot int) error

	// StopPatrol stops the active PTZ patrol on a camera.
	StopPatrol(ctx context.Context, cameraID string) error

	// GotoPreset moves a PTZ camera to a saved preset position.
	GotoPreset(ctx context.Context, cameraID string, slot int) error

	// TriggerAlarm fires the alarm-manager webhook for a trigger id.
	TriggerAlarm(ctx context.Context, triggerID string) error
}

// MQTTClient is the broker surface the bridge publishes through.
// Satisfied by *mqtt.Client; narrowed for the fakes in tests.
type MQTTClient interface {
	// Publish sends one message.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic filter.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected reports whether the broker link is up.
	IsConnected() bool
}

// Journal persists controller events and command records.
// This interface is satisfied by journal.Journal implementations.
// It is optional - if nil, the bridge operates without persistence.
type Journal interface {
	// Record appends one entry to the journal.
	Record(ctx context.Context, entry journal.Entry) error
}

// TelemetryWriter records time-series telemetry.
// This interface is satisfied by *influxdb.Client.
// It is optional - if nil, the bridge operates without telemetry.
type TelemetryWriter interface {
	// WriteDeviceState writes a snapshot of device state values.
	WriteDeviceState(deviceID string, kind string, fields map[string]interface{})

	// WriteStorageStats writes NVR storage utilisation.
	WriteStorageStats(usedBytes int64, totalBytes int64)

	// WriteEventCount records a single event occurrence.
	WriteEventCount(eventType string, deviceID string)
}

// Logger is the structured logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Client is the controller client to mirror.
	Client Coordinator

	// MQTT is the MQTT client implementation.
	MQTT MQTTClient

	// Journal is optional event persistence.
	// If nil, the bridge operates without journalling.
	Journal Journal

	// Telemetry is optional InfluxDB telemetry.
	// If nil, the bridge operates without telemetry.
	Telemetry TelemetryWriter

	// QoS is the quality-of-service level for published messages.
	QoS byte

	// RetainState controls whether device and NVR state topics are
	// published retained.
	RetainState bool

	// QueueSize bounds the intake queue. Defaults to 256.
	QueueSize int

	// Logger is optional structured logger.
	Logger Logger
}

// New creates a new bridge instance.
// Call Start() to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("controller client is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	// Bridge-level context for command cancellation on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		client:      opts.Client,
		mqtt:        opts.MQTT,
		journal:     opts.Journal,   // May be nil (optional)
		telemetry:   opts.Telemetry, // May be nil (optional)
		qos:         opts.QoS,
		retainState: opts.RetainState,
		queue:       make(chan item, queueSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      opts.Logger,
	}, nil
}

// Start begins bridge operation: subscribes to the command topics,
// registers the changeset and event callbacks, and starts the publish
// worker.
//
// Call Start before the controller client starts so the bootstrap
// changeset seeds the retained MQTT mirror.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.client.SubscribeChanges(b.onChangeset)
	b.client.SubscribeEvents(b.onEvent)

	b.wg.Add(1)
	go b.worker()

	b.logInfo("bridge started", "qos", b.qos, "retain_state", b.retainState)
	return nil
}

// Stop gracefully shuts down the bridge. Queued changes are drained
// before the publish worker exits.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.cancel()

		// Wait for the publish worker to drain
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// onChangeset receives changesets on the client's dispatch worker and
// hands them to the publish worker without blocking.
func (b *Bridge) onChangeset(cs protect.Changeset) {
	b.enqueue(item{cs: &cs})
}

// onEvent receives decoded events on the client's dispatch worker and
// hands them to the publish worker without blocking.
func (b *Bridge) onEvent(evt protect.Event) {
	b.enqueue(item{evt: &evt})
}

// enqueue offers one item to the publish worker. A full queue drops the
// item and counts it so a slow broker cannot stall the client's
// dispatch worker.
func (b *Bridge) enqueue(it item) {
	select {
	case b.queue <- it:
	default:
		b.dropped.Add(1)
		b.logWarn("bridge queue full, dropping")
	}
}

// worker publishes queued items in order, draining the queue on
// shutdown.
func (b *Bridge) worker() {
	defer b.wg.Done()

	for {
		select {
		case it := <-b.queue:
			b.process(it)
		case <-b.done:
			for {
				select {
				case it := <-b.queue:
					b.process(it)
				default:
					return
				}
			}
		}
	}
}

// process fans one item out to MQTT, the journal and telemetry.
func (b *Bridge) process(it item) {
	if it.cs != nil {
		b.handleChangeset(*it.cs)
	}
	if it.evt != nil {
		b.handleEvent(*it.evt)
	}
}

// handleChangeset publishes the state of every changed device, clears
// retained state for removed devices, and refreshes the NVR topic when
// the storage counters moved.
func (b *Bridge) handleChangeset(cs protect.Changeset) {
	snap := b.client.CurrentSnapshot()

	for _, id := range cs.UpdatedDeviceIDs {
		dev, ok := snap.DeviceByID[id]
		if !ok {
			// Removed between merge and dispatch; the removal
			// changeset clears the topic.
			continue
		}
		b.publishDeviceState(dev)
		if b.telemetry != nil {
			b.telemetry.WriteDeviceState(dev.ID, string(dev.Kind), telemetryFields(dev))
		}
	}

	for _, id := range cs.RemovedDeviceIDs {
		b.clearDeviceState(id)
		b.record(journal.Entry{
			DeviceID: id,
			Kind:     journalKindRemoved,
			Source:   journal.SourceStream,
		})
	}

	if cs.NvrStatsChanged {
		b.publishNVRState(snap)
		if b.telemetry != nil {
			b.telemetry.WriteStorageStats(
				snap.NvrStats.StorageUsedBytes, snap.NvrStats.StorageTotalBytes)
		}
	}

	if !b.synced {
		b.synced = true
		b.recordSync(snap)
	}
}

// handleEvent publishes one controller event and records it.
func (b *Bridge) handleEvent(evt protect.Event) {
	msg := NewEventMessage(evt)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal event", err)
		return
	}

	topic := b.topics.Event(string(evt.Type))
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.publishErrors.Add(1)
		b.logError("failed to publish event", err)
	} else {
		b.eventsPublished.Add(1)
	}

	entry := journal.Entry{
		DeviceID: evt.DeviceID,
		Kind:     string(evt.Type),
		Payload:  map[string]any{"event_id": evt.ID},
		Source:   journal.SourceStream,
	}
	if evt.Start != nil {
		entry.Payload["start"] = evt.Start.UTC().Format(time.RFC3339)
	}
	if evt.End != nil {
		entry.Payload["end"] = evt.End.UTC().Format(time.RFC3339)
	}
	b.record(entry)

	if b.telemetry != nil {
		b.telemetry.WriteEventCount(string(evt.Type), evt.DeviceID)
	}
}

// publishDeviceState publishes one device's canonical state.
func (b *Bridge) publishDeviceState(dev *protect.Device) {
	msg := NewStateMessage(dev)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal device state", err)
		return
	}

	topic := b.topics.DeviceState(dev.ID)
	if err := b.mqtt.Publish(topic, payload, b.qos, b.retainState); err != nil {
		b.publishErrors.Add(1)
		b.logError("failed to publish device state", err)
		return
	}
	b.statesPublished.Add(1)
}

// clearDeviceState deletes the retained state topic for a removed
// device. An empty retained payload removes the broker's copy, so
// consumers stop seeing the device on subscribe.
func (b *Bridge) clearDeviceState(id string) {
	topic := b.topics.DeviceState(id)
	if err := b.mqtt.Publish(topic, []byte{}, b.qos, true); err != nil {
		b.publishErrors.Add(1)
		b.logError("failed to clear device state", err)
		return
	}
	b.statesPublished.Add(1)
	b.logInfo("cleared retained state for removed device", "device_id", id)
}

// publishNVRState publishes the controller and storage counters.
func (b *Bridge) publishNVRState(snap *protect.Snapshot) {
	msg := NewNVRStateMessage(snap.NVR, snap.NvrStats)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal nvr state", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.NVRState(), payload, b.qos, b.retainState); err != nil {
		b.publishErrors.Add(1)
		b.logError("failed to publish nvr state", err)
		return
	}
	b.statesPublished.Add(1)
}

// record writes one journal entry if a journal is configured.
func (b *Bridge) record(entry journal.Entry) {
	if b.journal == nil {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
	defer cancel()

	if err := b.journal.Record(ctx, entry); err != nil {
		b.journalErrors.Add(1)
		b.logError("journal write failed", err)
	}
}

// recordSync journals the initial model sync. The first changeset the
// bridge sees carries the full bootstrap, so one marker entry per
// daemon run is enough for the status API's event listing.
func (b *Bridge) recordSync(snap *protect.Snapshot) {
	if snap.NVR == nil || snap.NVR.ID == "" {
		return
	}
	b.record(journal.Entry{
		DeviceID: snap.NVR.ID,
		Kind:     journalKindSync,
		Payload: map[string]any{
			"devices":             len(snap.DeviceByID),
			"storage_used_bytes":  snap.NvrStats.StorageUsedBytes,
			"storage_total_bytes": snap.NvrStats.StorageTotalBytes,
		},
		Source: journal.SourceBootstrap,
	})
}

// telemetryFields projects the device fields worth graphing.
func telemetryFields(dev *protect.Device) map[string]interface{} {
	fields := map[string]interface{}{
		"online":          dev.ConnectionState == protect.StateOnline,
		"motion_detected": dev.MotionDetected || dev.PIRMotionDetected,
	}
	if dev.BatteryLevel != nil {
		fields["battery_level"] = *dev.BatteryLevel
	}
	return fields
}

// Stats contains bridge counters for the status API.
type Stats struct {
	Connected       bool   `json:"connected"`
	StatesPublished uint64 `json:"states_published"`
	EventsPublished uint64 `json:"events_published"`
	AcksPublished   uint64 `json:"acks_published"`
	CommandsHandled uint64 `json:"commands_handled"`
	CommandsFailed  uint64 `json:"commands_failed"`
	Dropped         uint64 `json:"dropped"`
	PublishErrors   uint64 `json:"publish_errors"`
	JournalErrors   uint64 `json:"journal_errors"`
	QueueDepth      int    `json:"queue_depth"`
}

// Stats returns current bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Connected:       b.mqtt.IsConnected(),
		StatesPublished: b.statesPublished.Load(),
		EventsPublished: b.eventsPublished.Load(),
		AcksPublished:   b.acksPublished.Load(),
		CommandsHandled: b.commandsHandled.Load(),
		CommandsFailed:  b.commandsFailed.Load(),
		Dropped:         b.dropped.Load(),
		PublishErrors:   b.publishErrors.Load(),
		JournalErrors:   b.journalErrors.Load(),
		QueueDepth:      len(b.queue),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// log returns the configured logger, or nil when none is set.
func (b *Bridge) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.log(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.log(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.log(); l != nil {
		l.Error(msg, "error", err)
	}
}
