package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvselas/protect-sync/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for option-building tests.
// Everything in this file runs without a broker; end-to-end behaviour is
// covered by integration_test.go behind the integration build tag.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "protectsync-test",
			TLS:      false,
		},
		Auth: config.MQTTAuthConfig{
			Username: "",
			Password: "",
		},
		QoS:          1,
		Keepalive:    30,
		CleanSession: true,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// captureLogger implements Logger and records messages for assertions.
type captureLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *captureLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *captureLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *captureLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func (l *captureLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// fakeMessage implements the paho Message interface for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}

func TestIsConnectedInitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() = true on zero client, want false")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := &Client{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.HealthCheck(ctx)
	if err == nil {
		t.Fatal("HealthCheck() expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestDisconnectCallback(t *testing.T) {
	client := &Client{}

	var got error
	client.SetOnDisconnect(func(err error) {
		got = err
	})

	cause := errors.New("broker went away")
	client.handleDisconnect(cause)

	if got != cause {
		t.Errorf("OnDisconnect received %v, want %v", got, cause)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after handleDisconnect")
	}
}

func TestSetLogger(t *testing.T) {
	client := &Client{}

	logger := &captureLogger{}
	client.SetLogger(logger)
	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

// =============================================================================
// Publish Validation Tests
// =============================================================================

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte("x"),
			qos:     1,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "protectsync/event/motion",
			payload: []byte("x"),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "oversized payload",
			topic:   "protectsync/event/motion",
			payload: make([]byte, maxPayloadSize+1),
			qos:     1,
			wantErr: ErrPublishFailed,
		},
		{
			name:    "valid but disconnected",
			topic:   "protectsync/event/motion",
			payload: []byte("x"),
			qos:     1,
			wantErr: ErrNotConnected,
		},
		{
			name:    "nil payload reaches connection check",
			topic:   "protectsync/device/cam-1/state",
			payload: nil,
			qos:     1,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishStringDelegates(t *testing.T) {
	client := &Client{}

	err := client.PublishString("", "payload", 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("PublishString() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishRetainedUsesConfiguredQoS(t *testing.T) {
	// QoS above 2 in config must be caught by Publish's validation even
	// though PublishRetained fills it in implicitly.
	client := &Client{cfg: config.MQTTConfig{QoS: 7}}

	err := client.PublishRetained("protectsync/nvr/state", []byte("{}"))
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("PublishRetained() error = %v, want ErrInvalidQoS", err)
	}
}

// =============================================================================
// Subscribe Validation Tests
// =============================================================================

func TestSubscribeValidation(t *testing.T) {
	handler := func(topic string, payload []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			qos:     1,
			handler: handler,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "protectsync/command/#",
			qos:     5,
			handler: handler,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "nil handler",
			topic:   "protectsync/command/#",
			qos:     1,
			handler: nil,
			wantErr: ErrSubscribeFailed,
		},
		{
			name:    "valid but disconnected",
			topic:   "protectsync/command/#",
			qos:     1,
			handler: handler,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &Client{subscriptions: make(map[string]subscription)}

			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
			if client.SubscriptionCount() != 0 {
				t.Errorf("SubscriptionCount() = %d after failed Subscribe, want 0", client.SubscriptionCount())
			}
		})
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Unsubscribe("protectsync/command/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestSubscriptionBookkeeping(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
	if client.HasSubscription("protectsync/command/#") {
		t.Error("HasSubscription() = true on fresh client")
	}

	client.subscriptions["protectsync/command/#"] = subscription{
		topic: "protectsync/command/#",
		qos:   1,
	}

	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}
	if !client.HasSubscription("protectsync/command/#") {
		t.Error("HasSubscription() = false for tracked topic")
	}
}

// =============================================================================
// Topic Builder Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceState", topics.DeviceState("66b1ab8f0267ba03e40b8bdd"), "protectsync/device/66b1ab8f0267ba03e40b8bdd/state"},
		{"NVRState", topics.NVRState(), "protectsync/nvr/state"},
		{"Event", topics.Event("motion"), "protectsync/event/motion"},
		{"Event ring", topics.Event("ring"), "protectsync/event/ring"},
		{"Command", topics.Command("start_patrol"), "protectsync/command/start_patrol"},
		{"Ack", topics.Ack("req-7f3a"), "protectsync/ack/req-7f3a"},
		{"SystemStatus", topics.SystemStatus(), "protectsync/system/status"},
		{"AllDeviceStates", topics.AllDeviceStates(), "protectsync/device/+/state"},
		{"AllEvents", topics.AllEvents(), "protectsync/event/+"},
		{"AllCommands", topics.AllCommands(), "protectsync/command/#"},
		{"AllTopics", topics.AllTopics(), "protectsync/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// =============================================================================
// Option Building Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "syncd"
	cfg.Auth.Password = "secret"

	opts := newClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers count = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want %q", got, "tcp://127.0.0.1:1883")
	}
	if opts.ClientID != "protectsync-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "protectsync-test")
	}
	if opts.Username != "syncd" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want syncd/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.ConnectRetryInterval != 1*time.Second {
		t.Errorf("ConnectRetryInterval = %v, want 1s", opts.ConnectRetryInterval)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
}

func TestBuildClientOptionsAnonymous(t *testing.T) {
	cfg := testConfig()

	opts := newClientOptions(cfg)

	if opts.Username != "" {
		t.Errorf("Username = %q, want empty for anonymous access", opts.Username)
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := newClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("broker scheme = %q, want %q", got, "ssl")
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig = nil, want configured")
	}
	if opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLS MinVersion = %d, want %d", opts.TLSConfig.MinVersion, tlsMinVersion)
	}
}

func TestBuildClientOptionsKeepaliveDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Keepalive = 0

	opts := newClientOptions(cfg)

	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want %d", opts.KeepAlive, int64(defaultKeepAlive/time.Second))
	}
}

func TestNewClientOptionsLWT(t *testing.T) {
	cfg := testConfig()
	opts := newClientOptions(cfg)

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "protectsync/system/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "protectsync/system/status")
	}
	if opts.WillQos != 1 {
		t.Errorf("WillQos = %d, want 1", opts.WillQos)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var will map[string]string
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("WillPayload is not valid JSON: %v", err)
	}
	if will["status"] != "offline" {
		t.Errorf("will status = %q, want %q", will["status"], "offline")
	}
	if will["reason"] != "unexpected_disconnect" {
		t.Errorf("will reason = %q, want %q", will["reason"], "unexpected_disconnect")
	}
	if will["client_id"] != "protectsync-test" {
		t.Errorf("will client_id = %q, want %q", will["client_id"], "protectsync-test")
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{
			name:       "online",
			payload:    statusPayload("protectsync", "online", ""),
			wantStatus: "online",
			wantReason: "",
		},
		{
			name:       "graceful offline",
			payload:    statusPayload("protectsync", "offline", "graceful_shutdown"),
			wantStatus: "offline",
			wantReason: "graceful_shutdown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]string
			if err := json.Unmarshal([]byte(tt.payload), &got); err != nil {
				t.Fatalf("payload is not valid JSON: %v", err)
			}
			if got["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", got["status"], tt.wantStatus)
			}
			if got["reason"] != tt.wantReason {
				t.Errorf("reason = %q, want %q", got["reason"], tt.wantReason)
			}
			if got["client_id"] != "protectsync" {
				t.Errorf("client_id = %q, want %q", got["client_id"], "protectsync")
			}
			if _, err := time.Parse(time.RFC3339, got["timestamp"]); err != nil {
				t.Errorf("timestamp %q is not RFC3339: %v", got["timestamp"], err)
			}
		})
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

func TestWrapHandlerPanicRecovered(t *testing.T) {
	client := &Client{}
	logger := &captureLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		panic("handler exploded")
	})

	// Must not propagate the panic.
	wrapped(nil, fakeMessage{topic: "protectsync/command/start_patrol", payload: []byte("{}")})

	if logger.errorCount() != 1 {
		t.Errorf("error log count = %d, want 1", logger.errorCount())
	}
}

func TestWrapHandlerPanicWithoutLogger(t *testing.T) {
	client := &Client{}

	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		panic("handler exploded")
	})

	// Recovery must not depend on a logger being set.
	wrapped(nil, fakeMessage{topic: "protectsync/command/start_patrol"})
}

func TestWrapHandlerErrorLogged(t *testing.T) {
	client := &Client{}
	logger := &captureLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		return errors.New("bad payload")
	})

	wrapped(nil, fakeMessage{topic: "protectsync/command/goto_preset", payload: []byte("not json")})

	if logger.warnCount() != 1 {
		t.Errorf("warn log count = %d, want 1", logger.warnCount())
	}
	if logger.errorCount() != 0 {
		t.Errorf("error log count = %d, want 0", logger.errorCount())
	}
}

func TestWrapHandlerPassesTopicAndPayload(t *testing.T) {
	client := &Client{}

	var gotTopic string
	var gotPayload string
	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		gotTopic = topic
		gotPayload = string(payload)
		return nil
	})

	wrapped(nil, fakeMessage{topic: "protectsync/event/motion", payload: []byte(`{"device_id":"cam-1"}`)})

	if gotTopic != "protectsync/event/motion" {
		t.Errorf("handler topic = %q, want %q", gotTopic, "protectsync/event/motion")
	}
	if !strings.Contains(gotPayload, "cam-1") {
		t.Errorf("handler payload = %q, want it to contain cam-1", gotPayload)
	}
}
