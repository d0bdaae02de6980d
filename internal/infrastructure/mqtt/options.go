package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dvselas/protect-sync/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout bounds the initial broker handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds publish, subscribe, and unsubscribe acks.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is how long Disconnect waits, in
	// milliseconds, for in-flight messages to drain.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive applies when the config leaves keepalive unset.
	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// newClientOptions translates our MQTT config into paho options.
//
// The broker URL scheme follows the TLS flag (tcp:// or ssl://), auth
// is attached only when a username is configured, and reconnection is
// always on: the retry interval ramps from Reconnect.InitialDelay up
// to Reconnect.MaxDelay. The Last Will is registered here too, so the
// broker announces an unexpected_disconnect on the system status topic
// if the daemon dies without saying goodbye.
func newClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Persistent sessions let the broker queue QoS 1+ traffic across
	// reconnects; clean sessions start from scratch every time.
	opts.SetCleanSession(cfg.CleanSession)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)

	keepalive := defaultKeepAlive
	if cfg.Keepalive > 0 {
		keepalive = time.Duration(cfg.Keepalive) * time.Second
	}
	opts.SetKeepAlive(keepalive)

	// LWT: retained at QoS 1 so late subscribers learn about a crash.
	opts.SetWill(
		Topics{}.SystemStatus(),
		statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect"),
		1, true,
	)

	return opts
}

// statusPayload renders a system status message. An empty reason is
// omitted, which is the shape of the "online" announcement.
func statusPayload(clientID, status, reason string) string {
	msg := struct {
		Status    string `json:"status"`
		ClientID  string `json:"client_id"`
		Reason    string `json:"reason,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	b, err := json.Marshal(msg)
	if err != nil {
		// Fixed field set, cannot fail.
		return `{"status":"` + status + `"}`
	}
	return string(b)
}
