package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Protect Sync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Sync       SyncConfig       `yaml:"sync"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ControllerConfig contains the Protect controller connection settings.
// This is the only configuration the core client consumes: host, token,
// and TLS policy. Everything else belongs to the daemon around it.
type ControllerConfig struct {
	// Host is the controller base URL, e.g. "https://192.168.1.1".
	Host string `yaml:"host"`

	// APIToken is the static integration API key sent as X-API-KEY.
	APIToken string `yaml:"api_token"`

	// VerifyTLS controls certificate verification. Controllers commonly
	// present self-signed certificates, so false is a valid setting.
	VerifyTLS bool `yaml:"verify_tls"`

	// RequestTimeout is the per-request timeout in seconds for REST calls.
	RequestTimeout int `yaml:"request_timeout"`
}

// SyncConfig contains tuning for the event stream supervision and merge path.
type SyncConfig struct {
	// ReconnectInitial is the first backoff interval in seconds.
	ReconnectInitial int `yaml:"reconnect_initial"`

	// ReconnectMax is the backoff ceiling in seconds.
	ReconnectMax int `yaml:"reconnect_max"`

	// EventQueueSize bounds the changeset fan-out queue.
	EventQueueSize int `yaml:"event_queue_size"`

	// DedupWindow is the duplicate-event suppression window in seconds.
	DedupWindow int `yaml:"dedup_window"`

	// DedupCacheSize is the LRU capacity for the duplicate suppressor.
	DedupCacheSize int `yaml:"dedup_cache_size"`
}

// DatabaseConfig contains SQLite journal database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long journal entries are kept. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled      bool                `yaml:"enabled"`
	Broker       MQTTBrokerConfig    `yaml:"broker"`
	Auth         MQTTAuthConfig      `yaml:"auth"`
	QoS          int                 `yaml:"qos"`
	RetainState  bool                `yaml:"retain_state"`
	Keepalive    int                 `yaml:"keepalive"`
	CleanSession bool                `yaml:"clean_session"`
	Reconnect    MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig identifies the broker endpoint.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig carries broker credentials. Leave empty for anonymous
// local brokers.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig tunes the broker reconnect backoff, in seconds.
// MaxAttempts 0 means retry forever.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig drives the optional telemetry writer.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`

	// BatchSize is points per write, FlushInterval seconds between
	// forced flushes. Zero or negative picks the library defaults.
	BatchSize     int `yaml:"batch_size"`
	FlushInterval int `yaml:"flush_interval"`
}

// APIConfig contains the local status HTTP server settings.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`

	// Host is the listen address. Defaults to loopback; the status API
	// is an operator surface, not a public one.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AuthToken, when set, requires "Authorization: Bearer <token>" on
	// every request. Empty disables authentication (loopback deployments).
	AuthToken string `yaml:"auth_token"`

	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML file at path and returns a validated Config.
//
// Values layer in order: built-in defaults, then the file, then
// PROTECTSYNC_* environment variables (PROTECTSYNC_CONTROLLER_HOST,
// PROTECTSYNC_DATABASE_PATH, ...). Later layers win.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig is the baseline every load starts from.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			VerifyTLS:      false,
			RequestTimeout: 30,
		},
		Sync: SyncConfig{
			ReconnectInitial: 1,
			ReconnectMax:     120,
			EventQueueSize:   256,
			DedupWindow:      5,
			DedupCacheSize:   1024,
		},
		Database: DatabaseConfig{
			Path:          "./data/protectsync.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "protectsync",
			},
			QoS:          1,
			RetainState:  true,
			Keepalive:    60,
			CleanSession: true,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8127,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides layers PROTECTSYNC_SECTION_KEY environment
// variables over the file values. Only settings that make sense to
// inject at deploy time (hosts, credentials) are overridable.
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("PROTECTSYNC_CONTROLLER_HOST"); v != "" {
		cfg.Controller.Host = v
	}
	if v := os.Getenv("PROTECTSYNC_CONTROLLER_API_TOKEN"); v != "" {
		cfg.Controller.APIToken = v
	}

	// Database
	if v := os.Getenv("PROTECTSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PROTECTSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PROTECTSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PROTECTSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("PROTECTSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("PROTECTSYNC_API_AUTH_TOKEN"); v != "" {
		cfg.API.AuthToken = v
	}
}

// Validate reports every problem with the configuration at once, so a
// bad deploy shows all its mistakes in one error.
func (c *Config) Validate() error {
	var errs []string

	// Controller validation - the one hard requirement
	if c.Controller.Host == "" {
		errs = append(errs, "controller.host is required")
	} else if !strings.HasPrefix(c.Controller.Host, "http://") && !strings.HasPrefix(c.Controller.Host, "https://") {
		errs = append(errs, "controller.host must start with http:// or https://")
	}
	if c.Controller.APIToken == "" {
		errs = append(errs, "controller.api_token is required (set PROTECTSYNC_CONTROLLER_API_TOKEN environment variable)")
	}
	if c.Controller.RequestTimeout <= 0 {
		errs = append(errs, "controller.request_timeout must be positive")
	}

	// Sync validation
	if c.Sync.ReconnectInitial < 1 {
		errs = append(errs, "sync.reconnect_initial must be at least 1 second")
	}
	if c.Sync.ReconnectMax < c.Sync.ReconnectInitial {
		errs = append(errs, "sync.reconnect_max must be >= sync.reconnect_initial")
	}
	if c.Sync.EventQueueSize < 1 {
		errs = append(errs, "sync.event_queue_size must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RequestTimeout returns the controller request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Controller.RequestTimeout) * time.Second
}

// ReconnectInitial returns the initial stream backoff as a Duration.
func (c *Config) ReconnectInitial() time.Duration {
	return time.Duration(c.Sync.ReconnectInitial) * time.Second
}

// ReconnectMax returns the stream backoff ceiling as a Duration.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Sync.ReconnectMax) * time.Second
}

// DedupWindow returns the duplicate-event suppression window as a Duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Sync.DedupWindow) * time.Second
}

// ReadTimeout is the HTTP server read timeout as a Duration.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout is the HTTP server write timeout as a Duration.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout is the HTTP keep-alive idle timeout as a Duration.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
