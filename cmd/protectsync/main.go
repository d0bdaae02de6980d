// Protect Sync - UniFi Protect to MQTT Bridge
//
// This is the main entry point for the Protect Sync daemon. Protect Sync
// maintains a live in-memory model of a UniFi Protect controller and
// republishes it for automation systems:
//   - Retained MQTT state topics per device, plus event and command ack topics
//   - SQLite journal of controller events, removals and executed commands
//   - Optional InfluxDB telemetry for device state and storage trends
//   - Read-only HTTP status API for operators
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/dvselas/protect-sync/migrations"

	"github.com/dvselas/protect-sync/internal/api"
	"github.com/dvselas/protect-sync/internal/bridge"
	"github.com/dvselas/protect-sync/internal/infrastructure/config"
	"github.com/dvselas/protect-sync/internal/infrastructure/database"
	"github.com/dvselas/protect-sync/internal/infrastructure/influxdb"
	"github.com/dvselas/protect-sync/internal/infrastructure/logging"
	"github.com/dvselas/protect-sync/internal/infrastructure/mqtt"
	"github.com/dvselas/protect-sync/internal/journal"
	"github.com/dvselas/protect-sync/internal/protect"
)

// Build metadata, injected at release time:
//
//	go build -ldflags "-X main.version=0.3.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when PROTECTSYNC_CONFIG is not set.
const defaultConfigPath = "configs/config.yaml"

// Journal pruning cadence. The retention window itself comes from config;
// a pass runs at startup and then on this interval.
const (
	pruneInterval = 6 * time.Hour
	pruneTimeout  = 30 * time.Second
	hoursPerDay   = 24
)

func main() {
	// SIGINT and SIGTERM cancel the root context; everything in run
	// watches it.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the daemon together and blocks until ctx is cancelled. main
// stays a thin wrapper so every failure maps to the same exit path.
func run(ctx context.Context) error {
	// Bootstrap logger; replaced once config is loaded.
	log := logging.Default()
	log.Info("protect-sync starting",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfgPath := getConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("config loaded", "path", cfgPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger ready", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closeOnExit(log, "database", db.Close)()
	log.Info("database open", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("schema up to date")

	// Event journal and its retention pruner.
	jrnl := journal.NewSQLiteJournal(db.DB)
	startJournalPruner(ctx, jrnl, cfg.Database.RetentionDays, log)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer closeOnExit(log, "mqtt client", mqttClient.Close)()
	} else {
		log.Info("mqtt disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = connectInflux(cfg.InfluxDB, log)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer closeOnExit(log, "influxdb client", influxClient.Close)()
	} else {
		log.Info("influxdb disabled")
	}

	// Create the controller client. The first network contact happens in
	// Start; construction only validates host and token.
	client, err := protect.New(protect.Config{
		Host:             cfg.Controller.Host,
		APIToken:         cfg.Controller.APIToken,
		VerifyTLS:        cfg.Controller.VerifyTLS,
		RequestTimeout:   cfg.RequestTimeout(),
		ReconnectInitial: cfg.ReconnectInitial(),
		ReconnectMax:     cfg.ReconnectMax(),
		DedupWindow:      cfg.DedupWindow(),
		DedupCacheSize:   cfg.Sync.DedupCacheSize,
		ChangeQueueSize:  cfg.Sync.EventQueueSize,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("creating controller client: %w", err)
	}
	defer func() {
		log.Info("closing controller client")
		client.Close()
	}()

	// Start the MQTT bridge before the client. The client's bootstrap
	// changeset names every device, and that first dispatch seeds the
	// retained state topics.
	var protectBridge *bridge.Bridge
	if mqttClient != nil {
		protectBridge, err = startBridge(ctx, cfg, client, mqttClient, jrnl, influxClient, log)
		if err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			protectBridge.Stop()
		}()
	}

	// Probe, bootstrap, stream subscriptions. A failure here (unreachable
	// controller, rejected token) is fatal.
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("starting controller client: %w", err)
	}
	log.Info("controller client started", "host", cfg.Controller.Host)

	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, client, jrnl, protectBridge, influxClient, log)
		if apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer closeOnExit(log, "status api", apiServer.Close)()
	} else {
		log.Info("status api disabled")
	}

	if err := healthCheck(ctx, db, client, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all subsystems healthy")

	log.Info("startup complete, waiting for shutdown signal")
	<-ctx.Done()

	// Deferred closes run in reverse startup order once we return.
	log.Info("shutdown signal received, closing subsystems")
	return nil
}

// getConfigPath prefers the PROTECTSYNC_CONFIG environment variable,
// falling back to the packaged default.
func getConfigPath() string {
	if path := os.Getenv("PROTECTSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// closeOnExit returns a defer-friendly func that closes a subsystem and
// logs any failure.
func closeOnExit(log *logging.Logger, name string, closeFn func() error) func() {
	return func() {
		log.Info("closing " + name)
		if err := closeFn(); err != nil {
			log.Error("close failed", "component", name, "error", err)
		}
	}
}

// connectMQTT dials the broker and wires connection-state logging.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, err
	}

	client.SetLogger(log)
	client.SetOnConnect(func() { log.Info("mqtt connected") })
	client.SetOnDisconnect(func(err error) { log.Warn("mqtt connection lost", "error", err) })

	log.Info("mqtt ready",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// connectInflux connects the telemetry writer and routes its asynchronous
// write failures into the log.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, err
	}

	client.SetOnError(func(err error) {
		log.Error("influxdb write failed", "error", err)
	})

	log.Info("influxdb ready", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// healthCheck sweeps every connected subsystem once. The optional clients
// are nil when disabled and skipped.
func healthCheck(ctx context.Context, db *database.DB, client *protect.Client, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	type check struct {
		name string
		fn   func(context.Context) error
	}

	checks := []check{
		{"database", db.HealthCheck},
		{"controller", client.HealthCheck},
	}
	if mqttClient != nil {
		checks = append(checks, check{"mqtt", mqttClient.HealthCheck})
	}
	if influxClient != nil {
		checks = append(checks, check{"influxdb", influxClient.HealthCheck})
	}

	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// startJournalPruner launches the background retention loop for the
// journal. A non-positive retention disables pruning entirely.
func startJournalPruner(ctx context.Context, jrnl *journal.SQLiteJournal, retentionDays int, log *logging.Logger) {
	if retentionDays <= 0 {
		log.Info("journal pruning disabled")
		return
	}

	olderThan := time.Duration(retentionDays) * hoursPerDay * time.Hour

	prune := func() {
		pruneCtx, cancel := context.WithTimeout(ctx, pruneTimeout)
		defer cancel()

		removed, err := jrnl.Prune(pruneCtx, olderThan)
		if err != nil {
			log.Error("journal prune failed", "error", err)
			return
		}
		if removed > 0 {
			log.Info("journal pruned", "removed", removed, "retention_days", retentionDays)
		}
	}

	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		prune()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prune()
			}
		}
	}()

	log.Info("journal pruner started", "retention_days", retentionDays)
}

// startBridge builds the MQTT bridge from config and starts it.
func startBridge(ctx context.Context, cfg *config.Config, client *protect.Client, mqttClient *mqtt.Client, jrnl *journal.SQLiteJournal, influxClient *influxdb.Client, log *logging.Logger) (*bridge.Bridge, error) {
	opts := bridge.Options{
		Client:      client,
		MQTT:        mqttClient,
		Journal:     jrnl,
		QoS:         byte(cfg.MQTT.QoS),
		RetainState: cfg.MQTT.RetainState,
		QueueSize:   cfg.Sync.EventQueueSize,
		Logger:      log,
	}

	// Assign only when non-nil: a nil *influxdb.Client stored in the
	// interface field would not compare equal to nil inside the bridge.
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	b, err := bridge.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("mqtt bridge started", "qos", cfg.MQTT.QoS, "retain_state", cfg.MQTT.RetainState)

	return b, nil
}

// startAPI builds the read-only status server and begins listening.
func startAPI(ctx context.Context, cfg *config.Config, client *protect.Client, jrnl *journal.SQLiteJournal, b *bridge.Bridge, influxClient *influxdb.Client, log *logging.Logger) (*api.Server, error) {
	deps := api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Client:  client,
		Journal: jrnl,
		Version: version,
	}

	// Same typed-nil consideration as the bridge telemetry field.
	if b != nil {
		deps.Bridge = b
	}
	if influxClient != nil {
		deps.Influx = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	log.Info("status api started", "host", cfg.API.Host, "port", cfg.API.Port)

	return server, nil
}
