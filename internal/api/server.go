package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dvselas/protect-sync/internal/bridge"
	"github.com/dvselas/protect-sync/internal/infrastructure/config"
	"github.com/dvselas/protect-sync/internal/infrastructure/logging"
	"github.com/dvselas/protect-sync/internal/journal"
	"github.com/dvselas/protect-sync/internal/protect"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the protect client surface the status server reads.
// Satisfied by *protect.Client; narrowed here for mocking in tests.
type Controller interface {
	// CurrentSnapshot returns an isolated copy of the live model.
	CurrentSnapshot() *protect.Snapshot

	// Stale reports whether the model may be out of date.
	Stale() bool

	// Status returns the diagnostic view of both stream subscriptions.
	Status() (devices, events protect.SubscriptionStatus)

	// Stats returns the client's counters.
	Stats() protect.Stats
}

// EventSource lists and counts journal entries.
// Satisfied by *journal.SQLiteJournal. Optional - if nil, the events
// endpoint answers 503.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	RecentForDevice(ctx context.Context, deviceID string, limit int) ([]journal.Entry, error)
	Count(ctx context.Context) (int64, error)
}

// BridgeStats exposes the MQTT bridge counters.
// Satisfied by *bridge.Bridge. Optional - if nil, the bridge metrics
// section is omitted.
type BridgeStats interface {
	Stats() bridge.Stats
}

// TelemetryStatus reports InfluxDB connectivity.
// Satisfied by *influxdb.Client. Optional.
type TelemetryStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Client  Controller
	Journal EventSource     // Optional
	Bridge  BridgeStats     // Optional
	Influx  TelemetryStatus // Optional
	Version string
}

// Server is the read-only HTTP status server.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	client    Controller
	journal   EventSource
	bridge    BridgeStats
	influx    TelemetryStatus
	version   string
	startTime time.Time
	server    *http.Server
}

// New checks the wiring and returns a server ready to Start.
//
// Logger and Client are mandatory. The remaining collaborators may be
// nil; their endpoints and metric sections degrade as documented on the
// interfaces above.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("controller client is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		client:    deps.Client,
		journal:   deps.Journal,
		bridge:    deps.Bridge,
		influx:    deps.Influx,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start launches the HTTP listener in a background goroutine and returns
// immediately. Listen errors surface in the log, not here; use Close to
// stop the server.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	s.logger.Info("status api listening", "address", s.server.Addr)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status api failed", "error", err)
		}
	}()

	return nil
}

// Close drains in-flight requests and stops the listener. Requests still
// running after gracefulShutdownTimeout are cut off. Safe to call before
// Start and safe to call twice.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("status api stopping")

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status api: %w", err)
	}
	return nil
}

// HealthCheck reports whether the listener has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
