package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirMode is the permission mode for the database directory.
	dirMode = 0750

	// fileMode keeps the journal readable by the daemon user only.
	fileMode = 0600

	// pingTimeout bounds the connectivity probe in Open.
	pingTimeout = 5 * time.Second

	// idleLifetime is how long the idle connection is kept open.
	idleLifetime = 30 * time.Minute
)

// Config selects the SQLite file and its pragmas. Maps to the database
// section of config.yaml.
type Config struct {
	// Path is the filesystem path of the SQLite database file. The
	// parent directory is created when missing.
	Path string

	// WALMode enables write-ahead logging so the status API can read
	// while the bridge writes.
	WALMode bool

	// BusyTimeout is how long to wait on a database lock, in seconds.
	BusyTimeout int
}

// DB wraps the sql.DB handle for the daemon's local storage and adds
// migrations, health checks and lifecycle handling.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the SQLite database described by cfg.
//
// The parent directory is created when missing, pragmas are applied
// through the DSN, the pool is capped at one connection (SQLite has a
// single writer regardless), and the connection is verified with a
// ping before the handle is returned.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(idleLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // cleanup on the error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Best effort: on the very first run the file appears with the
	// first write, and the chmod applies on the next start.
	_ = os.Chmod(cfg.Path, fileMode)

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string with the configured
// pragmas. See github.com/mattn/go-sqlite3#connection-string.
func dsn(cfg Config) string {
	busyMillis := (time.Duration(cfg.BusyTimeout) * time.Second).Milliseconds()
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, busyMillis)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close shuts the handle down. Safe to call with a nil inner handle.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	err := db.DB.Close()
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string { return db.path }

// HealthCheck verifies the connection still answers queries.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
