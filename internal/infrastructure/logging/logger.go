package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dvselas/protect-sync/internal/infrastructure/config"
)

// serviceName is attached to every record so aggregated logs can be
// filtered per daemon.
const serviceName = "protectsync"

// Logger wraps slog.Logger for protect-sync.
//
// The zero value is not usable; construct with New or Default. All
// methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from configuration.
//
// Format selects the handler: "text" for development, anything else
// gets JSON. Output accepts "stdout" or "stderr". Every record carries
// service and version attributes.
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := newHandler(cfg, destination(cfg.Output)).
		WithAttrs([]slog.Attr{
			slog.String("service", serviceName),
			slog.String("version", version),
		})
	return &Logger{Logger: slog.New(handler)}
}

// With returns a child logger carrying additional default attributes.
//
//	syncLog := log.With("component", "sync")
//	syncLog.Info("connected") // includes component=sync
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a JSON logger at info level for early startup, before
// the configuration file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// newHandler builds the slog handler for the configured format and
// level.
func newHandler(cfg config.LoggingConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// destination maps the configured output name onto a writer. Unknown
// names fall back to stdout.
func destination(name string) io.Writer {
	if strings.ToLower(name) == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// levelNames maps configured level names onto slog levels.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLevel resolves a configured level name, falling back to info on
// anything unrecognised.
func parseLevel(level string) slog.Level {
	if l, ok := levelNames[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}
