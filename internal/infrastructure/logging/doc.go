// Package logging wraps log/slog with the protect-sync conventions.
//
// Every component of the daemon logs through the same *Logger so
// records share a format, a level policy, and the default service and
// version attributes. Handlers come from the standard library: JSON for
// production aggregation, text for a terminal.
//
// Configure through the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Typical use:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("controller client started", "host", cfg.Controller.Host)
//
// Components derive child loggers with With so their records are
// attributable:
//
//	bridgeLog := log.With("component", "bridge")
//
// Never log the controller API token or the HTTP auth token; log key
// prefixes if an identifier is needed.
package logging
