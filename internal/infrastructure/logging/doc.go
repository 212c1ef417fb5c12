// Package logging provides structured logging for rtlamr2mqtt.
//
// It wraps Go's standard log/slog package so every component logs with the
// same handler, level and default fields. The level comes from the
// general.verbosity setting and is passed explicitly to each component
// through its SetLogger method; there is no package-level logger.
//
// Configuration:
//
//	general:
//	  verbosity: "info"  # none, error, warning, info, debug
//	logging:
//	  format: "text"     # text, json
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("reading published", "meter_id", id)
package logging
