// Package logging provides structured logging for RoomLink Core.
//
// This package wraps Go's standard log/slog package so every component
// logs the same way.
//
// # Features
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Redaction of attributes keyed password, secret, token or authorization
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device connected", "session", id, "device", creds)
//
// Device credentials implement slog.LogValuer and log without the password.
package logging
