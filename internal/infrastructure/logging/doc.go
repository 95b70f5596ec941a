// Package logging provides structured logging for the myStrom bridge.
//
// This package wraps Go's standard log/slog package so that every
// component (device client, coordinators, MQTT bridge, HTTP API) emits
// entries with the same default fields.
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
//	logger.Info("starting service", "port", 8090)
//	logger.WithDevice("192.168.1.50").Warn("poll failed", "error", err)
//
// Never log secrets such as the MQTT password or the API JWT secret.
package logging
