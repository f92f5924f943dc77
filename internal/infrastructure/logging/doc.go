// Package logging provides structured logging for the Gray Logic Hub.
//
// It wraps log/slog so every entry carries the same default fields
// (service, version) and components can derive child loggers.
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
//	logger.Component("modules").Info("module loaded", "name", "virtual")
//
// Never log device passwords, OAuth tokens or secrets.
package logging
