package utils

import "go.uber.org/zap"

// ServiceName is attached to every log entry.
const ServiceName = "zake"

// NewLogger returns a zap logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment(zap.Fields(zap.String("service", ServiceName)))
	}
	return zap.NewProduction(zap.Fields(zap.String("service", ServiceName)))
}
