// Package logging builds the process-wide zap logger. Components derive
// their own loggers from it with Named, so every line carries a "logger"
// field naming the component that wrote it.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root logger for service. Production output is JSON with
// ISO 8601 timestamps under "ts" and a "service" field on every line;
// development output is colored console text.
func New(service string, development bool) (*zap.Logger, error) {
	logger, err := newConfig(service, development).Build()
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

func newConfig(service string, development bool) zap.Config {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.NameKey = "logger"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if service != "" {
		cfg.InitialFields = map[string]any{"service": service}
	}
	return cfg
}
