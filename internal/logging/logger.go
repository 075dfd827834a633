// Package logging builds the zap loggers used by the soundings tool.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder and minimum level.
type Options struct {
	Development bool
	Level       string
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level, opts.Development)
	if err != nil {
		return nil, err
	}
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(raw string, development bool) (zapcore.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if development {
			return zapcore.DebugLevel, nil
		}
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse log level %q: %w", raw, err)
	}
	return level, nil
}
