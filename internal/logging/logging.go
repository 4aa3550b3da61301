// Package logging builds the process logger. Logs go to stderr because
// stdout carries the MCP channel.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger flavour.
type Options struct {
	Level       string // debug, info, warn, error (default info)
	Development bool   // console encoder with caller info
	OutputPaths []string
}

var (
	once    sync.Once
	logger  *zap.Logger
	initErr error
)

// Init builds the process logger on first call and installs it as the zap
// global. Later calls return the first result and ignore opts.
func Init(opts Options) (*zap.Logger, error) {
	once.Do(func() {
		logger, initErr = Build(opts)
		if initErr == nil {
			zap.ReplaceGlobals(logger)
		}
	})
	return logger, initErr
}

// Build creates a logger without touching process state.
func Build(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

// L returns the logger from Init, or a no-op logger before Init.
func L() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
