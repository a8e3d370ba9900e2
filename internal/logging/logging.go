// Package logging builds the zap loggers used across AgentFS and derives the
// per-component children the engines log through.
//
//	root, err := logging.New(logging.DefaultConfig())
//	fs := logging.Component(root, "fs")
//	fs.Debug("mkdir", zap.String("path", "/notes"))
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level, encoding and sink of a root logger.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoding with colors and stack traces on warn
	OutputPaths []string
}

// DefaultConfig logs JSON at info to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", OutputPaths: []string{"stderr"}}
}

// DevelopmentConfig logs colored console lines at debug to stderr.
func DevelopmentConfig() Config {
	return Config{Level: "debug", Development: true, OutputPaths: []string{"stderr"}}
}

// New builds a root logger. An unknown level is an error.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.Sampling = nil
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Component returns the child of l named for one subsystem ("store", "fs",
// "kv", "toolcalls").
func Component(l *zap.Logger, name string) *zap.Logger {
	return OrNop(l).Named(name)
}

// ForAgent tags every entry of l with the agent identifier. An empty id
// leaves l untouched.
func ForAgent(l *zap.Logger, id string) *zap.Logger {
	l = OrNop(l)
	if id == "" {
		return l
	}
	return l.With(zap.String("agent", id))
}
