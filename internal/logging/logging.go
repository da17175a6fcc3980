// Package logging provides the structured logger shared by labcore components.
// Components accept a Logger and default to Noop, so callers opt in to output.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger captures structured log output using alternating key/value pairs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Noop returns a logger that discards everything.
func Noop() Logger { return noopLogger{} }

// OrNoop returns l, or Noop when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZap adapts a zap logger.
func NewZap(l *zap.Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return zapLogger{sugar: l.Sugar()}
}

func (z zapLogger) Debug(msg string, kv ...any) { z.sugar.Debugw(msg, kv...) }
func (z zapLogger) Info(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z zapLogger) Warn(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z zapLogger) Error(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }

// NewDevelopment builds a console logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func NewDevelopment(level string) (Logger, *zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	base, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return NewZap(base), base, nil
}
