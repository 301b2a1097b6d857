// Package jsonlog is a LoggerInstance writing structured JSON lines with zap,
// meant for log shippers in deployed environments.
package jsonlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// JSONLogger implements LoggerInstance on top of a zap SugaredLogger.
type JSONLogger struct {
	sugar *zap.SugaredLogger
}

// JSONLoggerParams configures NewJSONLogger.
type JSONLoggerParams struct {
	Debug   bool
	Service string
}

// NewJSONLogger builds a production zap logger. The service name, when
// set, is attached to every line.
func NewJSONLogger(params JSONLoggerParams) (*JSONLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if params.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	base, err := cfg.Build(zap.AddCallerSkip(4))
	if err != nil {
		return nil, err
	}
	if params.Service != "" {
		base = base.With(zap.String("service", params.Service))
	}

	return &JSONLogger{sugar: base.Sugar()}, nil
}

// NewFromZap wraps an existing zap logger, e.g. zap.NewNop() in tests.
func NewFromZap(l *zap.Logger) *JSONLogger {
	return &JSONLogger{sugar: l.Sugar()}
}

func (j *JSONLogger) Debug(message string, keyvals ...any) {
	j.sugar.Debugw(message, keyvals...)
}

func (j *JSONLogger) Info(message string, keyvals ...any) {
	j.sugar.Infow(message, keyvals...)
}

func (j *JSONLogger) Warn(message string, keyvals ...any) {
	j.sugar.Warnw(message, keyvals...)
}

func (j *JSONLogger) Error(message string, keyvals ...any) {
	j.sugar.Errorw(message, keyvals...)
}

func (j *JSONLogger) Fatal(message string, keyvals ...any) {
	j.sugar.Fatalw(message, keyvals...)
}

// Sync flushes buffered entries.
func (j *JSONLogger) Sync() error {
	return j.sugar.Sync()
}
