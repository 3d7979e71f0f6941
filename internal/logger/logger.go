// Package logger wraps zap behind a small interface so packages can log
// without importing zap directly and tests can swap in an observer core.
package logger

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log attribute.
type Field = zap.Field

// Logger is the structured logger threaded through the request pipeline.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithRequest(requestID string) Logger
	WithFields(fields ...Field) Logger
}

// ParseLevel maps a level name (any case) to a zap level; unknown names fall
// back to info.
func ParseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// New builds a zap logger. "json" selects the production encoder; anything
// else gets the console encoder with RFC3339 timestamps.
func New(level zapcore.Level, format string) Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if format == "json" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = level > zapcore.DebugLevel

	z, err := cfg.Build()
	if err != nil {
		return NewNop()
	}
	return &zapLogger{z: z}
}

// NewFromConfig is New with a textual level.
func NewFromConfig(level, format string) Logger {
	return New(ParseLevel(level), format)
}

func NewNop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

// FromZap adopts an existing zap logger, e.g. one over zaptest/observer.
func FromZap(z *zap.Logger) Logger {
	if z == nil {
		return NewNop()
	}
	return &zapLogger{z: z}
}

type zapLogger struct {
	z *zap.Logger
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

func (l *zapLogger) WithRequest(requestID string) Logger {
	return l.WithFields(zap.String("request_id", requestID))
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &zapLogger{z: l.z.With(fields...)}
}

func String(key, value string) Field            { return zap.String(key, value) }
func Strings(key string, values []string) Field { return zap.Strings(key, values) }
func Int(key string, value int) Field           { return zap.Int(key, value) }
func Int64(key string, value int64) Field       { return zap.Int64(key, value) }
func Float64(key string, value float64) Field   { return zap.Float64(key, value) }
func Bool(key string, value bool) Field         { return zap.Bool(key, value) }
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}
func Error(err error) Field { return zap.Error(err) }

type holder struct{ Logger }

var defaultLogger atomic.Pointer[holder]

func init() {
	SetDefault(NewFromConfig("info", "text"))
}

// SetDefault replaces the process-wide logger used by the package-level helpers.
func SetDefault(l Logger) {
	defaultLogger.Store(&holder{l})
}

func GetDefault() Logger {
	return defaultLogger.Load().Logger
}

func Debug(msg string, fields ...Field) { GetDefault().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { GetDefault().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { GetDefault().Warn(msg, fields...) }

// ErrorLog logs at error level on the default logger; Error is the field helper.
func ErrorLog(msg string, fields ...Field) { GetDefault().Error(msg, fields...) }
