package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	runIDKey     ctxKey = "run_id"
)

// Logger is the logging surface used by the service and HTTP layers.
type Logger interface {
	Debugf(ctx context.Context, format string, args ...any)
	Infof(ctx context.Context, format string, args ...any)
	Warnf(ctx context.Context, format string, args ...any)
	Errorf(ctx context.Context, format string, args ...any)
	Sync() error
}

// ZapLogger implements Logger on top of zap.
type ZapLogger struct {
	logger *zap.Logger
}

// New builds a JSON zap logger writing to stdout at the given level.
// Unknown levels fall back to info.
func New(level string) (*ZapLogger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &ZapLogger{logger: l}, nil
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *ZapLogger {
	return &ZapLogger{logger: zap.NewNop()}
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: l}
}

// WithRequestID returns a context whose log lines carry the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithRunID returns a context whose log lines carry the simulation run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func (l *ZapLogger) fields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 2)
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String(string(requestIDKey), id))
	}
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String(string(runIDKey), id))
	}
	return fields
}

func (l *ZapLogger) Debugf(ctx context.Context, format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), l.fields(ctx)...)
}

func (l *ZapLogger) Infof(ctx context.Context, format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...), l.fields(ctx)...)
}

func (l *ZapLogger) Warnf(ctx context.Context, format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), l.fields(ctx)...)
}

func (l *ZapLogger) Errorf(ctx context.Context, format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), l.fields(ctx)...)
}

func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
