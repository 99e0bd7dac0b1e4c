// Package logging wraps zap the way the teacher wrapped slog: a small
// Logger that enriches every line with request/tenant/user ids pulled
// from context, so call sites never juggle fields by hand.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/google/uuid"
	"github.com/tableup/scheduler/internal/contextkey"
)

// Logger is a structured, context-aware logger.
type Logger struct {
	base *zap.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error").
func New(level string) *Logger {
	var zlvl zapcore.Level
	if err := zlvl.UnmarshalText([]byte(level)); err != nil {
		zlvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zlvl)
	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}
	return &Logger{base: base}
}

// WithContext returns a logger enriched with request/tenant/user ids
// found on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	fields := make([]zap.Field, 0, 3)
	if reqID, ok := ctx.Value(contextkey.KeyRequestID).(uuid.UUID); ok {
		fields = append(fields, zap.String("request_id", reqID.String()))
	}
	if userID, ok := ctx.Value(contextkey.KeyUserID).(uuid.UUID); ok {
		fields = append(fields, zap.String("user_id", userID.String()))
	}
	if tenants, ok := ctx.Value(contextkey.KeyTenantIDs).([]int64); ok && len(tenants) > 0 {
		fields = append(fields, zap.Int64s("bound_tenants", tenants))
	}
	if len(fields) == 0 {
		return l.base
	}
	return l.base.With(fields...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Info(msg, fields...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Warn(msg, fields...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Error(msg, fields...)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Debug(msg, fields...)
}

// Fatal logs then exits; reserved for unrecoverable startup errors.
func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Fatal(msg, fields...)
}

// Sync flushes buffered log entries; call on shutdown.
func (l *Logger) Sync() error {
	return l.base.Sync()
}
