// Package oteladapters provides ready-made implementations of the
// observability interfaces: a plain slog-backed logger and an
// OpenTelemetry slog-bridge logger with automatic trace correlation.
package oteladapters

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/brickwellhealth/simulator/observability"
)

// SlogLogger implements observability.Logger on top of a slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a logger backed by the given slog.Handler.
func NewSlogLogger(handler slog.Handler) *SlogLogger {
	return &SlogLogger{logger: slog.New(handler)}
}

// Debug logs a debug message.
func (l *SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs an info message.
func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a warning message.
func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message.
func (l *SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

var _ observability.Logger = (*SlogLogger)(nil)

// SlogBridgeLogger implements observability.ContextualLogger using the
// OpenTelemetry slog bridge. Log records emitted through it carry trace and
// span IDs when the context holds an active span.
type SlogBridgeLogger struct {
	logger *slog.Logger
}

// NewSlogBridgeLogger creates a contextual logger using the OpenTelemetry
// slog bridge and the global LoggerProvider.
func NewSlogBridgeLogger(name string) *SlogBridgeLogger {
	return &SlogBridgeLogger{logger: otelslog.NewLogger(name)}
}

// DebugContext logs a debug message with context.
func (l *SlogBridgeLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

// InfoContext logs an info message with context.
func (l *SlogBridgeLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

// WarnContext logs a warning message with context.
func (l *SlogBridgeLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

// ErrorContext logs an error message with context.
func (l *SlogBridgeLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

var _ observability.ContextualLogger = (*SlogBridgeLogger)(nil)
