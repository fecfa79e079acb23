// Package observability defines the dependency-free logging interfaces used
// across the simulator. Components accept these interfaces via functional
// options so that any backend (slog, OpenTelemetry, test spies) can plug in.
package observability

import "context"

// Logger interface for operational logging, warnings, and error reporting.
// Arguments follow the slog convention of alternating keys and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger interface for context-aware logging with automatic trace
// correlation. Implementations may use the context for trace/span IDs.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}
