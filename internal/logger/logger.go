// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and provides
// transition ID propagation through context.Context so every log line
// inside a transition can be correlated with its transaction.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

type ctxKey string

const transitionIDKey ctxKey = "transition_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// WithTransitionID stores a transition transaction ID in the context.
func WithTransitionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, transitionIDKey, id)
}

// TransitionID extracts the transition ID from context. Returns "" if not set.
func TransitionID(ctx context.Context) string {
	if v, ok := ctx.Value(transitionIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTransitionID creates a transaction ID from an operation kind and
// timestamp. Format: "{kind}-{unixNano}" -- lightweight, no UUID dependency.
func GenerateTransitionID(kind string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", kind, ts.UnixNano())
}

// LogWithTransition returns slog attributes including the transition ID
// from context. Usage: slog.Info("msg", logger.LogWithTransition(ctx)...)
func LogWithTransition(ctx context.Context) []any {
	id := TransitionID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("transition_id", id)}
}
