package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	cycleIDKey ctxKey = iota
	requestNameKey
)

// WithCycleID returns a context carrying the evaluation cycle ID.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// WithRequestName returns a context carrying the name of the request
// being rendered.
func WithRequestName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, requestNameKey, name)
}

// CycleID extracts the cycle ID from the context, or "" if absent.
func CycleID(ctx context.Context) string {
	v, _ := ctx.Value(cycleIDKey).(string)
	return v
}

// RequestName extracts the request name from the context, or "" if absent.
func RequestName(ctx context.Context) string {
	v, _ := ctx.Value(requestNameKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, injecting cycle and request
// correlation IDs from the context into every record. Use with
// slog.New(NewCorrelationHandler(inner)) so callers can log via
// logger.InfoContext(ctx, ...) and the IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := CycleID(ctx); v != "" {
		r.AddAttrs(slog.String("cycle_id", v))
	}
	if v := RequestName(ctx); v != "" {
		r.AddAttrs(slog.String("request", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
