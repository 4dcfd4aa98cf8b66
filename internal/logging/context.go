package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	tableIDKey ctxKey = iota
	columnKeyKey
	rowIDKey
)

// WithTableID returns a context with the table ID set.
func WithTableID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tableIDKey, id)
}

// WithColumnKey returns a context with the column key set.
func WithColumnKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, columnKeyKey, key)
}

// WithRowID returns a context with the row ID set.
func WithRowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, rowIDKey, id)
}

// TableID extracts the table ID from the context, or "" if absent.
func TableID(ctx context.Context) string {
	v, _ := ctx.Value(tableIDKey).(string)
	return v
}

// ColumnKey extracts the column key from the context, or "" if absent.
func ColumnKey(ctx context.Context) string {
	v, _ := ctx.Value(columnKeyKey).(string)
	return v
}

// RowID extracts the row ID from the context, or "" if absent.
func RowID(ctx context.Context) string {
	v, _ := ctx.Value(rowIDKey).(string)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, tableID, columnKey, rowID string) context.Context {
	ctx = WithTableID(ctx, tableID)
	ctx = WithColumnKey(ctx, columnKey)
	ctx = WithRowID(ctx, rowID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if tID := TableID(ctx); tID != "" {
		logger = logger.With(slog.String("table_id", tID))
	}
	if cKey := ColumnKey(ctx); cKey != "" {
		logger = logger.With(slog.String("column_key", cKey))
	}
	if rID := RowID(ctx); rID != "" {
		logger = logger.With(slog.String("row_id", rID))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := TableID(ctx); v != "" {
		r.AddAttrs(slog.String("table_id", v))
	}
	if v := ColumnKey(ctx); v != "" {
		r.AddAttrs(slog.String("column_key", v))
	}
	if v := RowID(ctx); v != "" {
		r.AddAttrs(slog.String("row_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
