package faults

import "context"

type contextKey string

const (
	documentKey  contextKey = "document"
	pageKey      contextKey = "page"
	workerKey    contextKey = "worker"
	requestIDKey contextKey = "request_id"
)

// WithDocument annotates context with the document identity.
func WithDocument(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, documentKey, id)
}

// DocumentFromContext returns the document identity if present.
func DocumentFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(documentKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPage annotates context with the zero-based page index.
func WithPage(ctx context.Context, page int) context.Context {
	return context.WithValue(ctx, pageKey, page)
}

// PageFromContext extracts the page index if present.
func PageFromContext(ctx context.Context) (int, bool) {
	v := ctx.Value(pageKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	default:
		return 0, false
	}
}

// WithWorker annotates context with the render worker slot.
func WithWorker(ctx context.Context, worker int) context.Context {
	return context.WithValue(ctx, workerKey, worker)
}

// WorkerFromContext returns the worker slot if present.
func WorkerFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(workerKey).(int)
	return v, ok
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
