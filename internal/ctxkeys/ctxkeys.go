// Package ctxkeys carries the request-scoped identifiers that cross
// package boundaries: the HTTP request id (set by server middleware),
// the run id (set by the engine for everything a run calls), and the
// authenticated API caller (set by the auth middleware).
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	runIDKey     contextKey = "run_id"
	callerKey    contextKey = "caller"
)

// WithRequestID stores the HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the HTTP request id, if set.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID stores the workflow run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunID returns the workflow run id, if set.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithCaller stores the authenticated API caller's subject.
func WithCaller(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, callerKey, subject)
}

// Caller returns the authenticated API caller, if set.
func Caller(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callerKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
