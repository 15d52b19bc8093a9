package logger

import "context"

type ctxKey int

// requestIDCtxKey carries the per-request correlation ID through the call
// chain so handlers and repositories log under the same ID.
const requestIDCtxKey ctxKey = iota

// WithRequestID stores a request correlation ID on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey, id)
}

// RequestID returns the correlation ID stored on the context, or "" when
// the request carries none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}
