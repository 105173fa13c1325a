package logger

import "context"

type contextKey string

const (
	loggerKey    contextKey = "querydeck.logger"
	requestIDKey contextKey = "querydeck.request_id"
	profileIDKey contextKey = "querydeck.profile_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithProfileID tags the context with the connection profile being worked on.
func WithProfileID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, profileIDKey, id)
}

// ProfileIDFromContext extracts the profile ID from context.
func ProfileIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(profileIDKey).(string)
	return id
}

// L is a shorthand for FromContext that also enriches the logger
// with the request and profile IDs found in the context.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if pid := ProfileIDFromContext(ctx); pid != "" {
		l = l.With("profile_id", pid)
	}
	return l
}
