package httputil

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
	basicAuthKey
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-Id"

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id set by the RequestID middleware.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// WithLogger returns a copy of ctx carrying the request logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger, if one was attached.
func Logger(ctx context.Context) (*zap.Logger, bool) {
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	return logger, ok
}

// WithBasicAuthUser returns a copy of ctx carrying the authenticated username.
func WithBasicAuthUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, basicAuthKey, user)
}

// BasicAuthUser retrieves the authenticated username.
func BasicAuthUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(basicAuthKey).(string)
	return user, ok
}
