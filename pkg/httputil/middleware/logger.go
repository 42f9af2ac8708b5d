package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResponseRecorder is a wrapper for http.ResponseWriter to capture status codes and body size.
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	Bytes      int
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

func (rr *ResponseRecorder) WriteHeader(statusCode int) {
	rr.StatusCode = statusCode
	rr.ResponseWriter.WriteHeader(statusCode)
}

func (rr *ResponseRecorder) Write(b []byte) (int, error) {
	n, err := rr.ResponseWriter.Write(b)
	rr.Bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

// LoggerFromContext returns the request logger set by the logger middleware, or zap.L().
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := httputil.Logger(ctx); ok {
		return logger
	}
	return zap.L()
}

// LoggerOptions defines configuration for the logger middleware.
type LoggerOptions struct {
	// Logger defaults to the global zap logger at the time the middleware is built.
	Logger *zap.Logger
	Format func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field
}

func defaultLogFormat(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("req_id", reqID),
		zap.Int("status", rec.StatusCode),
		zap.String("method", r.Method),
		zap.String("host", r.Host),
		zap.String("url", r.URL.String()),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.Int("bytes", rec.Bytes),
		zap.Duration("latency", latency),
	}
}

// LoggerWithOptions logs one "response" entry per request. Handlers reach a logger carrying the
// request id through LoggerFromContext.
func LoggerWithOptions(options *LoggerOptions) func(http.Handler) http.Handler {
	opts := LoggerOptions{}
	if options != nil {
		opts = *options
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Format == nil {
		opts.Format = defaultLogFormat
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := httputil.Logger(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			reqID, ok := httputil.RequestID(r.Context())
			if !ok {
				reqID = uuid.Nil.String()
			}

			rec := NewResponseRecorder(w)
			r = r.WithContext(httputil.WithLogger(r.Context(), opts.Logger.With(zap.String("req_id", reqID))))

			next.ServeHTTP(rec, r)

			opts.Logger.Info("response", opts.Format(reqID, rec, r, time.Since(start))...)
		})
	}
}
