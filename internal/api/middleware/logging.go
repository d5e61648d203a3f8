// Package middleware provides HTTP middleware for the plant-care API.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"plantcare-engine/internal/logging"
)

type contextKey string

// RequestIDKey is the context key for request ID
const RequestIDKey contextKey = "request_id"

const slowRequestThreshold = time.Second

// LoggingMiddleware provides request/response logging capabilities
type LoggingMiddleware struct {
	logger logging.Logger
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger logging.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &LoggingMiddleware{logger: logger.WithComponent("http")}
}

// Handler returns the logging middleware handler
func (lm *LoggingMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			// The request ID doubles as the trace ID for engine logs
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = logging.WithTraceID(ctx, requestID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Request-ID", requestID)

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			lm.logResponse(r, wrapper.statusCode, time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (lm *LoggingMiddleware) logResponse(r *http.Request, statusCode int, duration time.Duration) {
	// Skip health checks to reduce noise
	if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
		return
	}

	fields := []interface{}{
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"duration_ms", duration.Milliseconds(),
	}
	ctx := r.Context()
	switch {
	case statusCode >= http.StatusInternalServerError:
		lm.logger.ErrorContext(ctx, "request failed", fields...)
	case statusCode >= http.StatusBadRequest:
		lm.logger.WarnContext(ctx, "request rejected", fields...)
	case duration > slowRequestThreshold:
		lm.logger.WarnContext(ctx, "slow request", fields...)
	default:
		lm.logger.InfoContext(ctx, "request served", fields...)
	}
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
