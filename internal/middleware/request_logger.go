package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestLoggerKey struct{}

// RequestLogging attaches a request-scoped logger to the context. The logger
// carries the matched route template and HTTP method, plus the trace and span
// IDs when the request is traced, so a log line from deep inside a handler
// ties back to one request and one trace.
func RequestLogging(base *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := base.With(zap.String("http_method", r.Method))
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					reqLogger = reqLogger.With(zap.String("route", tmpl))
				}
			}
			if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
				reqLogger = reqLogger.With(
					zap.String("trace_id", sc.TraceID().String()),
					zap.String("span_id", sc.SpanID().String()),
				)
			}
			ctx := context.WithValue(r.Context(), requestLoggerKey{}, reqLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext returns the request-scoped logger, or the fallback when
// the context does not carry one. A traced context without a request logger
// still gets the trace ID attached.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(requestLoggerKey{}).(*zap.Logger); ok {
		return l
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return fallback.With(zap.String("trace_id", sc.TraceID().String()))
	}
	return fallback
}

// LoggerFromRequest returns the request-scoped logger for an HTTP request.
func LoggerFromRequest(r *http.Request, fallback *zap.Logger) *zap.Logger {
	return LoggerFromContext(r.Context(), fallback)
}
