package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mailrelay/mailrelay/internal/observability"
)

// HTTP metric names, prefixed by the exporter namespace.
const (
	MetricRequestsTotal   = "http_requests_total"
	MetricRequestDuration = "http_request_duration_ms"
	MetricRequestSize     = "http_request_size_bytes"
	MetricResponseSize    = "http_response_size_bytes"
	MetricErrorsTotal     = "http_errors_total"

	unknownEndpoint = "/unknown"
)

// knownEndpoints bounds the endpoint label when no chi pattern is available,
// e.g. for 404s or when the middleware wraps a plain handler.
var knownEndpoints = map[string]string{
	"/":               "/",
	"/send-email":     "/send-email",
	"/version":        "/version",
	"/metrics":        "/metrics",
	"/admin/signal":   "/admin/signal",
	"/health":         "/health/*",
	"/health/live":    "/health/*",
	"/health/ready":   "/health/*",
	"/health/startup": "/health/*",
}

// statusRecorder remembers the first status written and counts body bytes.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// getEndpointPattern returns the chi route pattern, falling back to the
// fixed endpoint table so raw paths never become label values.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if endpoint, ok := knownEndpoints[r.URL.Path]; ok {
		return endpoint
	}
	return unknownEndpoint
}

func errorClass(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return ""
	}
}

// RequestMetrics emits per-request counters, latency and size gauges, then
// logs one line per request. It is a no-op when telemetry is disabled.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := observability.TelemetrySystem
		if sys == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		endpoint := getEndpointPattern(r)
		status := strconv.Itoa(rec.status)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

		_ = sys.Counter(MetricRequestsTotal, 1, labels)
		_ = sys.Histogram(MetricRequestDuration, duration, labels)
		_ = sys.Gauge(MetricRequestSize, float64(requestSize), sizeLabels)
		_ = sys.Gauge(MetricResponseSize, float64(rec.bytes), sizeLabels)

		if class := errorClass(rec.status); class != "" {
			_ = sys.Counter(MetricErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": class,
			})
		}

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.Int64("request_size", requestSize),
			zap.Int64("response_size", rec.bytes),
			zap.String("request_id", GetRequestID(r.Context())),
		}
		if rec.status >= 500 {
			logger.Warn("HTTP request failed", fields...)
			return
		}
		logger.Info("HTTP request completed", fields...)
	})
}
