package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SlowRequestThreshold is the duration past which a request is logged as slow
const SlowRequestThreshold = time.Second

// MetricsMiddleware tracks request timing on the collector
func MetricsMiddleware(mc *MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			// the relay socket lives for the whole connection
			if path == "/health" || path == "/ws" || path == "/api/v1/metrics/summary" {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			duration := time.Since(startTime)

			trace := RequestTrace{
				RequestID:     uuid.New().String(),
				Method:        r.Method,
				Path:          path,
				Status:        wrapped.statusCode,
				StartTime:     startTime,
				TotalDuration: duration,
			}
			mc.RecordTrace(trace)

			if duration > SlowRequestThreshold {
				zap.S().Warnw("slow request detected",
					"requestId", trace.RequestID,
					"method", r.Method,
					"path", path,
					"duration", duration,
					"status", wrapped.statusCode,
				)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
// It implements http.Hijacker to support WebSocket upgrades
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker to support WebSocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}
