package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoutePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/sessions/507f1f77bcf86cd799439011/messages", "/api/v1/sessions/{id}/messages"},
		{"/api/v1/sessions/507f1f77bcf86cd799439011", "/api/v1/sessions/{id}"},
		{"/api/v1/payments/orders/2b1f5a8e-3c4d-4e5f-8a9b-0c1d2e3f4a5b/verify", "/api/v1/payments/orders/{id}/verify"},
		{"/api/v1/sessions/", "/api/v1/sessions"},
		{"/", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeRoutePath(tt.in), tt.in)
	}
}

func TestProcessTraceAggregates(t *testing.T) {
	mc := NewMetricsCollector(100, time.Hour)
	now := time.Now()
	mc.processTrace(RequestTrace{Method: "GET", Path: "/api/v1/sessions/507f1f77bcf86cd799439011", Status: 200, StartTime: now, TotalDuration: 10 * time.Millisecond})
	mc.processTrace(RequestTrace{Method: "GET", Path: "/api/v1/sessions/507f1f77bcf86cd799439012", Status: 404, StartTime: now, TotalDuration: 30 * time.Millisecond})
	mc.processTrace(RequestTrace{Method: "POST", Path: "/api/v1/sessions", Status: 201, StartTime: now, TotalDuration: 50 * time.Millisecond})

	s := mc.GetSummary()
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(1), s.TotalErrors)
	assert.InDelta(t, 1.0/3.0, s.ErrorRate, 0.0001)
	require.Len(t, s.Routes, 2)

	assert.Equal(t, "POST", s.Routes[0].Method)
	byID := s.Routes[1]
	assert.Equal(t, "/api/v1/sessions/{id}", byID.Path)
	assert.Equal(t, int64(2), byID.Count)
	assert.Equal(t, int64(1), byID.ErrorCount)
	assert.Equal(t, 20*time.Millisecond, byID.AvgTime)
	assert.Equal(t, 10*time.Millisecond, byID.MinTime)
	assert.Equal(t, 30*time.Millisecond, byID.MaxTime)
}

func TestProcessTraceCapsTraces(t *testing.T) {
	mc := NewMetricsCollector(2, time.Hour)
	for i := 0; i < 5; i++ {
		mc.processTrace(RequestTrace{Method: "GET", Path: "/x", StartTime: time.Now()})
	}
	assert.Len(t, mc.traces, 2)
}

func TestPercentiles(t *testing.T) {
	mc := NewMetricsCollector(100, time.Hour)
	for i := 1; i <= 20; i++ {
		mc.processTrace(RequestTrace{Method: "GET", Path: "/x", StartTime: time.Now(), TotalDuration: time.Duration(i) * time.Millisecond})
	}
	s := mc.GetSummary()
	require.Len(t, s.Routes, 1)
	assert.Equal(t, 11*time.Millisecond, s.Routes[0].P50Time)
	assert.Equal(t, 20*time.Millisecond, s.Routes[0].P95Time)
}

func TestPruneDropsOldTraces(t *testing.T) {
	mc := NewMetricsCollector(100, time.Minute)
	now := time.Now()
	mc.processTrace(RequestTrace{Method: "GET", Path: "/old", StartTime: now.Add(-2 * time.Minute)})
	mc.processTrace(RequestTrace{Method: "GET", Path: "/new", StartTime: now})
	mc.prune(now)
	require.Len(t, mc.traces, 1)
	assert.Equal(t, "/new", mc.traces[0].Path)
}

func TestMetricsMiddlewareRecords(t *testing.T) {
	mc := NewMetricsCollector(100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mc.Run(ctx)

	h := MetricsMiddleware(mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/api/v1/sessions/507f1f77bcf86cd799439011/status", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Eventually(t, func() bool {
		return mc.GetSummary().TotalRequests == 1
	}, time.Second, 5*time.Millisecond)
	s := mc.GetSummary()
	assert.Equal(t, int64(1), s.TotalErrors)
	assert.Equal(t, "/api/v1/sessions/{id}/status", s.Routes[0].Path)
}

func TestResponseWriterHijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	assert.Error(t, err)
}
