package handlers

import (
	"net/http"
	"time"

	"github.com/linesmerrill/haven-api/api"
	"github.com/linesmerrill/haven-api/models"
)

// RelayStatter reports relay occupancy
type RelayStatter interface {
	Stats() (participants, rooms int)
}

// Metrics exists for dependency injection purposes
type Metrics struct {
	Collector *api.MetricsCollector
	Relay     RelayStatter
}

type routeSummary struct {
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	Count       int64     `json:"count"`
	ErrorCount  int64     `json:"errorCount"`
	AvgTime     int64     `json:"avgTime"`
	MinTime     int64     `json:"minTime"`
	MaxTime     int64     `json:"maxTime"`
	P50Time     int64     `json:"p50Time"`
	P95Time     int64     `json:"p95Time"`
	LastRequest time.Time `json:"lastRequest"`
}

type metricsSummary struct {
	TotalRequests int64             `json:"totalRequests"`
	TotalErrors   int64             `json:"totalErrors"`
	ErrorRate     float64           `json:"errorRate"`
	WindowStart   time.Time         `json:"windowStart"`
	Routes        []routeSummary    `json:"routes"`
	Relay         models.RelayStats `json:"relay"`
}

// formatRouteMetrics converts duration fields to milliseconds for JSON serialization
func formatRouteMetrics(routes []*api.RouteMetrics) []routeSummary {
	result := make([]routeSummary, len(routes))
	for i, route := range routes {
		result[i] = routeSummary{
			Method:      route.Method,
			Path:        route.Path,
			Count:       route.Count,
			ErrorCount:  route.ErrorCount,
			AvgTime:     route.AvgTime.Milliseconds(),
			MinTime:     route.MinTime.Milliseconds(),
			MaxTime:     route.MaxTime.Milliseconds(),
			P50Time:     route.P50Time.Milliseconds(),
			P95Time:     route.P95Time.Milliseconds(),
			LastRequest: route.LastRequest,
		}
	}
	return result
}

// SummaryHandler returns request metrics, slowest routes first, and the
// current relay occupancy
func (m Metrics) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	s := m.Collector.GetSummary()
	resp := metricsSummary{
		TotalRequests: s.TotalRequests,
		TotalErrors:   s.TotalErrors,
		ErrorRate:     s.ErrorRate,
		WindowStart:   s.WindowStart,
		Routes:        formatRouteMetrics(s.Routes),
	}
	if m.Relay != nil {
		resp.Relay.Participants, resp.Relay.Rooms = m.Relay.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
