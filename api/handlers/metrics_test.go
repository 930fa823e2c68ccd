package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/haven-api/api"
	"github.com/linesmerrill/haven-api/api/handlers"
)

type fixedRelay struct{}

func (fixedRelay) Stats() (int, int) { return 3, 1 }

func TestMetrics_SummaryHandler(t *testing.T) {
	m := handlers.Metrics{Collector: api.NewMetricsCollector(100, 0), Relay: fixedRelay{}}

	rr := httptest.NewRecorder()
	m.SummaryHandler(rr, httptest.NewRequest("GET", "/api/v1/metrics/summary", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		TotalRequests int64         `json:"totalRequests"`
		Routes        []interface{} `json:"routes"`
		Relay         struct {
			Participants int `json:"participants"`
			Rooms        int `json:"rooms"`
		} `json:"relay"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Zero(t, body.TotalRequests)
	assert.Empty(t, body.Routes)
	assert.Equal(t, 3, body.Relay.Participants)
	assert.Equal(t, 1, body.Relay.Rooms)
}
