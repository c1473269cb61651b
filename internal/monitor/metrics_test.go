package monitor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestMetricsHandler(t *testing.T) {

	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, reg)

	m.BusRequest("Tboiler", "READ_DATA", "ack", 20*time.Millisecond)
	m.FrameObserved("Status")
	m.EntityUpdated()
	m.Write("ok")
	m.SetPhase(true)
	m.SetUnavailable(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(strings.Contains(body, `otgw_bus_results_total{message="Tboiler",result="ack"} 1`))
	assert.True(strings.Contains(body, "otgw_scheduler_phase 1"))
	assert.True(strings.Contains(body, "otgw_unavailable_messages 2"))
}

func TestNilMetrics(t *testing.T) {

	var m *Metrics
	assert.NotPanics(t, func() {
		m.BusRequest("Tboiler", "READ_DATA", "timeout", time.Second)
		m.FrameObserved("Status")
		m.EntityUpdated()
		m.Write("error")
		m.SetPhase(false)
		m.SetUnavailable(0)
	})
}
