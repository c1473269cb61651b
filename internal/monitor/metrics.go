package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	gatherer        prometheus.Gatherer
	busRequests     *prometheus.CounterVec
	busResults      *prometheus.CounterVec
	busDuration     prometheus.Histogram
	framesObserved  *prometheus.CounterVec
	entityUpdates   prometheus.Counter
	writes          *prometheus.CounterVec
	schedulerPhase  prometheus.Gauge
	unavailableMsgs prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		busRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otgw_bus_requests_total",
			Help: "Requests sent to the boiler by message and type.",
		}, []string{"message", "type"}),
		busResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otgw_bus_results_total",
			Help: "Outcome of requests sent to the boiler.",
		}, []string{"message", "result"}),
		busDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "otgw_bus_request_duration_seconds",
			Help:    "Histogram of bus exchange durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
		}),
		framesObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otgw_frames_observed_total",
			Help: "Frames observed passively on the bus by message.",
		}, []string{"message"}),
		entityUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otgw_entity_updates_total",
			Help: "Entity values that changed.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otgw_writes_total",
			Help: "Entity write requests by result.",
		}, []string{"result"}),
		schedulerPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "otgw_scheduler_phase",
			Help: "Scheduler phase (0 initializing, 1 steady).",
		}),
		unavailableMsgs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "otgw_unavailable_messages",
			Help: "Messages that never answered during initialization.",
		}),
	}

	registerer.MustRegister(
		m.busRequests,
		m.busResults,
		m.busDuration,
		m.framesObserved,
		m.entityUpdates,
		m.writes,
		m.schedulerPhase,
		m.unavailableMsgs,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) BusRequest(message, msgType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.busRequests.WithLabelValues(message, msgType).Inc()
	m.busResults.WithLabelValues(message, result).Inc()
	m.busDuration.Observe(duration.Seconds())
}

func (m *Metrics) FrameObserved(message string) {
	if m == nil {
		return
	}
	m.framesObserved.WithLabelValues(message).Inc()
}

func (m *Metrics) EntityUpdated() {
	if m == nil {
		return
	}
	m.entityUpdates.Inc()
}

func (m *Metrics) Write(result string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPhase(steady bool) {
	if m == nil {
		return
	}
	if steady {
		m.schedulerPhase.Set(1)
	} else {
		m.schedulerPhase.Set(0)
	}
}

func (m *Metrics) SetUnavailable(n int) {
	if m == nil {
		return
	}
	m.unavailableMsgs.Set(float64(n))
}
