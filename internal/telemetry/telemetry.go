package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-level instrumentation exposed at /metrics.
// These counters are operational telemetry only; dashboard KPIs are always
// recomputed from the store.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested  prometheus.Counter
	DetectionsFired *prometheus.CounterVec
	IncidentsOpened prometheus.Counter
	ResponseActions prometheus.Counter
}

// New creates and registers the instrumentation set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		EventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "idsoc_events_ingested_total",
			Help: "Raw identity events accepted into the event store.",
		}),
		DetectionsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idsoc_detections_fired_total",
			Help: "Detections fired, by rule.",
		}, []string{"rule"}),
		IncidentsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "idsoc_incidents_opened_total",
			Help: "Incidents opened by the aggregator.",
		}),
		ResponseActions: factory.NewCounter(prometheus.CounterOpts{
			Name: "idsoc_response_actions_total",
			Help: "Simulated response actions executed.",
		}),
	}
}

// Handler returns the scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
