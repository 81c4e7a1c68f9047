package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dashpulse"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Set bundles every metric group so wiring code can pass one value around.
type Set struct {
	HTTP       *HTTPMetrics
	WebSocket  *WebSocketMetrics
	Store      *StoreMetrics
	Events     *EventMetrics
	Subscriber *SubscriberMetrics
	Jobs       *JobMetrics
	Database   *DatabaseMetrics
}

// NewSet registers all metric groups on reg.
func NewSet(reg prometheus.Registerer) *Set {
	return &Set{
		HTTP:       NewHTTPMetrics(reg),
		WebSocket:  NewWebSocketMetrics(reg),
		Store:      NewStoreMetrics(reg),
		Events:     NewEventMetrics(reg),
		Subscriber: NewSubscriberMetrics(reg),
		Jobs:       NewJobMetrics(reg),
		Database:   NewDatabaseMetrics(reg),
	}
}
