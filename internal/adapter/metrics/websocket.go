package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for dashboard connections.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	Handshakes        *prometheus.CounterVec
	Evictions         prometheus.Counter
	Rejected          *prometheus.CounterVec
	FramesDelivered   prometheus.Counter
	ConnectionsPruned prometheus.Counter
	FanoutDuration    prometheus.Histogram
}

func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered dashboard connections.",
		}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "handshakes_total",
			Help:      "Total authentication handshakes, by outcome.",
		}, []string{"outcome"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "evictions_total",
			Help:      "Connections closed because their identity exceeded its connection cap.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_total",
			Help:      "Upgrade requests rejected before the handshake, by limit.",
		}, []string{"limit"}),
		FramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "frames_delivered_total",
			Help:      "Total broadcast frames delivered to connections.",
		}),
		ConnectionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_pruned_total",
			Help:      "Connections removed after a failed broadcast send.",
		}),
		FanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of one broadcast sweep in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.Handshakes, m.Evictions, m.Rejected,
		m.FramesDelivered, m.ConnectionsPruned, m.FanoutDuration)
	return m
}
