package metrics

import "github.com/prometheus/client_golang/prometheus"

// EventMetrics holds Prometheus metrics for the ingestion pipeline.
type EventMetrics struct {
	Recorded           *prometheus.CounterVec
	PublishFailures    prometheus.Counter
	ProcessingDuration prometheus.Histogram
}

func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		Recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_recorded_total",
			Help:      "Total events recorded, by category and result.",
		}, []string{"category", "result"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_publish_failures_total",
			Help:      "Counter mutations whose update announcement failed.",
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "events_processing_duration_seconds",
			Help:      "Duration of event recording in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	reg.MustRegister(m.Recorded, m.PublishFailures, m.ProcessingDuration)
	return m
}

// SubscriberMetrics holds Prometheus metrics for the pub/sub bridge.
type SubscriberMetrics struct {
	Received     *prometheus.CounterVec
	DecodeErrors prometheus.Counter
	Panics       prometheus.Counter
	Restarts     prometheus.Counter
	State        prometheus.Gauge
}

func NewSubscriberMetrics(reg prometheus.Registerer) *SubscriberMetrics {
	m := &SubscriberMetrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "updates_received_total",
			Help:      "Total update records received from the broadcast channel, by kind.",
		}, []string{"kind"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "decode_errors_total",
			Help:      "Malformed messages skipped by the subscriber.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "forward_panics_total",
			Help:      "Panics recovered while forwarding an update.",
		}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "restarts_total",
			Help:      "Times the supervisor restarted the subscriber.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "state",
			Help:      "Subscriber state: 0 stopped, 1 subscribing, 2 listening, 3 stopping.",
		}),
	}

	reg.MustRegister(m.Received, m.DecodeErrors, m.Panics, m.Restarts, m.State)
	return m
}

// JobMetrics holds Prometheus metrics for scheduled maintenance jobs.
type JobMetrics struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	IsLeader prometheus.Gauge
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total job runs, by job and status.",
		}, []string{"job", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job runs in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		IsLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "is_leader",
			Help:      "1 if this instance holds the job leader lock.",
		}),
	}

	reg.MustRegister(m.Runs, m.Duration, m.IsLeader)
	return m
}
