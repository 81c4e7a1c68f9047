package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/platform/correlation"
)

type JobStatus string

const (
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
)

// JobResult is the uniform outcome of one job run.
type JobResult struct {
	Status    JobStatus      `json:"status"`
	Name      string         `json:"task_name"`
	Fields    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// JobFunc does the work of a job and reports fields worth logging.
type JobFunc func(ctx context.Context) (map[string]any, error)

// RunJob runs fn under its own correlation ID, logs the outcome, records
// metrics and converts the result into a JobResult. It never panics on
// behalf of fn and never returns an error: failures live in the result.
func RunJob(ctx context.Context, clock clockwork.Clock, m *metrics.JobMetrics, name string, fn JobFunc) (result JobResult) {
	ctx = correlation.WithID(ctx, correlation.NewID())
	start := clock.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Job panicked", "job", name, "panic", r)
			result = JobResult{Status: JobError, Name: name, Error: "panic", Timestamp: clock.Now().UTC()}
		}
		m.Runs.WithLabelValues(name, string(result.Status)).Inc()
		m.Duration.WithLabelValues(name).Observe(clock.Since(start).Seconds())
	}()

	fields, err := fn(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Job failed", "job", name, "error", err)
		return JobResult{Status: JobError, Name: name, Error: err.Error(), Timestamp: clock.Now().UTC()}
	}

	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "job", name)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	slog.InfoContext(ctx, "Job completed", attrs...)

	return JobResult{Status: JobSuccess, Name: name, Fields: fields, Timestamp: clock.Now().UTC()}
}
