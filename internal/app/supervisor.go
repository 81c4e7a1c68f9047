package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/dashpulse/internal/platform/retry"
)

// stableRun is how long a task must stay up before its backoff resets.
const stableRun = time.Minute

// Supervise keeps run alive until ctx is cancelled. Each unexpected return
// (error or not) is logged, counted on restarts and followed by a capped
// exponential backoff from policy. With policy.MaxAttempts > 0 it gives up
// after that many consecutive failures and returns the last error.
func Supervise(ctx context.Context, name string, run func(ctx context.Context) error, policy retry.Policy, restarts prometheus.Counter) error {
	clock := policy.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	failures := 0
	for {
		start := clock.Now()
		err := run(ctx)
		if ctx.Err() != nil {
			slog.Info("Supervised task stopped", "task", name)
			return nil
		}
		if err == nil {
			err = fmt.Errorf("%s exited unexpectedly", name)
		}

		if clock.Since(start) >= stableRun {
			failures = 0
		}
		failures++
		if policy.MaxAttempts > 0 && failures >= policy.MaxAttempts {
			slog.Error("Supervised task gave up", "task", name, "failures", failures, "error", err)
			return err
		}

		backoff := policy.Backoff(failures)
		slog.Error("Supervised task failed, restarting", "task", name, "attempt", failures, "backoff", backoff, "error", err)
		restarts.Inc()

		select {
		case <-ctx.Done():
			return nil
		case <-clock.After(backoff):
		}
	}
}
