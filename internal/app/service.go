package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/pscheid92/dashpulse/internal/platform/correlation"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 500

	snapshotFlightKey = "snapshot"
	// Bounds the shared snapshot read, which outlives any single caller.
	snapshotReadTimeout = 5 * time.Second
	summaryWindow       = 24 * time.Hour
)

// ActivityReader reads an identity's activity log, newest first.
type ActivityReader interface {
	Activity(ctx context.Context, identity string, limit int) ([]domain.ActivityRecord, error)
}

// Service is the producer side of the realtime pipeline and the read path for
// summary endpoints.
type Service struct {
	store     domain.CounterStore
	activity  ActivityReader
	publisher domain.UpdatePublisher
	history   domain.EventRepository
	clock     clockwork.Clock
	metrics   *metrics.EventMetrics

	statsGroup singleflight.Group
}

// NewService creates the application service.
// history may be nil when no database is configured.
func NewService(store domain.CounterStore, activity ActivityReader, publisher domain.UpdatePublisher, history domain.EventRepository, clock clockwork.Clock, m *metrics.EventMetrics) *Service {
	return &Service{
		store:     store,
		activity:  activity,
		publisher: publisher,
		history:   history,
		clock:     clock,
		metrics:   m,
	}
}

// RecordEvent ingests one event: history insert (if configured), the three
// counter mutations, then a stats_update announcement. Counter errors are
// returned; announcement errors are only logged because the mutation already
// happened.
func (s *Service) RecordEvent(ctx context.Context, event domain.Event) (domain.Event, error) {
	ctx = correlation.Ensure(ctx)
	start := s.clock.Now()
	category := string(event.Category)

	if err := event.Validate(); err != nil {
		s.metrics.Recorded.WithLabelValues("invalid", "rejected").Inc()
		return domain.Event{}, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = start.UTC()
	}

	if s.history != nil {
		stored, err := s.history.Insert(ctx, event)
		if err != nil {
			s.metrics.Recorded.WithLabelValues(category, "error").Inc()
			return domain.Event{}, err
		}
		event = stored
	}

	if err := s.mutate(ctx, event); err != nil {
		s.metrics.Recorded.WithLabelValues(category, "error").Inc()
		slog.ErrorContext(ctx, "Failed to update counters", "event_type", category, "user_id", event.Identity, "error", err)
		return domain.Event{}, err
	}

	s.announce(ctx)

	s.metrics.Recorded.WithLabelValues(category, "ok").Inc()
	s.metrics.ProcessingDuration.Observe(s.clock.Since(start).Seconds())
	slog.DebugContext(ctx, "Event recorded", "event_type", category, "user_id", event.Identity)
	return event, nil
}

func (s *Service) mutate(ctx context.Context, event domain.Event) error {
	category := string(event.Category)

	if _, err := s.store.Increment(ctx, category); err != nil {
		return err
	}
	if _, err := s.store.IncrementHourly(ctx, category, domain.HourBucket(s.clock.Now())); err != nil {
		return err
	}
	return s.store.RecordActivity(ctx, event.Identity, category)
}

// announce publishes a fresh snapshot. Failures never reach the caller.
func (s *Service) announce(ctx context.Context) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		s.metrics.PublishFailures.Inc()
		slog.WarnContext(ctx, "Skipping stats announcement, snapshot failed", "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, domain.KindStatsUpdate, snap); err != nil {
		s.metrics.PublishFailures.Inc()
		slog.WarnContext(ctx, "Failed to announce stats update", "error", err)
	}
}

// Stats returns the current snapshot. Concurrent callers share one store read;
// a caller that gives up does not fail the others waiting on it.
func (s *Service) Stats(ctx context.Context) (domain.Snapshot, error) {
	ch := s.statsGroup.DoChan(snapshotFlightKey, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotReadTimeout)
		defer cancel()
		return s.store.Snapshot(readCtx)
	})

	select {
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Snapshot{}, res.Err
		}
		return res.Val.(domain.Snapshot), nil
	}
}

// RecentEvents pages through the event history. It fails with
// domain.ErrHistoryUnavailable when no repository is configured.
func (s *Service) RecentEvents(ctx context.Context, offset, limit int) ([]domain.Event, error) {
	if s.history == nil {
		return nil, domain.ErrHistoryUnavailable
	}
	offset = max(offset, 0)
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	return s.history.List(ctx, offset, limit)
}

// Event looks up one historical event by ID.
func (s *Service) Event(ctx context.Context, id int64) (domain.Event, error) {
	if s.history == nil {
		return domain.Event{}, domain.ErrHistoryUnavailable
	}
	return s.history.Get(ctx, id)
}

// HistorySummary aggregates the event history, counting the last 24 hours separately.
func (s *Service) HistorySummary(ctx context.Context) (domain.HistorySummary, error) {
	if s.history == nil {
		return domain.HistorySummary{}, domain.ErrHistoryUnavailable
	}
	return s.history.Summary(ctx, s.clock.Now().Add(-summaryWindow))
}

// Activity returns up to limit entries of identity's activity log.
func (s *Service) Activity(ctx context.Context, identity string, limit int) ([]domain.ActivityRecord, error) {
	return s.activity.Activity(ctx, identity, limit)
}
