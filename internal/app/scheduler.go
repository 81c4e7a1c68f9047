package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/domain"
)

// Job names.
const (
	JobRealtimeMetrics   = "realtime_metrics"
	JobHourlyAggregation = "hourly_aggregation"
	JobCleanupHourly     = "cleanup_hourly"
	JobCleanupActivity   = "cleanup_activity"
	JobBackupStats       = "backup_stats"
)

const (
	minuteLayout       = "2006-01-02-15-04"
	minuteSnapshotTTL  = 2 * time.Hour
	backupTTL          = 7 * 24 * time.Hour
	activityRetention  = 7 * 24 * time.Hour
	releaseTimeout     = 5 * time.Second
	defaultLeaseRenew  = 15 * time.Second
	defaultMetricsTick = time.Minute
	defaultHourlyTick  = time.Hour
	defaultCleanupTick = 24 * time.Hour
)

// ErrUnknownJob is returned by Trigger for a name no job answers to.
var ErrUnknownJob = errors.New("unknown job")

// JobStore is the counter store surface the jobs need.
type JobStore interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	domain.RetentionStore
}

// Leader is a renewable lease shared by all instances.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// SchedulerConfig sets the job cadence and the backend key names.
type SchedulerConfig struct {
	LeaseRenewInterval time.Duration
	MetricsInterval    time.Duration
	HourlyInterval     time.Duration
	CleanupInterval    time.Duration

	MinuteKey func(minute string) string
	BackupKey func(hourBucket string) string
}

// HourlyAggregation is the payload of a hourly_aggregation update.
type HourlyAggregation struct {
	Hour             string           `json:"hour"`
	TotalEvents      int64            `json:"total_events"`
	CountsByCategory map[string]int64 `json:"events_by_type"`
}

// Scheduler runs maintenance jobs on the instance holding the leader lease.
type Scheduler struct {
	store     JobStore
	publisher domain.UpdatePublisher
	leader    Leader
	clock     clockwork.Clock
	metrics   *metrics.JobMetrics
	cfg       SchedulerConfig

	mu       sync.Mutex
	isLeader bool
}

func NewScheduler(store JobStore, publisher domain.UpdatePublisher, leader Leader, clock clockwork.Clock, m *metrics.JobMetrics, cfg SchedulerConfig) *Scheduler {
	if cfg.LeaseRenewInterval <= 0 {
		cfg.LeaseRenewInterval = defaultLeaseRenew
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = defaultMetricsTick
	}
	if cfg.HourlyInterval <= 0 {
		cfg.HourlyInterval = defaultHourlyTick
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupTick
	}
	return &Scheduler{
		store:     store,
		publisher: publisher,
		leader:    leader,
		clock:     clock,
		metrics:   m,
		cfg:       cfg,
	}
}

// IsLeader reports whether this instance currently runs the jobs.
func (s *Scheduler) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLeader
}

func (s *Scheduler) setLeader(leader bool) {
	s.mu.Lock()
	changed := s.isLeader != leader
	s.isLeader = leader
	s.mu.Unlock()

	if leader {
		s.metrics.IsLeader.Set(1)
	} else {
		s.metrics.IsLeader.Set(0)
	}
	if changed {
		slog.Info("Job leadership changed", "leader", leader)
	}
}

// Run blocks until ctx is cancelled, then gives up the lease.
func (s *Scheduler) Run(ctx context.Context) {
	lease := s.clock.NewTicker(s.cfg.LeaseRenewInterval)
	minute := s.clock.NewTicker(s.cfg.MetricsInterval)
	hourly := s.clock.NewTicker(s.cfg.HourlyInterval)
	cleanup := s.clock.NewTicker(s.cfg.CleanupInterval)
	defer lease.Stop()
	defer minute.Stop()
	defer hourly.Stop()
	defer cleanup.Stop()

	s.maintainLease(ctx)

	for {
		select {
		case <-ctx.Done():
			s.release()
			return
		case <-lease.Chan():
			s.maintainLease(ctx)
		case <-minute.Chan():
			s.runIfLeader(ctx, JobRealtimeMetrics)
		case <-hourly.Chan():
			s.runIfLeader(ctx, JobHourlyAggregation, JobBackupStats)
		case <-cleanup.Chan():
			s.runIfLeader(ctx, JobCleanupHourly, JobCleanupActivity)
		}
	}
}

func (s *Scheduler) maintainLease(ctx context.Context) {
	if s.IsLeader() {
		err := s.leader.Renew(ctx)
		if err == nil {
			return
		}
		slog.Warn("Lost job leadership", "error", err)
		s.setLeader(false)
	}

	acquired, err := s.leader.TryAcquire(ctx)
	if err != nil {
		slog.Warn("Failed to acquire job leadership", "error", err)
		return
	}
	s.setLeader(acquired)
}

func (s *Scheduler) release() {
	if !s.IsLeader() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.leader.Release(ctx); err != nil {
		slog.Warn("Failed to release job leadership", "error", err)
	}
	s.setLeader(false)
}

func (s *Scheduler) runIfLeader(ctx context.Context, names ...string) {
	if !s.IsLeader() {
		return
	}
	for _, name := range names {
		if _, err := s.Trigger(ctx, name); err != nil {
			slog.Error("Scheduled job not runnable", "job", name, "error", err)
		}
	}
}

// Trigger runs one job immediately, regardless of leadership.
func (s *Scheduler) Trigger(ctx context.Context, name string) (JobResult, error) {
	fn, ok := s.job(name)
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return RunJob(ctx, s.clock, s.metrics, name, fn), nil
}

func (s *Scheduler) job(name string) (JobFunc, bool) {
	switch name {
	case JobRealtimeMetrics:
		return s.realtimeMetrics, true
	case JobHourlyAggregation:
		return s.hourlyAggregation, true
	case JobCleanupHourly:
		return s.cleanupHourly, true
	case JobCleanupActivity:
		return s.cleanupActivity, true
	case JobBackupStats:
		return s.backupStats, true
	default:
		return nil, false
	}
}

func (s *Scheduler) realtimeMetrics(ctx context.Context) (map[string]any, error) {
	now := s.clock.Now().UTC()
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	key := s.cfg.MinuteKey(now.Format(minuteLayout))
	if err := s.store.SaveSnapshot(ctx, key, snap, minuteSnapshotTTL); err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, domain.KindStatsUpdate, snap); err != nil {
		return nil, err
	}

	return map[string]any{
		"total_events": snap.TotalEvents,
		"active_users": snap.ActiveIdentityCount,
	}, nil
}

// hourlyAggregation summarises the hour that just ended.
func (s *Scheduler) hourlyAggregation(ctx context.Context) (map[string]any, error) {
	hour := domain.HourBucket(s.clock.Now().Add(-time.Hour))
	counts, err := s.store.HourlyCounts(ctx, hour)
	if err != nil {
		return nil, err
	}

	agg := HourlyAggregation{Hour: hour, CountsByCategory: counts}
	for _, n := range counts {
		agg.TotalEvents += n
	}
	if err := s.publisher.Publish(ctx, domain.KindHourlyAggregation, agg); err != nil {
		return nil, err
	}

	return map[string]any{"hour": hour, "total_events": agg.TotalEvents}, nil
}

func (s *Scheduler) cleanupHourly(ctx context.Context) (map[string]any, error) {
	deleted, err := s.store.PurgeHourlyBefore(ctx, s.clock.Now().Add(-domain.HourlyRetention))
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted_count": deleted}, nil
}

func (s *Scheduler) cleanupActivity(ctx context.Context) (map[string]any, error) {
	deleted, err := s.store.PurgeIdleActivity(ctx, s.clock.Now().Add(-activityRetention))
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted_count": deleted}, nil
}

func (s *Scheduler) backupStats(ctx context.Context) (map[string]any, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	key := s.cfg.BackupKey(domain.HourBucket(s.clock.Now()))
	if err := s.store.SaveSnapshot(ctx, key, snap, backupTTL); err != nil {
		return nil, err
	}
	return map[string]any{"backup_key": key, "total_events": snap.TotalEvents}, nil
}
