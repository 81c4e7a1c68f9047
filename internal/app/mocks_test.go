package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pscheid92/dashpulse/internal/domain"
)

var errBackend = errors.New("backend down")

type mockStore struct {
	mu sync.Mutex

	totals   map[string]int64
	hourly   map[string]int64
	activity map[string][]string
	saved    map[string]time.Duration

	snapshotCalls int
	snapshotDelay time.Duration

	incrementErr error
	snapshotErr  error

	hourlyCounts   map[string]int64
	purgedHourly   int
	purgedActivity int
	hourlyCutoff   time.Time
	activityCutoff time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		totals:   make(map[string]int64),
		hourly:   make(map[string]int64),
		activity: make(map[string][]string),
		saved:    make(map[string]time.Duration),
	}
}

func (m *mockStore) Increment(_ context.Context, category string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrementErr != nil {
		return 0, m.incrementErr
	}
	m.totals[category]++
	return m.totals[category], nil
}

func (m *mockStore) IncrementHourly(_ context.Context, category, hourBucket string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hourly[category+":"+hourBucket]++
	return m.hourly[category+":"+hourBucket], nil
}

func (m *mockStore) RecordActivity(_ context.Context, identity, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity[identity] = append(m.activity[identity], category)
	return nil
}

func (m *mockStore) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	m.snapshotCalls++
	delay := m.snapshotDelay
	err := m.snapshotErr
	snap := domain.Snapshot{CountsByCategory: make(map[string]int64), ActiveIdentityCount: len(m.activity)}
	for k, v := range m.totals {
		snap.CountsByCategory[k] = v
		snap.TotalEvents += v
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.Snapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (m *mockStore) HourlyCounts(_ context.Context, _ string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hourlyCounts, nil
}

func (m *mockStore) PurgeHourlyBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hourlyCutoff = cutoff
	return m.purgedHourly, nil
}

func (m *mockStore) PurgeIdleActivity(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activityCutoff = cutoff
	return m.purgedActivity, nil
}

func (m *mockStore) SaveSnapshot(_ context.Context, key string, _ domain.Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[key] = ttl
	return nil
}

func (m *mockStore) Activity(_ context.Context, identity string, limit int) ([]domain.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.activity[identity]
	records := make([]domain.ActivityRecord, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(records) < limit; i-- {
		records = append(records, domain.ActivityRecord{Category: entries[i]})
	}
	return records, nil
}

type published struct {
	Kind    string
	Payload json.RawMessage
}

type mockPublisher struct {
	mu      sync.Mutex
	records []published
	err     error
}

func (m *mockPublisher) Publish(_ context.Context, kind string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.records = append(m.records, published{Kind: kind, Payload: data})
	return nil
}

func (m *mockPublisher) getRecords() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]published, len(m.records))
	copy(result, m.records)
	return result
}

type mockHistory struct {
	mu     sync.Mutex
	events []domain.Event
	err    error

	lastOffset, lastLimit int
	lastSince             time.Time
}

func (m *mockHistory) Insert(_ context.Context, event domain.Event) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Event{}, m.err
	}
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return event, nil
}

func (m *mockHistory) List(_ context.Context, offset, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOffset, m.lastLimit = offset, limit
	return m.events, nil
}

func (m *mockHistory) Get(_ context.Context, id int64) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return domain.Event{}, domain.ErrEventNotFound
}

func (m *mockHistory) Summary(_ context.Context, since time.Time) (domain.HistorySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSince = since
	sum := domain.HistorySummary{EventsByType: make(map[string]int64)}
	users := make(map[string]struct{})
	for _, ev := range m.events {
		sum.TotalEvents++
		sum.EventsByType[string(ev.Category)]++
		users[ev.Identity] = struct{}{}
		if !ev.Timestamp.Before(since) {
			sum.RecentEvents++
		}
	}
	sum.TotalUsers = int64(len(users))
	return sum, nil
}

type mockLeader struct {
	mu       sync.Mutex
	acquire  bool
	renewErr error
	released int
	attempts int
}

func (m *mockLeader) TryAcquire(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return m.acquire, nil
}

func (m *mockLeader) Renew(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renewErr
}

func (m *mockLeader) Release(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	return nil
}

func (m *mockLeader) getReleased() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
