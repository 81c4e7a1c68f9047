package httpserver

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	wsadapter "github.com/pscheid92/dashpulse/internal/adapter/websocket"
	"github.com/pscheid92/dashpulse/internal/app"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/pscheid92/dashpulse/internal/gate"
	"github.com/pscheid92/dashpulse/internal/platform/config"
)

type mockApp struct {
	mu       sync.Mutex
	recorded []domain.Event

	recordErr   error
	snapshot    domain.Snapshot
	statsErr    error
	events      []domain.Event
	historyErr  error
	summary     domain.HistorySummary
	activity    []domain.ActivityRecord
	gotOffset   int
	gotLimit    int
	gotIdentity string
}

func (m *mockApp) RecordEvent(_ context.Context, event domain.Event) (domain.Event, error) {
	if err := event.Validate(); err != nil {
		return domain.Event{}, err
	}
	if m.recordErr != nil {
		return domain.Event{}, m.recordErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.recorded) + 1)
	m.recorded = append(m.recorded, event)
	return event, nil
}

func (m *mockApp) Stats(context.Context) (domain.Snapshot, error) {
	return m.snapshot, m.statsErr
}

func (m *mockApp) RecentEvents(_ context.Context, offset, limit int) ([]domain.Event, error) {
	m.gotOffset, m.gotLimit = offset, limit
	return m.events, m.historyErr
}

func (m *mockApp) Event(_ context.Context, id int64) (domain.Event, error) {
	if m.historyErr != nil {
		return domain.Event{}, m.historyErr
	}
	for _, ev := range m.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return domain.Event{}, domain.ErrEventNotFound
}

func (m *mockApp) HistorySummary(context.Context) (domain.HistorySummary, error) {
	return m.summary, m.historyErr
}

func (m *mockApp) Activity(_ context.Context, identity string, limit int) ([]domain.ActivityRecord, error) {
	m.gotIdentity, m.gotLimit = identity, limit
	return m.activity, nil
}

type stubGate struct {
	outcome gate.Outcome
	served  chan struct{}
}

func (g *stubGate) Serve(_ context.Context, sock gate.Socket) gate.Outcome {
	_ = sock.CloseWithReason(gate.CloseNormal, "bye")
	if g.served != nil {
		close(g.served)
	}
	return g.outcome
}

type fixedCounter int

func (f fixedCounter) Total() int { return int(f) }

type stubJobs struct {
	result app.JobResult
	err    error
}

func (j *stubJobs) Trigger(_ context.Context, name string) (app.JobResult, error) {
	if j.err != nil {
		return app.JobResult{}, j.err
	}
	r := j.result
	r.Name = name
	return r, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:          "development",
		Port:            "0",
		AppURL:          "http://localhost:8080",
		IngestRateLimit: 1000,
	}
}

// newTestDeps returns dependencies with permissive limits and a fresh metric set.
func newTestDeps(t *testing.T, svc *mockApp) Dependencies {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	return Dependencies{
		App:            svc,
		Gate:           &stubGate{},
		Connections:    fixedCounter(0),
		Limits:         NewConnectionLimits(100, 10, 100, 100, clock),
		Upgrader:       wsadapter.NewUpgrader(func(*http.Request) bool { return true }),
		Metrics:        metrics.NewSet(prometheus.NewRegistry()),
		MetricsHandler: nil,
		Clock:          clock,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, deps Dependencies) *Server {
	t.Helper()
	srv := NewServer(cfg, deps)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}
