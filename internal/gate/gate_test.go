package gate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/broadcast"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket feeds scripted client frames; an empty inbox times out.
type fakeSocket struct {
	inbox chan []byte

	mu         sync.Mutex
	sent       [][]byte
	closeCode  int
	closeText  string
	closed     bool
	abruptDrop bool
}

func newFakeSocket(frames ...string) *fakeSocket {
	s := &fakeSocket{inbox: make(chan []byte, len(frames)+1)}
	for _, f := range frames {
		s.inbox <- []byte(f)
	}
	return s
}

func (s *fakeSocket) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case data, ok := <-s.inbox:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-time.After(timeout):
		return nil, domain.ErrReceiveTimeout
	}
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed, s.abruptDrop = true, true
	}
	return nil
}

func (s *fakeSocket) CloseWithReason(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed, s.closeCode, s.closeText = true, code, reason
	}
	return nil
}

func (s *fakeSocket) frames(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.sent))
	for _, raw := range s.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

type stubVerifier map[string]string

func (v stubVerifier) Verify(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", domain.ErrAuthInvalid
}

type stubStats struct {
	snap  domain.Snapshot
	err   error
	calls int
	mu    sync.Mutex
}

func (s *stubStats) Stats(context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.snap, s.err
}

type fixture struct {
	gate     *Gate
	registry *broadcast.Registry
	stats    *stubStats
	metrics  *metrics.WebSocketMetrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	m := metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	reg := broadcast.NewRegistry(3, clock, m)
	stats := &stubStats{snap: domain.Snapshot{TotalEvents: 3, CountsByCategory: map[string]int64{"page_view": 2, "click": 1}}}
	g := New(stubVerifier{"good-token": "alice"}, reg, stats, clock, m, Config{
		AuthTimeout: 50 * time.Millisecond,
		IdleTimeout: 50 * time.Millisecond,
	})
	return fixture{gate: g, registry: reg, stats: stats, metrics: m}
}

func TestServe_AuthTimeout(t *testing.T) {
	f := newFixture(t)
	sock := newFakeSocket()

	outcome := f.gate.Serve(context.Background(), sock)

	assert.Equal(t, OutcomeTimeout, outcome)
	assert.Equal(t, ClosePolicyViolation, sock.closeCode)
	assert.Equal(t, "Authentication timeout", sock.closeText)
	assert.Equal(t, []map[string]any{{"error": "Authentication timeout"}}, sock.frames(t))
	assert.Zero(t, f.registry.Total())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Handshakes.WithLabelValues("timeout")))
}

func TestOutcome_Err(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    error
	}{
		{OutcomeTimeout, domain.ErrAuthTimeout},
		{OutcomeMissingCredential, domain.ErrAuthMissing},
		{OutcomeInvalidCredential, domain.ErrAuthInvalid},
		{OutcomeAuthenticated, nil},
		{OutcomeClientGone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.outcome.Err())
		})
	}
}

func TestServe_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		outcome Outcome
		reason  string
		reply   map[string]any
	}{
		{"wrong type", `{"type":"hello"}`, OutcomeMissingCredential, ReasonAuthExpected, map[string]any{"error": "Authentication required"}},
		{"not json", `garbage`, OutcomeMissingCredential, ReasonAuthExpected, map[string]any{"error": "Authentication required"}},
		{"missing token", `{"type":"auth"}`, OutcomeMissingCredential, ReasonNoToken, map[string]any{"error": "Token required"}},
		{"invalid token", `{"type":"auth","token":"forged"}`, OutcomeInvalidCredential, ReasonAuthFailed, map[string]any{"status": "auth_failed", "reason": "Invalid token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sock := newFakeSocket(tt.frame)

			assert.Equal(t, tt.outcome, f.gate.Serve(context.Background(), sock))
			assert.Equal(t, ClosePolicyViolation, sock.closeCode)
			assert.Equal(t, tt.reason, sock.closeText)
			assert.Equal(t, []map[string]any{tt.reply}, sock.frames(t))
			assert.Zero(t, f.registry.Total())
		})
	}
}

func TestServe_ClientGoneBeforeAuth(t *testing.T) {
	f := newFixture(t)
	sock := newFakeSocket()
	close(sock.inbox)

	assert.Equal(t, OutcomeClientGone, f.gate.Serve(context.Background(), sock))
	assert.True(t, sock.abruptDrop)
}

func TestServe_AuthenticatedPushesStatsThenIdlesOut(t *testing.T) {
	f := newFixture(t)
	sock := newFakeSocket(`{"type":"auth","token":"good-token"}`, `{"action":"get_stats"}`, `{"action":"unknown"}`)

	done := make(chan Outcome, 1)
	go func() { done <- f.gate.Serve(context.Background(), sock) }()

	var outcome Outcome
	select {
	case outcome = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on idle timeout")
	}

	assert.Equal(t, OutcomeAuthenticated, outcome)
	assert.Equal(t, CloseNormal, sock.closeCode)
	assert.Equal(t, ReasonIdleTimeout, sock.closeText)
	assert.Zero(t, f.registry.Total(), "idle connection must be unregistered")

	frames := sock.frames(t)
	require.Len(t, frames, 2)
	for _, fr := range frames {
		assert.Equal(t, "realtime_stats", fr["message_type"])
		data := fr["data"].(map[string]any)
		assert.Equal(t, 3.0, data["total_events"])
		assert.Contains(t, fr, "timestamp")
	}
	assert.Equal(t, 2, f.stats.calls)
}

func TestServe_RegistersUnderVerifiedIdentity(t *testing.T) {
	f := newFixture(t)
	sock := newFakeSocket(`{"type":"auth","token":"good-token"}`)
	f.gate.cfg.IdleTimeout = time.Second

	done := make(chan Outcome, 1)
	go func() { done <- f.gate.Serve(context.Background(), sock) }()

	require.Eventually(t, func() bool { return f.registry.Count("alice") == 1 }, time.Second, 5*time.Millisecond)

	close(sock.inbox)
	assert.Equal(t, OutcomeAuthenticated, <-done)
	assert.Zero(t, f.registry.Count("alice"))
}

func TestServe_StatsFailureSendsErrorFrame(t *testing.T) {
	f := newFixture(t)
	f.stats.err = domain.ErrStoreUnavailable
	sock := newFakeSocket(`{"type":"auth","token":"good-token"}`)

	assert.Equal(t, OutcomeAuthenticated, f.gate.Serve(context.Background(), sock))
	assert.Equal(t, []map[string]any{{"error": "Stats unavailable"}}, sock.frames(t))
}
