package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/dashpulse/internal/auth"
	"github.com/pscheid92/dashpulse/internal/broadcast"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/pscheid92/dashpulse/internal/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dashboardSecret = "dashboard-test-secret"

// startDashboard serves the full router with a real gate and registry.
func startDashboard(t *testing.T, limits *ConnectionLimits) (*broadcast.Registry, Dependencies, string) {
	t.Helper()
	clock := clockwork.NewRealClock()
	deps := newTestDeps(t, &mockApp{snapshot: domain.Snapshot{CountsByCategory: map[string]int64{"click": 2}, TotalEvents: 2}})
	deps.Clock = clock
	if limits != nil {
		deps.Limits = limits
	}

	reg := broadcast.NewRegistry(3, clock, deps.Metrics.WebSocket)
	deps.Connections = reg
	deps.Gate = gate.New(auth.NewVerifier(dashboardSecret, clock), reg, deps.App, clock, deps.Metrics.WebSocket,
		gate.Config{AuthTimeout: time.Second, IdleTimeout: 5 * time.Second})

	srv := newTestServer(t, testConfig(), deps)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { reg.CloseAll(gate.CloseGoingAway, "test over") })

	return reg, deps, "ws" + strings.TrimPrefix(ts.URL, "http") + dashboardPath
}

func dialDashboard(t *testing.T, url string) *ws.Conn {
	t.Helper()
	c, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDashboardSocket_AuthenticatesAndReceivesBroadcasts(t *testing.T) {
	reg, _, url := startDashboard(t, nil)
	c := dialDashboard(t, url)

	token, _, err := auth.NewIssuer(dashboardSecret, time.Hour, clockwork.NewRealClock()).Issue("alice")
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(map[string]string{"type": "auth", "token": token}))

	var first broadcast.Frame
	require.NoError(t, c.ReadJSON(&first))
	assert.Equal(t, broadcast.MessageRealtimeStats, first.MessageType)

	require.Eventually(t, func() bool { return reg.Count("alice") == 1 }, time.Second, 5*time.Millisecond)

	reg.Broadcast(context.Background(), json.RawMessage(`{"kind":"stats_update","payload":{"total_events":3}}`))

	var frame broadcast.Frame
	require.NoError(t, c.ReadJSON(&frame))
	assert.Equal(t, broadcast.MessageBroadcast, frame.MessageType)
	assert.JSONEq(t, `{"kind":"stats_update","payload":{"total_events":3}}`, string(frame.Content))
}

func TestDashboardSocket_InvalidTokenClosesWith1008(t *testing.T) {
	reg, deps, url := startDashboard(t, nil)
	c := dialDashboard(t, url)

	require.NoError(t, c.WriteJSON(map[string]string{"type": "auth", "token": "garbage"}))

	var reply map[string]string
	require.NoError(t, c.ReadJSON(&reply))
	assert.Equal(t, "auth_failed", reply["status"])

	_, _, err := c.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.ClosePolicyViolation, closeErr.Code)
	assert.Zero(t, reg.Total())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(deps.Metrics.WebSocket.Handshakes.WithLabelValues("invalid_credential")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDashboardSocket_LimitsRejectUpgrade(t *testing.T) {
	limits := NewConnectionLimits(1, 1, 100, 100, clockwork.NewRealClock())
	_, deps, url := startDashboard(t, limits)

	dialDashboard(t, url)

	_, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.WebSocket.Rejected.WithLabelValues(string(LimitReasonGlobal))))
}

func TestDashboardSocket_ReleasesLimitsAfterSession(t *testing.T) {
	limits := NewConnectionLimits(1, 1, 100, 100, clockwork.NewRealClock())
	_, _, url := startDashboard(t, limits)

	c := dialDashboard(t, url)
	require.NoError(t, c.WriteJSON(map[string]string{"type": "auth", "token": ""}))
	_, _, _ = c.ReadMessage()
	_, _, _ = c.ReadMessage()

	require.Eventually(t, func() bool { return limits.Global().Current() == 0 }, time.Second, 5*time.Millisecond)
	dialDashboard(t, url)
}
