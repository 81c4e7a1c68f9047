package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	wsadapter "github.com/pscheid92/dashpulse/internal/adapter/websocket"
	"github.com/pscheid92/dashpulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/dashpulse/internal/platform/errors"
)

const dashboardPath = "/ws/dashboard"

func (s *Server) registerDashboardRoutes() {
	s.echo.GET(dashboardPath, s.handleDashboardSocket)
	s.echo.GET(dashboardPath+"/info", s.handleDashboardInfo)
}

// handleDashboardSocket guards the upgrade with the connection limits, then
// hands the socket to the gate for the rest of its life.
func (s *Server) handleDashboardSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.deps.Limits.Acquire(ip); !ok {
		s.deps.Metrics.WebSocket.Rejected.WithLabelValues(string(reason)).Inc()
		slog.InfoContext(c.Request().Context(), "Dashboard upgrade rejected", "ip", ip, "reason", reason)
		if reason == LimitReasonGlobal {
			return apperrors.UnavailableError("too many dashboard connections", nil)
		}
		return apperrors.RateLimitedError("too many dashboard connections").WithContext("reason", string(reason))
	}
	defer s.deps.Limits.Release(ip)

	ws, err := s.deps.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered the request.
		slog.DebugContext(c.Request().Context(), "Dashboard upgrade failed", "ip", ip, "error", err)
		return nil
	}

	conn := wsadapter.NewConn(ws)
	defer func() { _ = conn.Close() }()

	// Sessions outlive the request context once hijacked; they end on server shutdown.
	ctx := s.ctx
	if id, ok := correlation.ID(c.Request().Context()); ok {
		ctx = correlation.WithID(ctx, id)
	}

	outcome := s.deps.Gate.Serve(ctx, conn)
	slog.DebugContext(ctx, "Dashboard session ended", "ip", ip, "outcome", outcome.String())
	return nil
}

func (s *Server) handleDashboardInfo(c echo.Context) error {
	response := map[string]any{
		"message":            `Connect, then send {"type": "auth", "token": "..."} within the auth timeout`,
		"websocket_url":      websocketURL(c) + dashboardPath,
		"active_connections": s.deps.Connections.Total(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func websocketURL(c echo.Context) string {
	scheme := "ws"
	if c.Scheme() == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request().Host)
}
