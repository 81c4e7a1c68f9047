package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/dashpulse/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck probes one backing dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeReport struct {
	Status      string            `json:"status"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Error       string            `json:"error,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.probe(startupProbeTimeout))
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.probe(readinessProbeTimeout))
	s.echo.GET("/version", s.handleVersion)
	if s.deps.MetricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.MetricsHandler))
	}
}

// Liveness never touches dependencies.
func (s *Server) handleLiveness(c echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]any{
		"status":             "ok",
		"uptime":             s.deps.Clock.Since(s.startTime).Seconds(),
		"active_connections": s.deps.Connections.Total(),
	})
}

func (s *Server) probe(timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		report := s.checkDependencies(ctx)
		status := http.StatusOK
		if report.FailedCheck != "" {
			status = http.StatusServiceUnavailable
		}
		return writeJSON(c, status, report)
	}
}

// checkDependencies runs all checks concurrently. The first configured
// check that failed is reported as failed_check.
func (s *Server) checkDependencies(ctx context.Context) probeReport {
	errs := make([]error, len(s.deps.HealthChecks))

	var g errgroup.Group
	for i, hc := range s.deps.HealthChecks {
		g.Go(func() error {
			errs[i] = hc.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report := probeReport{Status: "ready", Checks: make(map[string]string, len(errs))}
	for i, hc := range s.deps.HealthChecks {
		if errs[i] == nil {
			report.Checks[hc.Name] = "ok"
			continue
		}
		report.Checks[hc.Name] = errs[i].Error()
		if report.FailedCheck == "" {
			report.Status = "unhealthy"
			report.FailedCheck = hc.Name
			report.Error = errs[i].Error()
		}
	}
	return report
}

func (s *Server) handleVersion(c echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Get())
}

func writeJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to write %s response: %w", c.Path(), err)
	}
	return nil
}
