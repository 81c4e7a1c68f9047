package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/app"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/pscheid92/dashpulse/internal/gate"
	"github.com/pscheid92/dashpulse/internal/platform/config"
)

type appService interface {
	RecordEvent(ctx context.Context, event domain.Event) (domain.Event, error)
	Stats(ctx context.Context) (domain.Snapshot, error)
	RecentEvents(ctx context.Context, offset, limit int) ([]domain.Event, error)
	Event(ctx context.Context, id int64) (domain.Event, error)
	HistorySummary(ctx context.Context) (domain.HistorySummary, error)
	Activity(ctx context.Context, identity string, limit int) ([]domain.ActivityRecord, error)
}

type sessionGate interface {
	Serve(ctx context.Context, sock gate.Socket) gate.Outcome
}

type connectionCounter interface {
	Total() int
}

type tokenIssuer interface {
	Issue(identity string) (string, time.Time, error)
}

type jobTrigger interface {
	Trigger(ctx context.Context, name string) (app.JobResult, error)
}

// Dependencies are the collaborators the HTTP surface dispatches to.
// Issuer and Jobs are optional; their routes are not registered when nil.
type Dependencies struct {
	App            appService
	Gate           sessionGate
	Connections    connectionCounter
	Issuer         tokenIssuer
	Jobs           jobTrigger
	Limits         *ConnectionLimits
	Upgrader       *websocket.Upgrader
	Metrics        *metrics.Set
	MetricsHandler http.Handler
	HealthChecks   []HealthCheck
	Clock          clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	deps   Dependencies

	// ctx outlives individual requests so websocket sessions end on shutdown.
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		echo:      e,
		config:    cfg,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		startTime: deps.Clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and ends running websocket sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
