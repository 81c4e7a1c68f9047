package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/adapter/httpserver"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/adapter/postgres"
	"github.com/pscheid92/dashpulse/internal/adapter/redis"
	wsadapter "github.com/pscheid92/dashpulse/internal/adapter/websocket"
	"github.com/pscheid92/dashpulse/internal/app"
	"github.com/pscheid92/dashpulse/internal/auth"
	"github.com/pscheid92/dashpulse/internal/broadcast"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/pscheid92/dashpulse/internal/gate"
	"github.com/pscheid92/dashpulse/internal/platform/config"
	"github.com/pscheid92/dashpulse/internal/platform/logging"
	"github.com/pscheid92/dashpulse/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

const (
	leaderLockKey     = "jobs:leader"
	leaderLockTTL     = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
	connectTimeout    = 10 * time.Second
	subscriberBackoff = time.Second
	subscriberMaxWait = 30 * time.Second

	// Connection-rate guard for websocket upgrades, per IP.
	upgradesPerSecond = 5
	upgradeBurst      = 20
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config, m *metrics.StoreMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupDB connects and migrates the optional event history database.
// It returns a nil pool when DATABASE_URL is unset.
func setupDB(cfg *config.Config, m *metrics.DatabaseMetrics) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL not set, event history disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.Options{MaxConns: cfg.DatabaseMaxConns, Metrics: m})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	schemaVersion, err := postgres.Migrate(ctx, pool)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Event history schema ready", "version", schemaVersion)
	return pool
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	reg := metrics.NewRegistry()
	m := metrics.NewSet(reg)

	rdb := setupRedis(cfg, m.Store)
	store := redis.NewCounterStore(rdb, clock)
	defer func() { _ = store.Close() }()

	pool := setupDB(cfg, m.Database)
	if pool != nil {
		defer pool.Close()
	}

	// Pass nil explicitly to avoid a typed-nil interface when history is disabled.
	var history domain.EventRepository
	if pool != nil {
		history = postgres.NewEventRepo(pool)
	}

	publisher := redis.NewUpdatePublisher(rdb)
	appSvc := app.NewService(store, store, publisher, history, clock, m.Events)

	registry := broadcast.NewRegistry(cfg.MaxConnectionsPerIdentity, clock, m.WebSocket)
	verifier := auth.NewVerifier(cfg.JWTSecret, clock)
	dashboardGate := gate.New(verifier, registry, appSvc, clock, m.WebSocket, gate.Config{
		AuthTimeout: cfg.AuthTimeout,
		IdleTimeout: cfg.IdleTimeout,
	})

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var background sync.WaitGroup

	subscriber := redis.NewUpdateSubscriber(rdb, registry, clock, m.Subscriber)
	background.Go(func() {
		policy := retry.Policy{
			InitialBackoff: subscriberBackoff,
			MaxBackoff:     subscriberMaxWait,
			Clock:          clock,
		}
		if err := app.Supervise(bgCtx, "update_subscriber", subscriber.Run, policy, m.Subscriber.Restarts); err != nil {
			slog.Error("Update subscriber stopped", "error", err)
		}
	})

	deps := httpserver.Dependencies{
		App:            appSvc,
		Gate:           dashboardGate,
		Connections:    registry,
		Limits:         httpserver.NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, upgradesPerSecond, upgradeBurst, clock),
		Upgrader:       wsadapter.NewUpgrader(wsadapter.NewOriginPolicy(cfg.AppURL, cfg.AllowedOrigins, !cfg.IsProduction()).Check),
		Metrics:        m,
		MetricsHandler: metrics.Handler(reg),
		HealthChecks:   []httpserver.HealthCheck{{Name: "redis", Check: store.Ping}},
		Clock:          clock,
	}
	if pool != nil {
		deps.HealthChecks = append(deps.HealthChecks, httpserver.HealthCheck{Name: "postgres", Check: pool.Ping})
	}
	if !cfg.IsProduction() {
		deps.Issuer = auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL, clock)
	}

	if cfg.JobsEnabled {
		leader := redis.NewLeaderElector(rdb, leaderLockKey, instanceID(), leaderLockTTL)
		scheduler := app.NewScheduler(store, publisher, leader, clock, m.Jobs, app.SchedulerConfig{
			MinuteKey: redis.MinuteKey,
			BackupKey: redis.BackupKey,
		})
		deps.Jobs = scheduler
		background.Go(func() { scheduler.Run(bgCtx) })
	}

	srv := httpserver.NewServer(cfg, deps)

	done := runGracefulShutdown(srv, registry, func() {
		stopBackground()
		background.Wait()
	})

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

func runGracefulShutdown(srv *httpserver.Server, registry *broadcast.Registry, stopBackground func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		closed := registry.CloseAll(gate.CloseGoingAway, "Server shutting down")
		slog.Info("Closed dashboard connections", "count", closed)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopBackground()
		close(done)
	}()

	return done
}
