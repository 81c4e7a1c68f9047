// Package postgres persists the historical event log.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	versionTable = "public.schema_version"

	// Advisory lock serialising migrations across instances ("dashpu").
	migrationLockID      = 0x646173687075
	migrationLockRelease = 5 * time.Second
)

// Options tune the event history pool. Zero values keep the pgx defaults.
type Options struct {
	MaxConns int32
	// Metrics, when set, receives a trace of every query.
	Metrics *metrics.DatabaseMetrics
}

// Connect opens the event history pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, opts Options) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.Metrics != nil {
		poolCfg.ConnConfig.Tracer = NewMetricsTracer(opts.Metrics)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Event history database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"tls", poolCfg.ConnConfig.TLSConfig != nil,
		"max_conns", poolCfg.MaxConns)
	return pool, nil
}

// Migrate brings the schema up to date under an advisory lock, so that
// instances starting together apply each migration once. It returns the
// resulting schema version.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int32, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return 0, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer unlockMigrations(conn.Conn())

	return migrateConn(ctx, conn.Conn())
}

func migrateConn(ctx context.Context, conn *pgx.Conn) (int32, error) {
	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, versionTable)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(files); err != nil {
		return 0, fmt.Errorf("failed to load migrations: %w", err)
	}
	migrator.OnStart = func(sequence int32, name, direction, _ string) {
		slog.Info("Applying migration", "sequence", sequence, "name", name, "direction", direction)
	}

	if err := migrator.Migrate(ctx); err != nil {
		return 0, fmt.Errorf("failed to migrate database: %w", err)
	}

	current, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return current, nil
}

// unlockMigrations runs on a fresh context so a cancelled startup still
// frees the lock for the next instance.
func unlockMigrations(conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), migrationLockRelease)
	defer cancel()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
		slog.Error("Failed to release migration lock", "error", err)
	}
}
