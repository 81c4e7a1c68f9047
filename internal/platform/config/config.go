package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	AppURL      string `env:"APP_URL" default:"http://localhost:8080"`
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// Extra browser origins for the dashboard socket, space separated.
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS"`

	MaxConnectionsPerIdentity int `env:"MAX_CONNECTIONS_PER_IDENTITY" default:"3"`
	MaxWebSocketConnections   int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP       int `env:"MAX_CONNECTIONS_PER_IP" default:"50"`

	DatabaseMaxConns int32 `env:"DATABASE_MAX_CONNS" default:"0"` // 0 keeps the pgx default

	AuthTimeout time.Duration `env:"AUTH_TIMEOUT" default:"30s"`
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" default:"30s"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" default:"1h"`

	IngestRateLimit float64 `env:"INGEST_RATE_LIMIT" default:"50"` // requests per second per IP
	JobsEnabled     bool    `env:"JOBS_ENABLED" default:"true"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}

	if cfg.MaxConnectionsPerIdentity < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IDENTITY must be positive, got %d", cfg.MaxConnectionsPerIdentity)
	}
	if cfg.MaxWebSocketConnections < 1 {
		return fmt.Errorf("MAX_WEBSOCKET_CONNECTIONS must be positive, got %d", cfg.MaxWebSocketConnections)
	}
	if cfg.MaxConnectionsPerIP < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive, got %d", cfg.MaxConnectionsPerIP)
	}
	if cfg.AuthTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("AUTH_TIMEOUT and IDLE_TIMEOUT must be positive")
	}
	if cfg.DatabaseMaxConns < 0 {
		return fmt.Errorf("DATABASE_MAX_CONNS must not be negative, got %d", cfg.DatabaseMaxConns)
	}
	if cfg.IngestRateLimit <= 0 {
		return fmt.Errorf("INGEST_RATE_LIMIT must be positive, got %v", cfg.IngestRateLimit)
	}

	return nil
}
