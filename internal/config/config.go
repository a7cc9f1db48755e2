package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Messaging  MessagingConfig
	Locations  LocationConfig
	Auth       AuthConfig
	Allocation AllocationConfig
	Batch      BatchConfig
	Backorder  BackorderConfig
	Discovery  DiscoveryConfig
	Tracing    TracingConfig
}

type ServerConfig struct {
	HTTPAddr string `env:"APP_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"APP_GRPC_ADDR" envDefault:":50051"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type DatabaseConfig struct {
	Driver       string `env:"DB_DRIVER" envDefault:"mysql"`
	DSN          string `env:"DB_DSN" envDefault:"root:root@tcp(localhost:3306)/fulfillment"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"50"`
}

// RedisConfig enables idempotency keys and the location cache when Addr is set.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"100"`
}

// MessagingConfig enables RabbitMQ events when AMQPURL is set. Events are
// published off the request path by a worker pool.
type MessagingConfig struct {
	AMQPURL     string `env:"AMQP_URL"`
	QueueSize   int    `env:"EVENT_QUEUE_SIZE" envDefault:"10000"`
	WorkerCount int    `env:"EVENT_WORKERS" envDefault:"4"`
}

// LocationConfig points at the external hub registry. Without a URL the
// locations table of the SQL store is used.
type LocationConfig struct {
	RegistryURL string        `env:"LOCATION_REGISTRY_URL"`
	CacheTTL    time.Duration `env:"LOCATION_CACHE_TTL" envDefault:"5m"`
}

type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
}

type AllocationConfig struct {
	MaxAttempts  int           `env:"ALLOCATION_MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff time.Duration `env:"ALLOCATION_RETRY_BACKOFF" envDefault:"25ms"`
}

type BatchConfig struct {
	Cap         int           `env:"BATCH_CAP" envDefault:"50"`
	Concurrency int           `env:"BATCH_CONCURRENCY" envDefault:"4"`
	Deadline    time.Duration `env:"BATCH_DEADLINE" envDefault:"30s"`
}

// BackorderConfig drives the sweeper. An empty schedule disables it.
type BackorderConfig struct {
	Schedule string `env:"BACKORDER_SCHEDULE" envDefault:"@every 5m"`
	Limit    int    `env:"BACKORDER_LIMIT" envDefault:"200"`
}

type DiscoveryConfig struct {
	ConsulAddr string `env:"CONSUL_ADDR"`
	ServiceID  string `env:"SERVICE_ID" envDefault:"fulfillment-engine-1"`
}

type TracingConfig struct {
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("DB_DSN must be provided")
	}
	if c.Database.MaxOpenConns <= 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive")
	}

	if c.Server.HTTPAddr == "" {
		return errors.New("APP_HTTP_ADDR must be provided")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET must be provided")
	}

	if c.Allocation.MaxAttempts <= 0 {
		return errors.New("ALLOCATION_MAX_ATTEMPTS must be positive")
	}
	if c.Allocation.RetryBackoff < 0 {
		return errors.New("ALLOCATION_RETRY_BACKOFF must not be negative")
	}

	if c.Batch.Cap <= 0 {
		return errors.New("BATCH_CAP must be positive")
	}
	if c.Batch.Concurrency <= 0 {
		return errors.New("BATCH_CONCURRENCY must be positive")
	}
	if c.Batch.Deadline < 0 {
		return errors.New("BATCH_DEADLINE must not be negative")
	}

	if c.Backorder.Schedule != "" && c.Backorder.Limit <= 0 {
		return errors.New("BACKORDER_LIMIT must be positive")
	}
	if c.Locations.CacheTTL <= 0 {
		return errors.New("LOCATION_CACHE_TTL must be positive")
	}

	return nil
}
