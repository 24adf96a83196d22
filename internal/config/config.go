package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backend names accepted by EVENTS_BACKEND and STORAGE_BACKEND
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for robotd
type Config struct {
	// Server configuration
	HTTPPort int    `env:"ROBOTD_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"ROBOTD_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Robot runtime configuration
	Runtime RuntimeConfig

	// Worker configuration
	Workers WorkerConfig

	// Event bus and worker record storage
	Backends BackendConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// RuntimeConfig holds robot runtime configuration
type RuntimeConfig struct {
	WorkDir       string        `env:"ROBOTS_WORK_DIR" envDefault:"./robots"`
	PoolMaxIdle   int           `env:"RUNTIME_POOL_MAX_IDLE" envDefault:"4"`
	MemoryLimitMB int           `env:"RUNTIME_MEMORY_LIMIT_MB" envDefault:"64"`
	AbortTimeout  time.Duration `env:"RUNTIME_ABORT_TIMEOUT" envDefault:"5m"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"10"`
	CloseTimeout        time.Duration `env:"WORKER_CLOSE_TIMEOUT" envDefault:"30s"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// BackendConfig selects the event bus and worker store implementations
type BackendConfig struct {
	Events    string        `env:"EVENTS_BACKEND" envDefault:"memory"`
	Storage   string        `env:"STORAGE_BACKEND" envDefault:"memory"`
	RecordTTL time.Duration `env:"RECORD_TTL" envDefault:"24h"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"0s"` // 0 disables it
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate runtime config
	if c.Runtime.WorkDir == "" {
		return fmt.Errorf("robots work directory is required")
	}
	if c.Runtime.PoolMaxIdle < 0 {
		return fmt.Errorf("runtime pool max idle must not be negative")
	}
	if c.Runtime.MemoryLimitMB < 0 {
		return fmt.Errorf("runtime memory limit must not be negative")
	}
	if c.Runtime.AbortTimeout <= 0 {
		return fmt.Errorf("runtime abort timeout must be positive")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.CloseTimeout <= 0 {
		return fmt.Errorf("worker close timeout must be positive")
	}
	if c.Workers.HealthCheckInterval <= 0 {
		return fmt.Errorf("worker health check interval must be positive")
	}

	if c.Timeouts.RunTimeout < 0 {
		return fmt.Errorf("run timeout must not be negative")
	}

	// Validate backends
	for name, backend := range map[string]string{
		"events":  c.Backends.Events,
		"storage": c.Backends.Storage,
	} {
		switch backend {
		case BackendMemory:
		case BackendRedis:
			if c.Redis.Addr == "" {
				return fmt.Errorf("redis address is required for the redis %s backend", name)
			}
		default:
			return fmt.Errorf("unsupported %s backend: %s (must be memory or redis)", name, backend)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Backends.Events == BackendRedis || c.Backends.Storage == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
