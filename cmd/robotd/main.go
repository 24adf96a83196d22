package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/robotd/internal/application/orchestrator"
	"github.com/aescanero/robotd/internal/application/workers"
	"github.com/aescanero/robotd/internal/config"
	"github.com/aescanero/robotd/internal/ports"
	memoryevents "github.com/aescanero/robotd/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/robotd/pkg/adapters/events/redis"
	"github.com/aescanero/robotd/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/robotd/pkg/adapters/runtime/quickjs"
	"github.com/aescanero/robotd/pkg/adapters/runtimepool"
	memorystorage "github.com/aescanero/robotd/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/robotd/pkg/adapters/storage/redis"
	"github.com/aescanero/robotd/pkg/api/grpc"
	"github.com/aescanero/robotd/pkg/api/http"
	"github.com/aescanero/robotd/pkg/api/websocket"

	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// eventStreamMaxLen caps each Redis event stream
const eventStreamMaxLen = 10000

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting robotd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("robots_dir", cfg.Runtime.WorkDir))

	ctx := context.Background()

	// Redis is only needed when a backend asks for it
	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	eventBus, err := newEventBus(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to create event bus", zap.Error(err))
	}
	store := newWorkerStore(cfg, redisClient, logger)

	metricsCollector := prometheus.NewCollector(promclient.DefaultRegisterer)

	// Runtimes
	runtimes, err := runtimepool.New(ctx,
		quickjs.NewFactory(quickjs.Config{
			MemoryLimitMB: cfg.Runtime.MemoryLimitMB,
			AbortTimeout:  cfg.Runtime.AbortTimeout,
		}, logger),
		runtimepool.Config{
			MaxTotal: cfg.Workers.PoolSize,
			MaxIdle:  cfg.Runtime.PoolMaxIdle,
		},
		logger)
	if err != nil {
		logger.Fatal("failed to create runtime pool", zap.Error(err))
	}

	// Initialize application components
	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Runtime.WorkDir,
		runtimes,
		metricsCollector,
		logger,
		cfg.Workers.CloseTimeout,
	)

	manager := orchestrator.NewManager(
		workerPool,
		orchestrator.NewValidator(),
		eventBus,
		store,
		logger,
		cfg.Timeouts.RunTimeout,
	)

	// Initialize API servers
	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	health := workers.NewHealthMonitor(workerPool, cfg.Workers.HealthCheckInterval, logger)
	health.OnCheck(func(status *workers.HealthStatus) {
		grpcServer.UpdateHealth(status)
		stats := runtimes.Stats()
		metricsCollector.RecordRuntimePool(stats.Active, stats.Idle)
	})
	httpServer := http.NewServer(&http.Config{
		Port:    cfg.HTTPPort,
		Manager: manager,
		Health:  health,
		Version: Version,
		Logger:  logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, logger))

	health.Start()

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("robotd started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.String("events_backend", cfg.Backends.Events),
		zap.String("storage_backend", cfg.Backends.Storage))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	health.Stop()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("manager shutdown error", zap.Error(err))
	}

	runtimes.Close(shutdownCtx)

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("robotd shut down complete")
}

func newEventBus(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.EventBus, error) {
	if cfg.Backends.Events != config.BackendRedis {
		return memoryevents.NewInMemoryEventBus(), nil
	}
	host, _ := os.Hostname()
	bus, err := redisevents.NewStreamsEventBus(
		client,
		"robotd",
		fmt.Sprintf("%s-%d", host, os.Getpid()),
		eventStreamMaxLen,
		logger,
	)
	if err != nil {
		return nil, err
	}
	return bus, nil
}

func newWorkerStore(cfg *config.Config, client *goredis.Client, logger *zap.Logger) ports.WorkerStore {
	if cfg.Backends.Storage != config.BackendRedis {
		return memorystorage.NewInMemoryWorkerStore()
	}
	return redisstorage.NewWorkerStore(client, cfg.Backends.RecordTTL, logger)
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
