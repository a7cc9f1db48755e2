package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/adapter/discovery"
	"github.com/rl1809/fulfillment-engine/internal/adapter/handler"
	"github.com/rl1809/fulfillment-engine/internal/adapter/messaging"
	"github.com/rl1809/fulfillment-engine/internal/adapter/registry"
	"github.com/rl1809/fulfillment-engine/internal/adapter/storage"
	"github.com/rl1809/fulfillment-engine/internal/config"
	"github.com/rl1809/fulfillment-engine/internal/core/service"
	platformotel "github.com/rl1809/fulfillment-engine/internal/platform/otel"
	"github.com/rl1809/fulfillment-engine/internal/port"
	"github.com/rl1809/fulfillment-engine/internal/scheduler"
	"github.com/rl1809/fulfillment-engine/pkg/logger"
)

const serviceName = "fulfillment-engine"

func main() {
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}
	log := logger.Must(logger.New(cfg.Server.LogLevel)).With(zap.String("service", serviceName))
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := platformotel.Setup(ctx, serviceName, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatal("failed to set up tracing", zap.Error(err))
	}

	// Initialize SQL store
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	store := storage.NewSQLAdapter(db)
	log.Info("connected to store", zap.String("driver", cfg.Database.Driver))

	// Location registry: remote hub registry or the local table, cached in Redis
	var locations port.LocationRegistry = store
	if cfg.Locations.RegistryURL != "" {
		locations = registry.NewHTTPRegistry(cfg.Locations.RegistryURL, 5*time.Second)
		log.Info("using remote location registry", zap.String("url", cfg.Locations.RegistryURL))
	}

	var rdb *redis.Client
	var cache port.CacheRepository
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		log.Info("connected to redis")
		cache = storage.NewRedisAdapter(rdb)
		locations = storage.NewCachedLocationRegistry(locations, rdb, cfg.Locations.CacheTTL, logger.Named(log, "location.cache"))
	}

	// Events
	var sink port.EventPublisher = messaging.NoopPublisher{}
	var rabbit *messaging.RabbitPublisher
	if cfg.Messaging.AMQPURL != "" {
		rabbit, err = messaging.NewRabbitPublisher(cfg.Messaging.AMQPURL, logger.Named(log, "messaging"))
		if err != nil {
			log.Fatal("failed to connect rabbitmq", zap.Error(err))
		}
		sink = rabbit
	}
	events := messaging.NewAsyncPublisher(sink, cfg.Messaging.QueueSize, cfg.Messaging.WorkerCount, logger.Named(log, "events"))
	log.Info("started event workers", zap.Int("workers", cfg.Messaging.WorkerCount))

	// Services
	batch := service.BatchOptions{
		Cap:         cfg.Batch.Cap,
		Concurrency: cfg.Batch.Concurrency,
		Deadline:    cfg.Batch.Deadline,
	}
	allocation := service.NewAllocationService(store, store, locations, service.AllocationConfig{
		MaxAttempts:  cfg.Allocation.MaxAttempts,
		RetryBackoff: cfg.Allocation.RetryBackoff,
		Batch:        batch,
	}, logger.Named(log, "svc.allocation")).WithPublisher(events)
	if cache != nil {
		allocation.WithCache(cache)
	}
	dispatch := service.NewDispatchService(store, store, allocation.Scope(), batch, logger.Named(log, "svc.dispatch")).
		WithPublisher(events)

	var sched *scheduler.Scheduler
	if cfg.Backorder.Schedule != "" {
		sweeper := service.NewBackorderSweeper(store, allocation, cfg.Backorder.Limit, logger.Named(log, "svc.backorder"))
		sched = scheduler.NewScheduler(cfg.Backorder.Schedule, sweeper, logger.Named(log, "scheduler"))
		if err := sched.Start(); err != nil {
			log.Fatal("failed to start scheduler", zap.Error(err))
		}
	}

	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret)

	// Initialize gRPC server
	grpcServer, health := handler.NewGRPCServer(handler.NewGRPCHandler(allocation, dispatch), auth, logger.Named(log, "grpc"))
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(allocation, dispatch, logger.Named(log, "http"))
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler.NewRouter(httpHandler, auth, logger.Named(log, "http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	var consul *discovery.ConsulClient
	registration := discovery.ServiceConfig{
		Name:     serviceName,
		ID:       cfg.Discovery.ServiceID,
		HTTPAddr: cfg.Server.HTTPAddr,
		GRPCAddr: cfg.Server.GRPCAddr,
	}
	if cfg.Discovery.ConsulAddr != "" {
		consul, err = discovery.NewConsulClient(cfg.Discovery.ConsulAddr, logger.Named(log, "discovery"))
		if err != nil {
			log.Error("consul unavailable, continuing unregistered", zap.Error(err))
		} else if err := consul.Register(registration); err != nil {
			log.Error("service registration failed", zap.Error(err))
			consul = nil
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	if consul != nil {
		if err := consul.Deregister(registration); err != nil {
			log.Warn("deregister failed", zap.Error(err))
		}
	}
	health.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	if sched != nil {
		sched.Stop(shutdownCtx)
	}

	// Drain queued events before closing the broker connection
	events.Close()
	log.Info("event workers stopped")
	if rabbit != nil {
		rabbit.Close()
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}

	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	log.Info("connections closed")
}
