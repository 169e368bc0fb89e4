package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/inventory-service/internal/adapter/broker"
	"github.com/rl1809/inventory-service/internal/adapter/handler"
	"github.com/rl1809/inventory-service/internal/adapter/storage"
	"github.com/rl1809/inventory-service/internal/adapter/upcast"
	"github.com/rl1809/inventory-service/internal/config"
	"github.com/rl1809/inventory-service/internal/core/service"
	"github.com/rl1809/inventory-service/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize relational store
	dialect := storage.Dialect(cfg.Database.Driver)
	db, err := storage.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("failed to open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	appLogger.Info("database ready", zap.String("driver", cfg.Database.Driver))

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Fatal("failed to connect redis", zap.Error(err))
	}
	appLogger.Info("connected to redis")

	// Initialize broker
	topology := broker.Topology{
		EventsExchange:     cfg.Broker.EventsExchange,
		WorkExchange:       cfg.Broker.WorkExchange,
		WorkRoutingKey:     cfg.Broker.WorkRoutingKey,
		WorkQueue:          cfg.Broker.WorkQueue,
		DeadLetterExchange: cfg.Broker.DeadLetterExchange,
		DeadLetterQueue:    cfg.Broker.DeadLetterQueue,
	}

	publisherSession := broker.NewSession(broker.SessionConfig{
		URL:      cfg.Broker.URL,
		Attempts: cfg.Broker.ConnectAttempts,
		Delay:    cfg.Broker.ConnectDelay,
		Setup:    topology.DeclareEvents,
	}, broker.Dial, appLogger.Named("publisher"))

	consumerSession := broker.NewSession(broker.SessionConfig{
		URL:      cfg.Broker.URL,
		Attempts: cfg.Broker.ConnectAttempts,
		Delay:    cfg.Broker.ConnectDelay,
		Setup: func(ch broker.Channel) error {
			if err := topology.Declare(ch); err != nil {
				return err
			}
			return ch.Qos(1, 0, false)
		},
	}, broker.Dial, appLogger.Named("consumer"))

	if err := publisherSession.Connect(ctx); err != nil {
		appLogger.Fatal("broker unavailable at startup", zap.Error(err))
	}
	if err := consumerSession.Connect(ctx); err != nil {
		appLogger.Fatal("broker unavailable at startup", zap.Error(err))
	}

	// Initialize service
	inventoryService := service.NewInventoryService(
		storage.NewSQLAdapter(db, dialect, appLogger),
		broker.NewPublisher(publisherSession, cfg.Broker.EventsExchange, appLogger),
		service.NewLogRestockNotifier(appLogger),
		appLogger,
		service.Options{
			RestockThreshold: cfg.Inventory.RestockThreshold,
			ConflictRetries:  cfg.Inventory.ConflictRetries,
		},
	)

	// Start work queue consumer
	messageHandler := handler.NewMessageHandler(upcast.New(), inventoryService, storage.NewRedisAdapter(rdb), appLogger)
	consumer := broker.NewRetryConsumer(consumerSession, cfg.Broker.WorkQueue, "inventory-service",
		broker.RetryPolicy{MaxRetries: cfg.Broker.MaxRetries, Delay: cfg.Broker.RetryDelay},
		messageHandler, appLogger)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(consumerCtx); err != nil {
			appLogger.Error("consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	grpcHandler := handler.NewGRPCHandler()
	grpcHandler.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPC.Port)
	if err != nil {
		appLogger.Fatal("failed to listen", zap.String("port", cfg.GRPC.Port), zap.Error(err))
	}

	go func() {
		appLogger.Info("gRPC server listening", zap.String("port", cfg.GRPC.Port))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			appLogger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.Timeout,
		WriteTimeout:          cfg.HTTP.Timeout,
	})
	app.Use(otelfiber.Middleware())
	handler.NewHTTPHandler(inventoryService, appLogger).RegisterRoutes(app)

	go func() {
		appLogger.Info("HTTP server listening", zap.String("port", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			appLogger.Error("HTTP server error", zap.Error(err))
		}
	}()

	grpcHandler.Serving()

	// Graceful shutdown
	<-ctx.Done()
	appLogger.Info("shutting down...")
	grpcHandler.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		appLogger.Error("HTTP shutdown error", zap.Error(err))
	}
	appLogger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	appLogger.Info("gRPC server stopped")

	stopConsumer()
	wg.Wait()
	appLogger.Info("consumer stopped")

	if err := consumerSession.Disconnect(); err != nil {
		appLogger.Warn("consumer broker disconnect", zap.Error(err))
	}
	if err := publisherSession.Disconnect(); err != nil {
		appLogger.Warn("publisher broker disconnect", zap.Error(err))
	}

	rdb.Close()
	db.Close()
	appLogger.Info("connections closed")
}
