package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-core/config"
	"booking-core/internal/api"
	"booking-core/internal/broker"
	"booking-core/internal/clock"
	"booking-core/internal/provider"
	"booking-core/internal/queue"
	"booking-core/internal/redisclient"
	"booking-core/internal/service"
	"booking-core/internal/store"
	"booking-core/internal/util"
	"booking-core/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger("booking-core", cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking core")

	tp, err := util.InitTracer("booking-core", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	notifier, closeNotifier := newNotifier(cfg, logger)
	defer closeNotifier()

	clk := clock.NewSystem()
	auditLog := store.NewAuditLog(db)

	inventoryClient := service.NewInventoryClient(db, redisClient, time.Hour)
	if err := inventoryClient.SyncInventoryToRedis(ctx); err != nil {
		logger.Warn("Failed to sync inventory to Redis", zap.Error(err))
	}

	holds := service.NewHoldManager(inventoryClient, auditLog, clk,
		service.WithDefaultLease(cfg.Business.HoldLease()),
		service.WithMaxLease(cfg.Business.HoldMaxLease()),
	)
	engine := service.NewEngine(holds, auditLog, clk, service.WithNotifier(notifier))
	holds.OnExpired(engine.HandleHoldExpired)

	// state must be rebuilt before serving or sweeping
	n, err := holds.Restore(ctx, auditLog)
	if err != nil {
		logger.Fatal("Failed to restore holds", zap.Error(err))
	}
	m, err := engine.Restore(ctx, auditLog)
	if err != nil {
		logger.Fatal("Failed to restore bookings and payments", zap.Error(err))
	}
	logger.Info("State restored from audit log", zap.Int("holds", n), zap.Int("bookings_and_payments", m))

	reconciler := service.NewReconciler(engine,
		provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.Timeout),
		redisclient.NewRetryQueue(redisClient),
		clk,
		service.WithQueryTimeout(cfg.Provider.Timeout),
		service.WithRetryPolicy(cfg.Business.ReconcileMaxAttempts, cfg.Business.ReconcileBaseBackoff, cfg.Business.ReconcileMaxBackoff),
	)
	intake := service.NewProviderEventIntake(engine, redisClient, 24*time.Hour)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweeper := worker.NewLeaseSweeper(holds, cfg.Business.SweepInterval)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Lease sweeper error", zap.Error(err))
		}
	}()

	reconcileWorker := worker.NewReconcileWorker(reconciler, redisClient, cfg.Business.ReconcileInterval)
	go func() {
		if err := reconcileWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Reconcile worker error", zap.Error(err))
		}
	}()

	eventConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicProviderEvents, cfg.Kafka.ConsumerGroup)
	eventWorker := worker.NewProviderEventWorker(eventConsumer, intake)
	go func() {
		if err := eventWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Provider event worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Holds:      holds,
		Engine:     engine,
		Reconciler: reconciler,
		Intake:     intake,
		AuditLog:   auditLog,
		JWTSecret:  cfg.Auth.JWTSecret,
		PageSize:   cfg.Business.AuditPageSize,
		Ready: func(ctx context.Context) error {
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := redisClient.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := eventWorker.Stop(); err != nil {
		logger.Warn("Failed to stop provider event worker", zap.Error(err))
	}
	holds.WaitHooks()

	logger.Info("Server exited")
}

// newNotifier builds the configured notification transport.
func newNotifier(cfg *config.Config, logger *zap.Logger) (service.Notifier, func()) {
	switch cfg.Notify.Transport {
	case "rabbitmq":
		publisher := queue.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		logger.Info("RabbitMQ notifier initialized", zap.String("queue", cfg.RabbitMQ.Queue))
		return publisher, func() { _ = publisher.Close() }
	case "log":
		return service.LogNotifier{Logger: logger.Named("notify")}, func() {}
	default:
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		logger.Info("Kafka notifier initialized", zap.String("topic", cfg.Kafka.TopicNotifications))
		return broker.NewEventPublisher(producer), func() { _ = producer.Close() }
	}
}
