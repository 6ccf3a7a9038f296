package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"reservo_app_echo/internal/config"
	"reservo_app_echo/internal/services"
	"reservo_app_echo/internal/tasks"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := services.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, cfg.DBLogLevel, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	var cache *services.RedisCache
	var locker services.RenewalLocker
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, recurring charges run without a renewal lock", zap.Error(err))
		} else {
			defer cache.Close()
			locker = services.NewRedisRenewalLocker(cache, cfg.RenewalLockTTL, logger)
		}
	}

	publisher := services.NewPublisher(cfg.RabbitMQURL, cfg.EventsExchange, logger)
	defer publisher.Close()

	gateway := services.NewGatewayClient(cfg.Gateway, cache, logger)
	ledger := services.NewGormPaymentLedger(db)
	receiptRepo := services.NewGormReceiptRepository(db)

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, tasks.Deps{
		Payments:     services.NewPaymentService(gateway, ledger, publisher, logger),
		Recurring:    services.NewRecurringService(gateway, ledger, locker, publisher, logger),
		Receipts:     services.NewReceiptService(receiptRepo, publisher, logger),
		Delivery:     services.NewReceiptDeliveryService(receiptRepo, services.NewEmailService(cfg.SMTP), services.NewWahaService(cfg.Waha), logger),
		Ledger:       ledger,
		StepUpExpiry: cfg.StepUpExpiry,
		Logger:       logger,
	})
	runner := tasks.NewRunner(tasks.NewGormTaskStore(db), registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tick := func() {
		runCtx, runCancel := context.WithTimeout(ctx, 5*time.Minute)
		defer runCancel()
		if _, err := runner.RunDue(runCtx); err != nil {
			logger.Error("scheduled task run failed", zap.Error(err))
		}
	}

	cronLog := tasks.CronLogger(logger)
	scheduler := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		),
	)
	if _, err := scheduler.AddFunc(cfg.WorkerSchedule, tick); err != nil {
		logger.Fatal("invalid worker schedule", zap.String("schedule", cfg.WorkerSchedule), zap.Error(err))
	}

	logger.Info("worker started",
		zap.String("schedule", cfg.WorkerSchedule),
		zap.Strings("tasks", registry.Names()))

	// Run once on start, then follow the schedule
	tick()
	scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down worker")
	cancel()
	<-scheduler.Stop().Done()
}
