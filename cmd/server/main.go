package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"reservo_app_echo/internal/config"
	"reservo_app_echo/internal/handlers"
	authMiddleware "reservo_app_echo/internal/middleware"
	"reservo_app_echo/internal/services"
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
	if err := services.AutoMigrate(db, logger); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	// Redis is optional: without it acceptance tokens are not cached and renewals are not locked
	var cache *services.RedisCache
	var locker services.RenewalLocker
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", zap.Error(err))
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

	paymentService := services.NewPaymentService(gateway, ledger, publisher, logger)
	recurringService := services.NewRecurringService(gateway, ledger, locker, publisher, logger)
	receiptService := services.NewReceiptService(receiptRepo, publisher, logger)

	var verifier authMiddleware.TokenVerifier
	authClient, err := services.NewFirebaseAuth(context.Background(), cfg, logger)
	if err != nil {
		logger.Warn("firebase initialization failed, protected routes will answer 503", zap.Error(err))
	} else {
		verifier = authClient
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID))
			return nil
		},
	}))

	paymentHandler := handlers.NewPaymentHandler(paymentService, recurringService)
	receiptHandler := handlers.NewReceiptHandler(receiptService)

	e.GET("/healthz", handlers.Healthz)

	api := e.Group("/api")
	api.Use(authMiddleware.RequireAuth(verifier))

	api.POST("/payments", paymentHandler.InitiatePayment)
	api.POST("/payments/:transaction_id/refresh", paymentHandler.RefreshStatus)
	api.POST("/businesses/:business_id/recurring-charges", paymentHandler.ChargeRecurring)

	api.POST("/receipts", receiptHandler.IssueReceipt)
	api.POST("/receipts/:id/cancel", receiptHandler.CancelReceipt)

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
