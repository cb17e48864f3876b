package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"dripline/config"
	controller "dripline/controllers"
	"dripline/delivery"
	"dripline/drip"
	"dripline/locker"
	"dripline/middleware"
	"dripline/routes"
	"dripline/store"
	"dripline/utils"
	"dripline/worker"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig

	utils.InitLogging(cfg.Environment)
	if err := utils.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logrus.WithError(err).Warn("Sentry initialization failed")
	}
	defer utils.FlushSentry()

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sequences := store.NewSequenceStore(config.DB)
	ledger := store.NewJobLedger(config.DB)
	deals := store.NewDealDirectory(config.DB)

	var (
		dealLocker drip.Locker = locker.NewLocal(cfg.DealLockWait)
		rlStorage  fiber.Storage
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logrus.Fatalf("Failed to connect to redis: %v", err)
		}
		dealLocker = locker.NewRedis(rdb, cfg.DealLockTTL, cfg.DealLockWait, utils.Component("locker"))
		rlStorage = middleware.NewRedisStorage(rdb)
	}

	engine := drip.NewEngine(sequences, deals, ledger, dealLocker, utils.Component("engine"))

	var messenger delivery.Channels
	if cfg.SMTP.Host != "" {
		messenger.Email = delivery.NewSMTPMailer(delivery.SMTPConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			FromEmail: cfg.SMTP.FromEmail,
			FromName:  cfg.SMTP.FromName,
		})
	}
	if cfg.SMS.GatewayURL != "" {
		messenger.SMS = delivery.NewSMSGateway(delivery.SMSConfig{
			BaseURL:    cfg.SMS.GatewayURL,
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			FromNumber: cfg.SMS.FromNumber,
		})
	}

	hub := controller.NewJobEventHub(utils.Component("events"))

	dispatcher := worker.NewDispatchWorker(ledger, messenger, hub, utils.Component("dispatcher"), worker.DispatchConfig{
		Interval:     cfg.Dispatch.Interval,
		BatchSize:    cfg.Dispatch.BatchSize,
		ClaimTimeout: cfg.Dispatch.ClaimTimeout,
		Concurrency:  cfg.Dispatch.Concurrency,
	})
	go dispatcher.Start(ctx)

	retention, err := worker.NewRetentionWorker(ledger, utils.Component("retention"),
		time.Duration(cfg.JobRetentionDays)*24*time.Hour, cfg.RetentionCron)
	if err != nil {
		logrus.Fatalf("Failed to configure retention worker: %v", err)
	}
	go retention.Start(ctx)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "dripline",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	app.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	drips := controller.NewDripController(sequences, ledger, engine, hub, utils.Component("api"))
	routes.SetupRoutes(app, drips, hub, routes.Options{
		JWTSecret:        cfg.EncryptionKey,
		TriggerRateLimit: cfg.TriggerRateLimit,
		RateLimitStorage: rlStorage,
		AccessLog:        !cfg.IsProduction(),
	})

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logrus.Infof("🚀 Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}
