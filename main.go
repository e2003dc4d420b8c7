// Package main provides the main entry point for the SMS campaign dispatch service
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/smsdispatch/app/adapters"
	"github.com/amirphl/smsdispatch/app/dispatch"
	"github.com/amirphl/smsdispatch/app/handlers"
	"github.com/amirphl/smsdispatch/app/middleware"
	"github.com/amirphl/smsdispatch/app/router"
	"github.com/amirphl/smsdispatch/app/scheduler"
	"github.com/amirphl/smsdispatch/app/services"
	businessflow "github.com/amirphl/smsdispatch/business_flow"
	"github.com/amirphl/smsdispatch/config"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/repository"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.Config
	stopFuncs []func()
	closers   []io.Closer
}

func main() {
	log.Println("Starting smsdispatch...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	if err := app.router.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	// Background workers stop after the server so no request lands on a stopped scheduler
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}
	for _, c := range app.closers {
		_ = c.Close()
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, gormLog *log.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.New(gormLog, logger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: utils.UTCNow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(
			&models.Recipient{},
			&models.Campaign{},
			&models.CampaignRecipient{},
			&models.DeliveryRecord{},
			&models.DeliveryAttempt{},
			&models.QuotaLedger{},
		); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// initializeCache connects to Redis. An empty address disables it.
func initializeCache(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.Addr, cfg.DB)
	return rc, nil
}

func initializeGateway(cfg *config.GatewayConfig) services.SMSGateway {
	switch cfg.Provider {
	case "http":
		return services.NewHTTPSMSGateway(cfg)
	default:
		log.Println("Using the mock SMS gateway; every message succeeds")
		return services.NewMockSMSGateway()
	}
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	newLogger := func(name string) *log.Logger {
		l, closer := utils.NewLogger(name, utils.LogFileOptions{
			Dir:        cfg.Logging.Dir,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		app.closers = append(app.closers, closer)
		return l
	}

	db, err := initializeDatabase(cfg.Database, newLogger("gorm"))
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		app.closers = append(app.closers, rc)
	}

	// Repositories
	campaignRepo := repository.NewCampaignRepository(db)
	deliveryRepo := repository.NewDeliveryRecordRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)

	var (
		messageQuota dispatch.QuotaLedger       = quotaRepo
		quotaReader  repository.QuotaRepository = quotaRepo
		flusher      scheduler.QuotaFlusher
	)
	if cfg.Quota.Backend == "redis" {
		if rc == nil {
			return nil, fmt.Errorf("redis quota backend requires REDIS_ADDR")
		}
		cache := repository.NewQuotaCache(rc, quotaRepo)
		messageQuota = cache
		quotaReader = adapters.NewLiveQuotaRepository(quotaRepo, cache)
		flusher = cache
	}

	// Dispatch pipeline
	dispatchLog := newLogger("dispatch")

	classifier, err := dispatch.NewClassifier(
		cfg.Dispatch.TransientCodes,
		cfg.Dispatch.TerminalCodes,
		cfg.Dispatch.OptOutCodes,
		cfg.Dispatch.ChargedCodes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build error classifier: %w", err)
	}
	refundPolicy, err := dispatch.ParseRefundPolicy(cfg.Dispatch.RefundPolicy)
	if err != nil {
		return nil, err
	}
	backoff, err := dispatch.NewBackoffFactory(
		cfg.Dispatch.BackoffStrategy,
		cfg.Dispatch.BackoffDelays,
		cfg.Dispatch.BackoffInitial,
		cfg.Dispatch.BackoffMax,
		cfg.Dispatch.MaxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build backoff: %w", err)
	}

	notifiers := dispatch.MultiNotifier{dispatch.NewLogNotifier(dispatchLog)}
	if rc != nil {
		notifiers = append(notifiers, dispatch.NewRedisNotifier(rc, dispatchLog))
	}

	sender := dispatch.NewSender(
		campaignRepo,
		deliveryRepo,
		recipientRepo,
		messageQuota,
		initializeGateway(&cfg.Gateway),
		classifier,
		backoff,
		dispatch.SenderConfig{
			GatewayTimeout: cfg.Gateway.Timeout,
			RefundPolicy:   refundPolicy,
			DefaultRegion:  cfg.Dispatch.DefaultRegion,
		},
		dispatchLog,
	)
	reconciler := dispatch.NewReconciler(campaignRepo, deliveryRepo, notifiers, dispatchLog)
	orchestrator := dispatch.NewOrchestrator(
		campaignRepo,
		deliveryRepo,
		recipientRepo,
		sender,
		reconciler,
		dispatch.OrchestratorConfig{
			ChunkSize:        cfg.Dispatch.ChunkSize,
			Workers:          cfg.Dispatch.Workers,
			ChunkConcurrency: cfg.Dispatch.ChunkConcurrency,
		},
		dispatchLog,
	)

	// Scheduler
	if cfg.Scheduler.Enabled {
		sched, err := scheduler.NewCampaignScheduler(campaignRepo, orchestrator, quotaRepo, flusher, cfg.Scheduler, newLogger("scheduler"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
		}
		prometheus.MustRegister(sched.ActiveGauge())
		app.stopFuncs = append(app.stopFuncs, sched.Start(context.Background()))
	}

	// Token service
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.RefreshTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Flows
	apiLog := newLogger("api")
	campaignFlow := businessflow.NewCampaignFlow(
		campaignRepo,
		recipientRepo,
		deliveryRepo,
		quotaRepo,
		reconciler,
		businessflow.GormTxRunner(db),
		apiLog,
	)
	reportFlow := businessflow.NewCampaignReportFlow(campaignRepo, deliveryRepo)
	quotaFlow := businessflow.NewQuotaFlow(quotaReader)
	callbackFlow := businessflow.NewDeliveryCallbackFlow(deliveryRepo, recipientRepo, classifier, newLogger("callback"))

	// HTTP
	checks := map[string]router.HealthCheck{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	app.router = router.NewFiberRouter(
		cfg.Server,
		cfg.Metrics,
		router.Handlers{
			Auth:     handlers.NewAuthHandler(tokenService, apiLog),
			Campaign: handlers.NewCampaignHandler(campaignFlow, reportFlow, apiLog),
			Quota:    handlers.NewQuotaHandler(quotaFlow, apiLog),
			Callback: handlers.NewCallbackHandler(callbackFlow, cfg.Callback.Token, cfg.Callback.TokenHeader, apiLog),
		},
		middleware.NewAuthMiddleware(tokenService),
		checks,
		apiLog,
	)

	return app, nil
}
