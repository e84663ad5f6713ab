package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/indexing-engine/internal/alert"
	"github.com/kursadbilgin/indexing-engine/internal/config"
	"github.com/kursadbilgin/indexing-engine/internal/handler"
	"github.com/kursadbilgin/indexing-engine/internal/health"
	"github.com/kursadbilgin/indexing-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/indexing-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/indexing-engine/internal/infra/redis"
	"github.com/kursadbilgin/indexing-engine/internal/observability"
	"github.com/kursadbilgin/indexing-engine/internal/provider"
	"github.com/kursadbilgin/indexing-engine/internal/queue"
	"github.com/kursadbilgin/indexing-engine/internal/quota"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"github.com/kursadbilgin/indexing-engine/internal/service"
	"github.com/kursadbilgin/indexing-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 15 * time.Second
	consumerPrefetch = 32
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("indexing-engine stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	pool := postgresql.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, pool)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	locker, err := infraredis.NewRedisLocker(rdb, cfg.LockTTL, logger)
	if err != nil {
		return fmt.Errorf("credential locker init failed: %w", err)
	}
	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()
	publisher := queue.NewRabbitMQPublisher(broker)
	publisher.SetMetrics(metrics)
	consumer := queue.NewRabbitMQConsumer(broker, consumerPrefetch, logger)
	consumer.SetMetrics(metrics)

	indexer, err := provider.NewHTTPIndexer(cfg.IndexingEndpointURL, cfg.SubmitTimeout)
	if err != nil {
		return fmt.Errorf("indexer init failed: %w", err)
	}

	credentials := repository.NewGormCredentialRepo(db)
	requests := repository.NewGormIndexingRequestRepo(db)
	schedules := repository.NewGormScheduleRepo(db)
	queued := repository.NewGormQueuedURLRepo(db)
	alerts := repository.NewGormAlertRepo(db)

	tracker := quota.NewTracker(requests, locker, cfg.DailyQuotaLimit, logger)
	monitor := health.NewMonitor(credentials, locker, health.Policy{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.CooldownDuration,
	}, logger, metrics)
	aggregator := alert.NewAggregator(alert.Thresholds{
		BacklogThreshold:   cfg.BacklogAlertThreshold,
		FailureRatePercent: cfg.FailureRatePercent,
		FailureWindow:      cfg.FailureRateWindow,
	})

	runService, err := service.NewRunService(schedules, credentials, queued, requests, tracker, monitor, publisher, logger)
	if err != nil {
		return err
	}
	runService.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(schedules, runService, cfg.SchedulerResync, cfg.SchedulerConcurrency, logger)
	if err != nil {
		return err
	}
	scheduleService, err := service.NewScheduleService(schedules, scheduler, logger)
	if err != nil {
		return err
	}

	workers, err := service.NewWorkerService(
		requests, credentials, consumer, indexer, rateLimiter, monitor,
		cfg.WorkerConcurrency, cfg.SubmitTimeout, logger,
	)
	if err != nil {
		return err
	}
	workers.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(
		requests, credentials, tracker, locker, publisher,
		cfg.RetryScanInterval, 0, logger,
	)
	if err != nil {
		return err
	}

	sweeper, err := service.NewHealthSweeper(monitor, cfg.HealthSweepInterval, logger)
	if err != nil {
		return err
	}

	alertService, err := service.NewAlertService(alerts, requests, credentials, queued, aggregator, cfg.AlertEvalInterval, logger)
	if err != nil {
		return err
	}
	alertService.SetMetrics(metrics)

	urlService, err := service.NewURLService(queued, logger)
	if err != nil {
		return err
	}
	credentialService, err := service.NewCredentialService(credentials, tracker, logger)
	if err != nil {
		return err
	}
	requestService, err := service.NewRequestService(requests)
	if err != nil {
		return err
	}

	app := transport.NewApp(logger)
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.BrokerCheck(broker),
	)
	if err := handler.RegisterIndexingRoutes(app, handler.Services{
		Schedules:   scheduleService,
		Runs:        runService,
		URLs:        urlService,
		Credentials: credentialService,
		Alerts:      alertService,
		Requests:    requestService,
	}); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("indexing-engine api started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error { return workers.Start(groupCtx) })
	g.Go(func() error { return scheduler.Start(groupCtx) })
	g.Go(func() error { return retryScanner.Start(groupCtx) })
	g.Go(func() error { return sweeper.Start(groupCtx) })
	g.Go(func() error { return alertService.Start(groupCtx) })

	err = g.Wait()
	logger.Info("indexing-engine stopped")
	return err
}
