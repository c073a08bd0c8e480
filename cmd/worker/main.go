package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/events"
	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	sqlDB, err := db.OpenSQL(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logger.Warn("close sql handle", slog.Any("error", err))
		}
	}()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	store := cache.NewStore(redisClient, cfg.CacheTimeout)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("close job client", slog.Any("error", err))
		}
	}()

	services, err := app.BuildServices(app.ServiceDeps{
		Config:    cfg,
		Pool:      pool,
		Cache:     store,
		Publisher: jobClient,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	sender, err := app.NewMailSender(cfg, logger)
	if err != nil {
		return err
	}
	location, err := cfg.PurgeLocation()
	if err != nil {
		return err
	}

	metrics := jobmetrics.NewMetrics(nil)
	router := events.NewRouter(logger, metrics)
	router.Subscribe("audit", (&jobs.AuditConsumer{Store: audit.NewStore(sqlDB)}).Handle, events.AllTopics()...)
	router.Subscribe("notify", (&jobs.NotifyConsumer{
		Sender:     sender,
		Retry:      jobClient,
		Marker:     store,
		PurgeAfter: cfg.PurgeAfter,
		Logger:     logger,
	}).Handle, jobs.NotifyTopics...)

	eventHandler := jobs.EventHandler(router)
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskTypeSendEmail, Handler: (&jobs.SendEmailJob{Sender: sender, Logger: logger}).HandleSendEmailTask},
		{Type: jobs.TaskPurgeCancelled, Handler: jobs.NewPurgeCancelledJob(services.Users, cfg.PurgeAfter, logger, metrics).Handle},
	}
	for _, topic := range router.Topics() {
		handlers = append(handlers, jobs.TaskHandler{Type: topic, Handler: eventHandler})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    location,
		Handlers:    handlers,
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PurgeCron, Task: jobs.NewPurgeCancelledTask(), Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		return err
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker",
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.String("purge_cron", cfg.PurgeCron),
		slog.String("purge_timezone", location.String()))
	return worker.Run(ctx)
}
