package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mercurio-erp/mercurio-erp/internal/app"
	"github.com/mercurio-erp/mercurio-erp/internal/cascade"
	"github.com/mercurio-erp/mercurio-erp/internal/catalog"
	"github.com/mercurio-erp/mercurio-erp/internal/ingest"
	jobmetrics "github.com/mercurio-erp/mercurio-erp/internal/jobs"
	"github.com/mercurio-erp/mercurio-erp/internal/platform/cache"
	"github.com/mercurio-erp/mercurio-erp/internal/platform/db"
	"github.com/mercurio-erp/mercurio-erp/internal/pricing"
	"github.com/mercurio-erp/mercurio-erp/internal/rollup"
	"github.com/mercurio-erp/mercurio-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	enqueuer, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	priceCache := pricing.NewPriceCache(redisClient, cfg.PriceCacheTTL)
	ledgerRepo := pricing.NewRepository(pool)
	rollupRepo := rollup.NewRepository(pool)
	scheduler := cascade.NewScheduler(rollupRepo, enqueuer, logger)
	ledger := pricing.NewService(ledgerRepo, priceCache, scheduler, logger, pricing.ServiceConfig{
		MaxRetries: cfg.AppendMaxRetries,
		RetryBase:  cfg.AppendRetryBase,
	})
	engine := rollup.NewService(rollupRepo, ledger, logger, rollup.ServiceConfig{
		Epsilon:          cfg.Epsilon(),
		DefaultCurrency:  cfg.DefaultCurrency,
		SweepConcurrency: cfg.SweepConcurrency,
		ProductTimeout:   cfg.SweepProductTimeout,
	})

	catalogRepo := catalog.NewRepository(pool)
	resolver := catalog.NewResolver(catalogRepo)
	ingestSvc := ingest.NewService(resolver, catalogRepo, ledger, logger)

	ingestJob := jobs.NewFactIngestJob(ingestSvc, logger, metrics)
	recomputeJob := jobs.NewProductRecomputeJob(engine, logger, metrics)
	sweepJob := jobs.NewCostSweepJob(engine, logger, metrics)
	integrityJob := jobs.NewLedgerIntegrityJob(ledger, logger, metrics)

	sweepTask, err := jobs.NewCostSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewLedgerIntegrityTask(time.Now().UTC())
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.SweepConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFactIngest, Handler: ingestJob.Handle},
			{Type: jobs.TaskProductRecompute, Handler: recomputeJob.Handle},
			{Type: jobs.TaskCostSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
