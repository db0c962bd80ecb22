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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"

	"github.com/mercurio-erp/mercurio-erp/internal/app"
	"github.com/mercurio-erp/mercurio-erp/internal/catalog"
	"github.com/mercurio-erp/mercurio-erp/internal/observability"
	"github.com/mercurio-erp/mercurio-erp/internal/platform/db"
	"github.com/mercurio-erp/mercurio-erp/internal/platform/httpx"
	"github.com/mercurio-erp/mercurio-erp/internal/rollup"
	"github.com/mercurio-erp/mercurio-erp/jobs"
)

// The ops process exposes queue health, metrics, fact intake and catalog
// administration for the recompute pipeline. The heavy lifting happens in the
// worker; this binary only observes and enqueues.
func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
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
	jobsHandler := jobs.NewHandler(inspector, enqueuer, logger)
	catalogHandler := catalog.NewHandler(catalog.NewRepository(pool), logger)
	productHandler := rollup.NewHandler(rollup.NewRepository(pool), logger)
	metrics := observability.NewMetrics()

	router := chi.NewRouter()
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(metrics.Middleware)
	router.Use(httprate.LimitByIP(60, time.Minute))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Database Unavailable", err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", metrics.Handler())
	router.Route("/jobs", jobsHandler.MountRoutes)
	router.Route("/catalog/materials", catalogHandler.MountRoutes)
	router.Route("/catalog/products", productHandler.MountRoutes)

	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("ops server listening", slog.String("addr", cfg.OpsAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("ops server", slog.Any("error", err))
		os.Exit(1)
	}
}
