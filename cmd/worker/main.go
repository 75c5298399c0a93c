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
	"golang.org/x/sync/errgroup"

	"github.com/armonia-contable/armonia/internal/app"
	"github.com/armonia-contable/armonia/internal/observability"
	"github.com/armonia-contable/armonia/jobs"
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
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	engine, err := app.BuildEngine(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer engine.Close()

	worker, err := jobs.NewWorker(workerConfig(cfg, logger, engine, metrics))
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func workerConfig(cfg *app.Config, logger *slog.Logger, engine *app.Engine, metrics *observability.Metrics) jobs.WorkerConfig {
	wc := jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeNotify, Handler: jobs.NotifyHandler(jobs.LogNotifier{Logger: logger})},
			{Type: jobs.TaskBalanceIntegrity, Handler: jobs.NewIntegrityHandler(engine.Balances, metrics.Jobs(), logger)},
		},
	}
	if cleaner, ok := engine.Idempotency.(jobs.Cleaner); ok {
		wc.Handlers = append(wc.Handlers, jobs.TaskHandler{
			Type:    jobs.TaskIdempotencyCleanup,
			Handler: jobs.NewCleanupHandler(cleaner, metrics.Jobs(), logger),
		})
		if task, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention); err != nil {
			logger.Warn("skip idempotency cleanup schedule", slog.Any("error", err))
		} else {
			wc.Cron = append(wc.Cron, jobs.CronRegistration{Spec: cfg.IdempotencyCron, Task: task})
		}
	}
	for _, entityID := range cfg.IntegrityEntities {
		task, err := jobs.NewBalanceIntegrityTask(jobs.IntegrityPayload{EntityID: entityID})
		if err != nil {
			logger.Warn("skip integrity schedule", slog.Int64("entity_id", entityID), slog.Any("error", err))
			continue
		}
		wc.Cron = append(wc.Cron, jobs.CronRegistration{
			Spec:    cfg.IntegrityCron,
			Task:    task,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}
	return wc
}
