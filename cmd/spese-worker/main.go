package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"spesebook/internal/amqp"
	"spesebook/internal/backend"
	"spesebook/internal/cli"
	"spesebook/internal/log"
	"spesebook/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap()
	logger = logger.WithComponent(log.ComponentWorker)
	logger.Info("Starting spese-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the backup worker")
		os.Exit(1)
	}
	if cfg.DataBackend != string(backend.SQLiteBackend) {
		logger.Error("Backup worker needs the sqlite backend shared with the server", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	// The worker only reads; it must not publish changes of its own.
	backendCfg.AMQPURL = ""

	result, err := backend.NewFactory(logger, nil).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		result.Cleanup()
		os.Exit(1)
	}

	backups := worker.NewBackupWorker(result.Ledger, worker.BackupConfig{
		Dir:      cfg.BackupDir,
		Debounce: cfg.BackupDebounce,
		Keep:     cfg.BackupKeep,
		Logger:   logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	if err := backups.StartupBackup(ctx); err != nil {
		logger.Error("Startup backup failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.ConsumeChanges(gctx, backups.HandleChange)
	})
	g.Go(func() error {
		return backups.Run(gctx)
	})

	runErr := g.Wait()

	if err := amqpClient.Close(); err != nil {
		logger.Error("Failed to close AMQP client", log.FieldError, err)
	}
	if err := result.Cleanup(); err != nil {
		logger.Error("Failed to close backend", log.FieldError, err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Worker stopped", log.FieldError, runErr)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete", "dir", cfg.BackupDir)
}
