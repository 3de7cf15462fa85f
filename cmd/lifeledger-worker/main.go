package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"lifeledger/internal/amqp"
	"lifeledger/internal/backend"
	"lifeledger/internal/cli"
	"lifeledger/internal/config"
	"lifeledger/internal/ledger/google"
	applog "lifeledger/internal/log"
	"lifeledger/internal/services"
	"lifeledger/internal/storage"
	"lifeledger/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap("lifeledger-worker")
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

func run(cfg *config.Config, logger *applog.Logger) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("initialize SQLite repository at %s: %w", cfg.SQLiteDBPath, err)
	}
	defer repo.Close()

	opts := worker.Options{BatchSize: cfg.SyncBatchSize}

	// Mirroring and category refresh need the spreadsheet; audits do not.
	if cfg.SheetsConfigured() {
		backendCfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return err
		}
		sheets, err := google.New(ctx, backend.SheetsOptions(backendCfg))
		if err != nil {
			return fmt.Errorf("initialize Google Sheets client: %w", err)
		}
		opts.Remote = sheets
		opts.CategorySource = sheets
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	syncWorker := worker.NewSyncWorker(repo, opts, logger)

	broker, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer broker.Close()

	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", applog.FieldError, err)
	}

	processor := services.NewSyncProcessor(syncWorker, services.SyncProcessorConfig{
		PollInterval:     cfg.SyncInterval,
		CategoryInterval: cfg.CategorySyncInterval,
	}, logger)
	if err := processor.Start(ctx); err != nil {
		return err
	}

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- broker.ConsumeMessages(ctx, syncWorker.Handlers())
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("message consumption: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Warn("Sync processor did not stop cleanly", applog.FieldError, err)
	}
	return runErr
}
