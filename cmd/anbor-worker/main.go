package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"anbor/internal/amqp"
	"anbor/internal/config"
	gledger "anbor/internal/ledger/google"
	applog "anbor/internal/log"
	"anbor/internal/storage"
	"anbor/internal/worker"
)

func main() {
	// .env is for local development, missing file is fine
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting anbor-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required, the worker has no ledger to sync to without it")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledgerClient, err := gledger.NewFromEnv(ctx)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	syncWorker := worker.NewSyncWorker(repo, ledgerClient, ledgerClient, cfg.SyncBatchSize)

	// Recover local state before consuming new messages.
	if err := syncWorker.SeedMetadataIfEmpty(ctx); err != nil {
		logger.Error("Metadata seed failed", "error", err)
	}
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dial := func() (*amqp.Client, error) {
			return amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		}
		handler := func(msg *amqp.TxnSyncMessage) error {
			return syncWorker.HandleSyncMessage(ctx, msg)
		}
		return amqp.ConsumeWithReconnect(ctx, dial, handler)
	})

	// Periodic sweep catches rows whose messages were lost.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := syncWorker.ProcessPendingTransactions(ctx); err != nil {
					logger.Error("Periodic sync failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
