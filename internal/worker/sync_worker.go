package worker

import (
	"context"
	"fmt"
	"log/slog"

	"anbor/internal/amqp"
	"anbor/internal/core"
	"anbor/internal/ledger"
	"anbor/internal/storage"
)

// SyncWorker pushes locally recorded transactions from SQLite to the
// remote ledger.
type SyncWorker struct {
	storage   *storage.Repository
	ledger    ledger.TransactionWriter
	metadata  ledger.MetadataReader
	batchSize int
}

func NewSyncWorker(storage *storage.Repository, writer ledger.TransactionWriter, metadata ledger.MetadataReader, batchSize int) *SyncWorker {
	return &SyncWorker{
		storage:   storage,
		ledger:    writer,
		metadata:  metadata,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single transaction sync message from AMQP
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.TxnSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"id", msg.ID,
		"version", msg.Version)

	txn, err := w.storage.GetTransaction(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	if err := w.pushToLedger(ctx, txn.ID, txn); err != nil {
		return fmt.Errorf("sync transaction to ledger: %w", err)
	}

	return nil
}

// ProcessPendingTransactions processes any transactions that haven't been
// synced yet. This is a backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessPendingTransactions(ctx context.Context) error {
	pending, err := w.storage.ListPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	for _, txn := range pending {
		if err := w.pushToLedger(ctx, txn.ID, txn); err != nil {
			slog.ErrorContext(ctx, "Failed to sync transaction",
				"id", txn.ID, "error", err)
			continue
		}
	}

	return nil
}

// StartupSyncCheck verifies and syncs any pending transactions at worker
// startup. This recovers from missed AMQP messages or worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	// Larger batch for the startup check
	pending, err := w.storage.ListPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("list pending transactions for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending transactions on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, txn := range pending {
		if err := w.pushToLedger(ctx, txn.ID, txn); err != nil {
			slog.ErrorContext(ctx, "Failed to sync transaction during startup",
				"id", txn.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", successCount,
		"errors", errorCount)

	return nil
}

// SeedMetadataIfEmpty copies warehouses and cost types from the remote
// ledger into SQLite when the local cache has none. The remote sheet is
// the source of truth for metadata, the local copy only serves reads
// while offline.
func (w *SyncWorker) SeedMetadataIfEmpty(ctx context.Context) error {
	if w.metadata == nil {
		return nil
	}

	warehouses, costTypes, err := w.storage.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("read local metadata: %w", err)
	}
	if len(warehouses) > 0 || len(costTypes) > 0 {
		slog.InfoContext(ctx, "Local metadata cache already populated",
			"warehouses", len(warehouses),
			"cost_types", len(costTypes))
		return nil
	}

	slog.InfoContext(ctx, "Local metadata cache is empty, seeding from remote ledger...")

	remoteWarehouses, remoteCostTypes, err := w.metadata.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("read remote metadata: %w", err)
	}

	for _, wh := range remoteWarehouses {
		if _, err := w.storage.AddWarehouse(ctx, wh); err != nil {
			return fmt.Errorf("cache warehouse %q: %w", wh.Name, err)
		}
	}
	for _, ct := range remoteCostTypes {
		if _, err := w.storage.AddCostType(ctx, ct); err != nil {
			return fmt.Errorf("cache cost type %q: %w", ct.Name, err)
		}
	}

	slog.InfoContext(ctx, "Metadata cache seeded",
		"warehouses", len(remoteWarehouses),
		"cost_types", len(remoteCostTypes))

	return nil
}

func (w *SyncWorker) pushToLedger(ctx context.Context, id string, txn core.Transaction) error {
	ref, err := w.ledger.Append(ctx, txn)
	if err != nil {
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", id, "error", err)
		// Don't return an error here, the push actually worked
	}

	slog.InfoContext(ctx, "Successfully synced transaction",
		"id", id,
		"ledger_ref", ref,
		"amount_tjs_cents", txn.AmountTJS.Cents)

	return nil
}
