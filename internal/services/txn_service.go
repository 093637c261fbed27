package services

import (
	"context"
	"fmt"
	"log/slog"

	"anbor/internal/amqp"
	"anbor/internal/core"
	"anbor/internal/storage"
)

// TransactionService records transactions in SQLite and hands them to
// the sync worker over AMQP. Reads are served from the local copy.
type TransactionService struct {
	storage    *storage.Repository
	amqpClient *amqp.Client
}

func NewTransactionService(storage *storage.Repository, amqpClient *amqp.Client) *TransactionService {
	return &TransactionService{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

// Append saves a transaction locally and publishes a sync message. A
// publish failure does not fail the request, the startup sweep picks
// the row up later.
func (s *TransactionService) Append(ctx context.Context, t core.Transaction) (string, error) {
	id, err := s.storage.Append(ctx, t)
	if err != nil {
		return "", fmt.Errorf("save transaction: %w", err)
	}

	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping sync message", "id", id)
		return id, nil
	}

	if err := s.amqpClient.PublishTxnSync(ctx, id, 1); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"id", id, "error", err)
	}

	return id, nil
}

func (s *TransactionService) Metadata(ctx context.Context) ([]core.Warehouse, []core.CostType, error) {
	return s.storage.Metadata(ctx)
}

func (s *TransactionService) AddWarehouse(ctx context.Context, w core.Warehouse) (string, error) {
	return s.storage.AddWarehouse(ctx, w)
}

func (s *TransactionService) AddCostType(ctx context.Context, c core.CostType) (string, error) {
	return s.storage.AddCostType(ctx, c)
}

func (s *TransactionService) ReadReport(ctx context.Context, month string) (core.Report, error) {
	return s.storage.ReadReport(ctx, month)
}

func (s *TransactionService) ListTransactions(ctx context.Context, month string) ([]core.Transaction, error) {
	return s.storage.ListTransactions(ctx, month)
}

// Close closes both storage and AMQP connections
func (s *TransactionService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close transaction service: %v", errs)
	}
	return nil
}
