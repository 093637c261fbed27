package backend

import (
	"context"
	"fmt"
	"log/slog"

	"anbor/internal/amqp"
	gledger "anbor/internal/ledger/google"
	"anbor/internal/ledger/memory"
	"anbor/internal/services"
	"anbor/internal/storage"
)

// DefaultFactory implements the Factory interface.
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*Result, error) {
	repo, err := storage.NewRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	// AMQP is optional, without it the startup sweep is the only sync path
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without sync", "error", err)
			amqpClient = nil
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	svc := services.NewTransactionService(repo, amqpClient)

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", amqpClient != nil)

	return &Result{
		Backend:  svc,
		Cleanup:  svc.Close,
		Sessions: repo.SessionStore(),
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context) (*Result, error) {
	cli, err := gledger.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend")

	return &Result{Backend: cli}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*Result, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}

	store := memory.NewFromFiles(dataDir)

	f.logger.Info("Initialized memory backend", "data_directory", dataDir)

	return &Result{Backend: store}, nil
}
