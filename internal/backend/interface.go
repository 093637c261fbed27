package backend

import (
	"context"

	"anbor/internal/auth"
	"anbor/internal/ledger"
)

// Backend bundles every ledger port a running server needs.
type Backend interface {
	ledger.TransactionWriter
	ledger.MetadataReader
	ledger.MetadataWriter
	ledger.ReportReader
	ledger.SnapshotReader
}

// CleanupFunc releases backend resources on shutdown.
type CleanupFunc func() error

// Result contains the backend instance and optional cleanup function.
// Sessions is non-nil when the backend can persist auth sessions
// durably; callers fall back to an in-memory store otherwise.
type Result struct {
	Backend  Backend
	Cleanup  CleanupFunc
	Sessions auth.DurableStore
}

// Factory creates backends based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation.
type Config struct {
	Type Type

	// SQLite specific
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets specific
	GoogleSpreadsheetID string

	// Memory backend specific
	DataDirectory string
}

// Type names a ledger backend.
type Type string

const (
	SQLiteBackend Type = "sqlite"
	SheetsBackend Type = "sheets"
	MemoryBackend Type = "memory"
)

func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is known.
func (t Type) IsValid() bool {
	switch t {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
