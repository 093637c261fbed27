package ledger

import (
	"context"

	"anbor/internal/core"
)

// Ports for outbound ledger adapters. The remote ledger owns aggregation;
// readers return numbers as computed there.
type (
	TransactionWriter interface {
		Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
	}

	// MetadataReader lists the reference data transactions are booked against.
	MetadataReader interface {
		Metadata(ctx context.Context) (warehouses []core.Warehouse, costTypes []core.CostType, err error)
	}

	// MetadataWriter registers new reference data rows.
	MetadataWriter interface {
		AddWarehouse(ctx context.Context, w core.Warehouse) (id string, err error)
		AddCostType(ctx context.Context, c core.CostType) (id string, err error)
	}

	// ReportReader returns the precomputed monthly report for a YYYY-MM key.
	ReportReader interface {
		ReadReport(ctx context.Context, month string) (core.Report, error)
	}

	// SnapshotReader returns the transaction list backing a monthly report.
	SnapshotReader interface {
		ListTransactions(ctx context.Context, month string) ([]core.Transaction, error)
	}
)
