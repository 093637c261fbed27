package core

type (
	// ReportSummary carries the month-level totals computed by the ledger.
	ReportSummary struct {
		TotalRevenue     Money
		TotalExpenses    Money
		GrossProfit      Money
		ProfitMargin     float64
		TransactionCount int
		WarehouseCount   int
	}

	// WarehouseStats are the per-warehouse figures inside a monthly report.
	WarehouseStats struct {
		Warehouse
		Revenue          Money
		Expenses         Money
		Profit           Money
		Margin           float64
		TransactionCount int
	}

	// Report is the aggregate view for one month. The numbers are read
	// from the remote ledger as-is, never recomputed locally.
	Report struct {
		Month      string
		Summary    ReportSummary
		Warehouses []WarehouseStats
	}

	// Snapshot is the raw transaction list backing a monthly report.
	Snapshot struct {
		Month        string
		Transactions []Transaction
	}
)
