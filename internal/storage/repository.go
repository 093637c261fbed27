// Package storage keeps the local transaction outbox and durable session
// state in SQLite. Recorded transactions are synced to the remote ledger
// by the worker; the kv_store table backs the auth flow's durable store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"anbor/internal/core"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Append implements ledger.TransactionWriter. The row lands in the outbox
// unsynced; the sync worker pushes it to the remote ledger.
func (r *Repository) Append(ctx context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.AmountTJS.Cents == 0 {
		t.AmountTJS = t.Amount
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, txn_date, warehouse_id, cost_type_id, is_income, amount_cents, currency, amount_tjs_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Date.Format("2006-01-02"), t.WarehouseID, t.CostTypeID,
		boolInt(t.IsIncome), t.Amount.Cents, strings.ToUpper(t.Currency), t.AmountTJS.Cents)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to outbox",
		"component", "storage",
		"operation", "append",
		"txn_id", t.ID,
		"warehouse_id", t.WarehouseID,
		"amount_cents", t.AmountTJS.Cents,
		"is_income", t.IsIncome)
	return t.ID, nil
}

// GetTransaction loads a single outbox row by id.
func (r *Repository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, txn_date, warehouse_id, cost_type_id, is_income, amount_cents, currency, amount_tjs_cents
		FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, fmt.Errorf("transaction %s not found", id)
		}
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// ListPending returns up to limit unsynced transactions, oldest first.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, txn_date, warehouse_id, cost_type_id, is_income, amount_cents, currency, amount_tjs_cents
		FROM transactions WHERE synced = 0 ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// MarkSynced flags a transaction as pushed to the remote ledger.
func (r *Repository) MarkSynced(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET synced = 1, version = version + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}
	return nil
}

// ListTransactions implements ledger.SnapshotReader for the sqlite backend.
func (r *Repository) ListTransactions(ctx context.Context, month string) ([]core.Transaction, error) {
	if err := core.ValidateMonthKey(month); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, txn_date, warehouse_id, cost_type_id, is_income, amount_cents, currency, amount_tjs_cents
		FROM transactions WHERE substr(txn_date, 1, 7) = ? ORDER BY txn_date`, month)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// Metadata implements ledger.MetadataReader.
func (r *Repository) Metadata(ctx context.Context) ([]core.Warehouse, []core.CostType, error) {
	whRows, err := r.db.QueryContext(ctx, `SELECT id, name, emoji, color FROM warehouses ORDER BY name`)
	if err != nil {
		return nil, nil, fmt.Errorf("list warehouses: %w", err)
	}
	defer whRows.Close()
	var warehouses []core.Warehouse
	for whRows.Next() {
		var w core.Warehouse
		if err := whRows.Scan(&w.ID, &w.Name, &w.Emoji, &w.Color); err != nil {
			return nil, nil, fmt.Errorf("scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	if err := whRows.Err(); err != nil {
		return nil, nil, err
	}

	ctRows, err := r.db.QueryContext(ctx, `SELECT id, name, is_direct FROM cost_types ORDER BY name`)
	if err != nil {
		return nil, nil, fmt.Errorf("list cost types: %w", err)
	}
	defer ctRows.Close()
	var costTypes []core.CostType
	for ctRows.Next() {
		var c core.CostType
		var direct int
		if err := ctRows.Scan(&c.ID, &c.Name, &direct); err != nil {
			return nil, nil, fmt.Errorf("scan cost type: %w", err)
		}
		c.IsDirect = direct != 0
		costTypes = append(costTypes, c)
	}
	if err := ctRows.Err(); err != nil {
		return nil, nil, err
	}
	return warehouses, costTypes, nil
}

// AddWarehouse implements ledger.MetadataWriter.
func (r *Repository) AddWarehouse(ctx context.Context, w core.Warehouse) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	w.ID = uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO warehouses (id, name, emoji, color) VALUES (?, ?, ?, ?)`,
		w.ID, w.Name, w.Emoji, w.Color)
	if err != nil {
		return "", fmt.Errorf("insert warehouse: %w", err)
	}
	return w.ID, nil
}

// AddCostType implements ledger.MetadataWriter.
func (r *Repository) AddCostType(ctx context.Context, c core.CostType) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	c.ID = uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cost_types (id, name, is_direct) VALUES (?, ?, ?)`,
		c.ID, c.Name, boolInt(c.IsDirect))
	if err != nil {
		return "", fmt.Errorf("insert cost type: %w", err)
	}
	return c.ID, nil
}

// ReadReport implements ledger.ReportReader for the sqlite backend, which
// stands in for the remote ledger and aggregates the same way.
func (r *Repository) ReadReport(ctx context.Context, month string) (core.Report, error) {
	if err := core.ValidateMonthKey(month); err != nil {
		return core.Report{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.warehouse_id,
		       COALESCE(w.name, t.warehouse_id),
		       COALESCE(w.emoji, ''),
		       COALESCE(w.color, ''),
		       SUM(CASE WHEN t.is_income = 1 THEN t.amount_tjs_cents ELSE 0 END),
		       SUM(CASE WHEN t.is_income = 0 THEN t.amount_tjs_cents ELSE 0 END),
		       COUNT(*)
		FROM transactions t
		LEFT JOIN warehouses w ON w.id = t.warehouse_id
		WHERE substr(t.txn_date, 1, 7) = ?
		GROUP BY t.warehouse_id
		ORDER BY COALESCE(w.name, t.warehouse_id)`, month)
	if err != nil {
		return core.Report{}, fmt.Errorf("aggregate report: %w", err)
	}
	defer rows.Close()

	report := core.Report{Month: month}
	var totalRevenue, totalExpenses int64
	var totalCount int
	for rows.Next() {
		var ws core.WarehouseStats
		var revenue, expenses int64
		var count int
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Emoji, &ws.Color, &revenue, &expenses, &count); err != nil {
			return core.Report{}, fmt.Errorf("scan report row: %w", err)
		}
		ws.Revenue = core.Money{Cents: revenue}
		ws.Expenses = core.Money{Cents: expenses}
		ws.Profit = core.Money{Cents: revenue - expenses}
		ws.Margin = margin(revenue, revenue-expenses)
		ws.TransactionCount = count
		report.Warehouses = append(report.Warehouses, ws)

		totalRevenue += revenue
		totalExpenses += expenses
		totalCount += count
	}
	if err := rows.Err(); err != nil {
		return core.Report{}, err
	}

	report.Summary = core.ReportSummary{
		TotalRevenue:     core.Money{Cents: totalRevenue},
		TotalExpenses:    core.Money{Cents: totalExpenses},
		GrossProfit:      core.Money{Cents: totalRevenue - totalExpenses},
		ProfitMargin:     margin(totalRevenue, totalRevenue-totalExpenses),
		TransactionCount: totalCount,
		WarehouseCount:   len(report.Warehouses),
	}
	return report, nil
}

func margin(revenue, profit int64) float64 {
	if revenue == 0 {
		return 0
	}
	return float64(profit) / float64(revenue) * 100
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var t core.Transaction
	var dateStr string
	var income int
	if err := row.Scan(&t.ID, &dateStr, &t.WarehouseID, &t.CostTypeID, &income,
		&t.Amount.Cents, &t.Currency, &t.AmountTJS.Cents); err != nil {
		return core.Transaction{}, err
	}
	date, err := core.ParseDate(dateStr)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	t.Date = date
	t.IsIncome = income != 0
	return t, nil
}

func collectTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
