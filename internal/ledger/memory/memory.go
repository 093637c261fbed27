// Package memory is an in-process ledger used for development and tests.
// It mimics the remote ledger's behavior, including the server-side report
// aggregation the real backend performs.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"anbor/internal/core"
)

type Store struct {
	mu         sync.Mutex
	warehouses []core.Warehouse
	costTypes  []core.CostType
	items      []core.Transaction
}

func New(warehouses []core.Warehouse, costTypes []core.CostType) *Store {
	return &Store{warehouses: warehouses, costTypes: costTypes}
}

// NewFromFiles seeds reference data from <base>/seed_warehouses.txt and
// <base>/seed_cost_types.txt (one name per line), falling back to a small
// built-in set when the files are absent.
func NewFromFiles(base string) *Store {
	var warehouses []core.Warehouse
	for _, name := range readLines(filepath.Join(base, "seed_warehouses.txt")) {
		warehouses = append(warehouses, core.Warehouse{ID: uuid.NewString(), Name: name, Emoji: "📦", Color: "#4a6fa5"})
	}
	var costTypes []core.CostType
	for _, name := range readLines(filepath.Join(base, "seed_cost_types.txt")) {
		costTypes = append(costTypes, core.CostType{ID: uuid.NewString(), Name: name, IsDirect: true})
	}
	if len(warehouses) == 0 {
		warehouses = []core.Warehouse{
			{ID: uuid.NewString(), Name: "Dushanbe North", Emoji: "🏭", Color: "#4a6fa5"},
			{ID: uuid.NewString(), Name: "Khujand", Emoji: "📦", Color: "#a54a4a"},
		}
	}
	if len(costTypes) == 0 {
		costTypes = []core.CostType{
			{ID: uuid.NewString(), Name: "Goods", IsDirect: true},
			{ID: uuid.NewString(), Name: "Transport", IsDirect: true},
			{ID: uuid.NewString(), Name: "Rent", IsDirect: false},
		}
	}
	return New(warehouses, costTypes)
}

// Append stores the transaction and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.AmountTJS.Cents == 0 {
		t.AmountTJS = t.Amount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, t)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

func (s *Store) Metadata(_ context.Context) ([]core.Warehouse, []core.CostType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	warehouses := append([]core.Warehouse(nil), s.warehouses...)
	costTypes := append([]core.CostType(nil), s.costTypes...)
	return warehouses, costTypes, nil
}

func (s *Store) AddWarehouse(_ context.Context, w core.Warehouse) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	w.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warehouses = append(s.warehouses, w)
	return w.ID, nil
}

func (s *Store) AddCostType(_ context.Context, c core.CostType) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	c.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costTypes = append(s.costTypes, c)
	return c.ID, nil
}

func (s *Store) ListTransactions(_ context.Context, month string) ([]core.Transaction, error) {
	if err := core.ValidateMonthKey(month); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, t := range s.items {
		if t.Date.MonthKey() == month {
			out = append(out, t)
		}
	}
	return out, nil
}

// ReadReport aggregates the stored transactions the way the remote ledger
// does: revenue and expenses per warehouse in TJS, margins as percentages.
func (s *Store) ReadReport(_ context.Context, month string) (core.Report, error) {
	if err := core.ValidateMonthKey(month); err != nil {
		return core.Report{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type agg struct {
		revenue, expenses int64
		count             int
	}
	byWarehouse := map[string]*agg{}
	total := agg{}
	for _, t := range s.items {
		if t.Date.MonthKey() != month {
			continue
		}
		a := byWarehouse[t.WarehouseID]
		if a == nil {
			a = &agg{}
			byWarehouse[t.WarehouseID] = a
		}
		amount := t.AmountTJS.Cents
		if t.IsIncome {
			a.revenue += amount
			total.revenue += amount
		} else {
			a.expenses += amount
			total.expenses += amount
		}
		a.count++
		total.count++
	}

	report := core.Report{
		Month: month,
		Summary: core.ReportSummary{
			TotalRevenue:     core.Money{Cents: total.revenue},
			TotalExpenses:    core.Money{Cents: total.expenses},
			GrossProfit:      core.Money{Cents: total.revenue - total.expenses},
			ProfitMargin:     margin(total.revenue, total.revenue-total.expenses),
			TransactionCount: total.count,
			WarehouseCount:   len(byWarehouse),
		},
	}
	for _, w := range s.warehouses {
		a := byWarehouse[w.ID]
		if a == nil {
			continue
		}
		report.Warehouses = append(report.Warehouses, core.WarehouseStats{
			Warehouse:        w,
			Revenue:          core.Money{Cents: a.revenue},
			Expenses:         core.Money{Cents: a.expenses},
			Profit:           core.Money{Cents: a.revenue - a.expenses},
			Margin:           margin(a.revenue, a.revenue-a.expenses),
			TransactionCount: a.count,
		})
	}
	return report, nil
}

func margin(revenue, profit int64) float64 {
	if revenue == 0 {
		return 0
	}
	return float64(profit) / float64(revenue) * 100
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
