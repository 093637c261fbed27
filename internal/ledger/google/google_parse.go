package google

import (
	"fmt"
	"strconv"
	"strings"

	"anbor/internal/core"
)

// parseReport converts a report sheet values matrix into a core.Report.
// Expected headers: Warehouse, Emoji, Color, Revenue, Expenses, Profit,
// Margin, Transactions; a "Total" row carries the month summary.
func parseReport(values [][]interface{}, month string) (core.Report, error) {
	report := core.Report{Month: month}
	if len(values) == 0 {
		return report, nil
	}

	headers := toStrings(values[0])
	cols := map[string]int{}
	for _, name := range []string{"Warehouse", "Emoji", "Color", "Revenue", "Expenses", "Profit", "Margin", "Transactions"} {
		idx := indexOf(headers, name)
		if idx == -1 && (name == "Warehouse" || name == "Revenue" || name == "Expenses") {
			return core.Report{}, fmt.Errorf("unexpected report header: missing %s; got headers=%v", name, headers)
		}
		cols[name] = idx
	}

	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		name := strings.TrimSpace(safeGet(row, cols["Warehouse"]))
		if name == "" {
			continue
		}

		revenue, _ := parseMoneyToCents(safeGet(row, cols["Revenue"]))
		expenses, _ := parseMoneyToCents(safeGet(row, cols["Expenses"]))
		profit, profitOK := parseMoneyToCents(safeGet(row, cols["Profit"]))
		if !profitOK {
			profit = revenue - expenses
		}
		marginVal := parsePercent(safeGet(row, cols["Margin"]))
		count := parseCount(safeGet(row, cols["Transactions"]))

		if strings.EqualFold(name, "total") {
			report.Summary = core.ReportSummary{
				TotalRevenue:     core.Money{Cents: revenue},
				TotalExpenses:    core.Money{Cents: expenses},
				GrossProfit:      core.Money{Cents: profit},
				ProfitMargin:     marginVal,
				TransactionCount: count,
			}
			continue
		}

		report.Warehouses = append(report.Warehouses, core.WarehouseStats{
			Warehouse: core.Warehouse{
				ID:    name,
				Name:  name,
				Emoji: strings.TrimSpace(safeGet(row, cols["Emoji"])),
				Color: strings.TrimSpace(safeGet(row, cols["Color"])),
			},
			Revenue:          core.Money{Cents: revenue},
			Expenses:         core.Money{Cents: expenses},
			Profit:           core.Money{Cents: profit},
			Margin:           marginVal,
			TransactionCount: count,
		})
	}
	report.Summary.WarehouseCount = len(report.Warehouses)
	return report, nil
}

// parseTransactions filters transaction rows down to the requested month.
// Row layout matches Append: Date, Warehouse, CostType, Type, Amount,
// Currency, AmountTJS, ID. A header row is skipped when present.
func parseTransactions(values [][]interface{}, month string) []core.Transaction {
	var out []core.Transaction
	for i, rowVals := range values {
		row := toStrings(rowVals)
		dateStr := strings.TrimSpace(safeGet(row, 0))
		date, err := core.ParseDate(dateStr)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			continue
		}
		if date.MonthKey() != month {
			continue
		}
		amount, _ := parseMoneyToCents(safeGet(row, 4))
		amountTJS, ok := parseMoneyToCents(safeGet(row, 6))
		if !ok {
			amountTJS = amount
		}
		out = append(out, core.Transaction{
			ID:          strings.TrimSpace(safeGet(row, 7)),
			Date:        date,
			WarehouseID: strings.TrimSpace(safeGet(row, 1)),
			CostTypeID:  strings.TrimSpace(safeGet(row, 2)),
			IsIncome:    strings.EqualFold(strings.TrimSpace(safeGet(row, 3)), "income"),
			Amount:      core.Money{Cents: amount},
			Currency:    strings.ToUpper(strings.TrimSpace(safeGet(row, 5))),
			AmountTJS:   core.Money{Cents: amountTJS},
		})
	}
	return out
}

func parseWarehouses(values [][]interface{}) []core.Warehouse {
	var out []core.Warehouse
	for i, rowVals := range values {
		row := toStrings(rowVals)
		id := strings.TrimSpace(safeGet(row, 0))
		name := strings.TrimSpace(safeGet(row, 1))
		if id == "" || name == "" {
			continue
		}
		if i == 0 && strings.EqualFold(id, "id") {
			continue
		}
		out = append(out, core.Warehouse{
			ID:    id,
			Name:  name,
			Emoji: strings.TrimSpace(safeGet(row, 2)),
			Color: strings.TrimSpace(safeGet(row, 3)),
		})
	}
	return out
}

func parseCostTypes(values [][]interface{}) []core.CostType {
	var out []core.CostType
	for i, rowVals := range values {
		row := toStrings(rowVals)
		id := strings.TrimSpace(safeGet(row, 0))
		name := strings.TrimSpace(safeGet(row, 1))
		if id == "" || name == "" {
			continue
		}
		if i == 0 && strings.EqualFold(id, "id") {
			continue
		}
		out = append(out, core.CostType{
			ID:       id,
			Name:     name,
			IsDirect: parseBoolCell(safeGet(row, 2)),
		})
	}
	return out
}

// parseMoneyToCents parses a sheet cell like "12 345.67", "12345,67" or
// "-500" into cents. The boolean reports whether the cell held a number.
func parseMoneyToCents(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSuffix(s, "TJS")
	s = strings.ReplaceAll(s, ",", ".")

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	parts := strings.SplitN(s, ".", 2)
	iv, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, false
	}
	var frac int64
	if len(parts) == 2 && parts[1] != "" {
		fracStr := parts[1]
		if len(fracStr) > 2 {
			fracStr = fracStr[:2]
		}
		for len(fracStr) < 2 {
			fracStr += "0"
		}
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, false
		}
	}
	cents := iv*100 + frac
	if neg {
		cents = -cents
	}
	return cents, true
}

func parsePercent(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseCount(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

func parseBoolCell(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "x":
		return true
	}
	return false
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprintf("%v", v)
	}
	return out
}

func indexOf(haystack []string, needle string) int {
	for i, v := range haystack {
		if strings.EqualFold(strings.TrimSpace(v), needle) {
			return i
		}
	}
	return -1
}

func safeGet(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
