package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	Date struct {
		time.Time
	}

	// Money is an amount in the smallest currency unit (dirams for TJS).
	Money struct {
		Cents int64
	}

	// Warehouse is a profit center transactions are booked against.
	Warehouse struct {
		ID    string
		Name  string
		Emoji string
		Color string
	}

	// CostType classifies a transaction. Direct cost types count against
	// gross profit; indirect ones are overhead.
	CostType struct {
		ID       string
		Name     string
		IsDirect bool
	}

	// Transaction is a single income or expense entry for a warehouse.
	// Amount is in the original currency; AmountTJS is the converted
	// amount the reports are computed in.
	Transaction struct {
		ID          string
		Date        Date
		WarehouseID string
		CostTypeID  string
		IsIncome    bool
		Amount      Money
		Currency    string
		AmountTJS   Money
	}
)

var (
	ErrInvalidDay      = errors.New("invalid day")
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrEmptyWarehouse  = errors.New("empty warehouse id")
	ErrEmptyCostType   = errors.New("empty cost type id")
	ErrEmptyName       = errors.New("empty name")
)

// SupportedCurrencies are the currencies a transaction may be entered in.
// Reports are always expressed in TJS.
var SupportedCurrencies = []string{"TJS", "USD", "RUB", "CNY"}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// MonthKey returns the YYYY-MM key used by reports and snapshots.
func (d Date) MonthKey() string {
	return d.Format("2006-01")
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (w Warehouse) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return ErrEmptyName
	}
	if len(w.Name) > 100 {
		return errors.New("warehouse name too long (max 100 characters)")
	}
	return nil
}

func (c CostType) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 100 {
		return errors.New("cost type name too long (max 100 characters)")
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.WarehouseID) == "" {
		return ErrEmptyWarehouse
	}
	if strings.TrimSpace(t.CostTypeID) == "" {
		return ErrEmptyCostType
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	cur := strings.ToUpper(strings.TrimSpace(t.Currency))
	for _, c := range SupportedCurrencies {
		if cur == c {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidCurrency, t.Currency)
}

// ValidateMonthKey checks a YYYY-MM report key.
func ValidateMonthKey(month string) error {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return fmt.Errorf("invalid month %q: want YYYY-MM", month)
	}
	if t.Year() < 2000 || t.Year() > 2100 {
		return fmt.Errorf("invalid month %q: year out of range", month)
	}
	return nil
}
