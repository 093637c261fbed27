// Package google adapts the ledger ports to a Google Sheets spreadsheet.
// Transactions append to a year-prefixed sheet; reports are read from the
// report sheets where the spreadsheet itself performs the aggregation.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"anbor/internal/core"
	"anbor/internal/ledger"
)

type Client struct {
	svc               *gsheet.Service
	spreadsheetID     string
	transactionsSheet string
	warehousesSheet   string
	costTypesSheet    string
	// Base name for monthly report sheets; "<base> <YYYY-MM>" holds the
	// ledger-computed figures for one month.
	reportBase string
}

// Ensure interface conformance
var (
	_ ledger.TransactionWriter = (*Client)(nil)
	_ ledger.MetadataReader    = (*Client)(nil)
	_ ledger.MetadataWriter    = (*Client)(nil)
	_ ledger.ReportReader      = (*Client)(nil)
	_ ledger.SnapshotReader    = (*Client)(nil)
)

// NewFromEnv creates a Sheets-backed ledger from environment variables.
// Required: GOOGLE_SPREADSHEET_ID.
// Optional sheet names: GOOGLE_TRANSACTIONS_SHEET (default "Transactions",
// year-prefixed), GOOGLE_WAREHOUSES_SHEET (default "Warehouses"),
// GOOGLE_COST_TYPES_SHEET (default "CostTypes"), GOOGLE_REPORT_SHEET
// (default "Report", month-suffixed).
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	transactionsBase := envOr("GOOGLE_TRANSACTIONS_SHEET", "Transactions")
	warehouses := envOr("GOOGLE_WAREHOUSES_SHEET", "Warehouses")
	costTypes := envOr("GOOGLE_COST_TYPES_SHEET", "CostTypes")
	reportBase := envOr("GOOGLE_REPORT_SHEET", "Report")

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:               svc,
		spreadsheetID:     spreadsheetID,
		transactionsSheet: yearPrefixedName(transactionsBase, time.Now().Year()),
		warehousesSheet:   warehouses,
		costTypesSheet:    costTypes,
		reportBase:        reportBase,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account
// credentials from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE
// or GOOGLE_APPLICATION_CREDENTIALS, then a user token saved by
// cmd/oauth-init (GOOGLE_OAUTH_TOKEN_FILE), falling back to ADC.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	}
	if credentialsJSON != nil {
		return gsheet.NewService(ctx,
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	}

	ts, err := userTokenSource(ctx)
	if err != nil {
		return nil, err
	}
	if ts != nil {
		slog.InfoContext(ctx, "Using saved OAuth user token",
			"component", "ledger")
		return gsheet.NewService(ctx, goption.WithTokenSource(ts))
	}

	slog.InfoContext(ctx, "No credentials configured, using application default credentials",
		"component", "ledger")
	return gsheet.NewService(ctx, goption.WithScopes(gsheet.SpreadsheetsScope))
}

// userTokenSource loads the token written by cmd/oauth-init together with
// the OAuth client it was issued to. Returns nil when GOOGLE_OAUTH_TOKEN_FILE
// is unset; the source refreshes the token transparently when it carries a
// refresh token.
func userTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tokenFile := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"))
	if tokenFile == "" {
		return nil, nil
	}

	var clientJSON []byte
	switch {
	case os.Getenv("GOOGLE_OAUTH_CLIENT_JSON") != "":
		clientJSON = []byte(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"))
	case os.Getenv("GOOGLE_OAUTH_CLIENT_FILE") != "":
		b, err := os.ReadFile(os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"))
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
		clientJSON = b
	default:
		return nil, errors.New("GOOGLE_OAUTH_TOKEN_FILE set without GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
	}

	cfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}

	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}

	return cfg.TokenSource(ctx, &tok), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func yearPrefixedName(base string, year int) string {
	return fmt.Sprintf("%d %s", year, base)
}

// Append writes the transaction as a new row and returns its ledger ref.
func (c *Client) Append(ctx context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.AmountTJS.Cents == 0 {
		t.AmountTJS = t.Amount
	}

	kind := "Expense"
	if t.IsIncome {
		kind = "Income"
	}
	row := []interface{}{
		t.Date.Format("2006-01-02"),
		t.WarehouseID,
		t.CostTypeID,
		kind,
		formatCents(t.Amount.Cents),
		strings.ToUpper(t.Currency),
		formatCents(t.AmountTJS.Cents),
		t.ID,
	}

	vr := &gsheet.ValueRange{Values: [][]interface{}{row}}
	resp, err := c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, c.transactionsSheet+"!A:H", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append transaction: %w", err)
	}

	ref := t.ID
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Transaction appended to ledger",
		"component", "ledger",
		"operation", "append",
		"txn_id", t.ID,
		"warehouse_id", t.WarehouseID,
		"amount_cents", t.AmountTJS.Cents,
		"ledger_ref", ref)
	return ref, nil
}

// Metadata reads the warehouse and cost type reference sheets.
func (c *Client) Metadata(ctx context.Context) ([]core.Warehouse, []core.CostType, error) {
	whValues, err := c.readRange(ctx, c.warehousesSheet+"!A:D")
	if err != nil {
		return nil, nil, fmt.Errorf("read warehouses: %w", err)
	}
	ctValues, err := c.readRange(ctx, c.costTypesSheet+"!A:C")
	if err != nil {
		return nil, nil, fmt.Errorf("read cost types: %w", err)
	}
	return parseWarehouses(whValues), parseCostTypes(ctValues), nil
}

func (c *Client) AddWarehouse(ctx context.Context, w core.Warehouse) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	w.ID = uuid.NewString()
	row := []interface{}{w.ID, w.Name, w.Emoji, w.Color}
	if err := c.appendRow(ctx, c.warehousesSheet+"!A:D", row); err != nil {
		return "", fmt.Errorf("append warehouse: %w", err)
	}
	return w.ID, nil
}

func (c *Client) AddCostType(ctx context.Context, ct core.CostType) (string, error) {
	if err := ct.Validate(); err != nil {
		return "", err
	}
	ct.ID = uuid.NewString()
	row := []interface{}{ct.ID, ct.Name, boolCell(ct.IsDirect)}
	if err := c.appendRow(ctx, c.costTypesSheet+"!A:C", row); err != nil {
		return "", fmt.Errorf("append cost type: %w", err)
	}
	return ct.ID, nil
}

// ReadReport reads the precomputed report sheet for a month. The figures
// come from the spreadsheet's own formulas; nothing is recomputed here.
func (c *Client) ReadReport(ctx context.Context, month string) (core.Report, error) {
	if err := core.ValidateMonthKey(month); err != nil {
		return core.Report{}, err
	}
	sheet := fmt.Sprintf("%s %s", c.reportBase, month)
	values, err := c.readRange(ctx, sheet+"!A:H")
	if err != nil {
		return core.Report{}, fmt.Errorf("read report sheet %q: %w", sheet, err)
	}
	return parseReport(values, month)
}

// ListTransactions returns the transactions for the month of the
// year-prefixed transactions sheet matching the month's year.
func (c *Client) ListTransactions(ctx context.Context, month string) ([]core.Transaction, error) {
	if err := core.ValidateMonthKey(month); err != nil {
		return nil, err
	}
	sheet := c.transactionsSheet
	if year := month[:4]; !strings.HasPrefix(sheet, year) {
		base := strings.TrimLeft(sheet, "0123456789 ")
		sheet = year + " " + base
	}
	values, err := c.readRange(ctx, sheet+"!A:H")
	if err != nil {
		return nil, fmt.Errorf("read transactions sheet %q: %w", sheet, err)
	}
	return parseTransactions(values, month), nil
}

func (c *Client) readRange(ctx context.Context, readRange string) ([][]interface{}, error) {
	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, readRange).
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (c *Client) appendRow(ctx context.Context, rng string, row []interface{}) error {
	vr := &gsheet.ValueRange{Values: [][]interface{}{row}}
	_, err := c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return err
}

func formatCents(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if neg {
		return "-" + s
	}
	return s
}

func boolCell(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
