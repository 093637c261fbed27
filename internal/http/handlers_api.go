package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"anbor/internal/core"
)

// ledgerTimeout bounds remote ledger calls so a slow spreadsheet does
// not hang API responses.
const ledgerTimeout = 7 * time.Second

type warehouseDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
	Color string `json:"color"`
}

type costTypeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsDirect bool   `json:"is_direct"`
}

type transactionDTO struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	WarehouseID string `json:"warehouse_id"`
	CostTypeID  string `json:"cost_type_id"`
	IsIncome    bool   `json:"is_income"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	AmountTJS   string `json:"amount_tjs"`
}

type metaResponse struct {
	Warehouses []warehouseDTO `json:"warehouses"`
	CostTypes  []costTypeDTO  `json:"cost_types"`
}

type createdResponse struct {
	ID string `json:"id"`
}

type reportSummaryDTO struct {
	TotalRevenue     float64 `json:"total_revenue"`
	TotalExpenses    float64 `json:"total_expenses"`
	GrossProfit      float64 `json:"gross_profit"`
	ProfitMargin     float64 `json:"profit_margin"`
	TransactionCount int     `json:"transaction_count"`
	WarehouseCount   int     `json:"warehouse_count"`
}

type warehouseStatsDTO struct {
	warehouseDTO
	Revenue          float64 `json:"revenue"`
	Expenses         float64 `json:"expenses"`
	Profit           float64 `json:"profit"`
	Margin           float64 `json:"margin"`
	TransactionCount int     `json:"transaction_count"`
}

type reportResponse struct {
	Month      string              `json:"month"`
	Summary    reportSummaryDTO    `json:"summary"`
	Warehouses []warehouseStatsDTO `json:"warehouses"`
}

type snapshotResponse struct {
	Month        string           `json:"month"`
	Transactions []transactionDTO `json:"transactions"`
}

type metricsResponse struct {
	TotalRequests      int64 `json:"total_requests"`
	LastResponseMicros int64 `json:"last_response_micros"`
	SuspiciousRequests int64 `json:"suspicious_requests"`
	RateLimitedClients int   `json:"rate_limited_clients"`
	CachedReports      int   `json:"cached_reports"`
	CachedSnapshots    int   `json:"cached_snapshots"`
}

func warehouseToDTO(w core.Warehouse) warehouseDTO {
	return warehouseDTO{ID: w.ID, Name: w.Name, Emoji: w.Emoji, Color: w.Color}
}

func transactionToDTO(t core.Transaction) transactionDTO {
	return transactionDTO{
		ID:          t.ID,
		Date:        t.Date.Format("2006-01-02"),
		WarehouseID: t.WarehouseID,
		CostTypeID:  t.CostTypeID,
		IsIncome:    t.IsIncome,
		Amount:      decimalString(t.Amount.Cents),
		Currency:    t.Currency,
		AmountTJS:   decimalString(t.AmountTJS.Cents),
	}
}

func reportToResponse(rep core.Report) reportResponse {
	resp := reportResponse{
		Month: rep.Month,
		Summary: reportSummaryDTO{
			TotalRevenue:     rep.Summary.TotalRevenue.Somoni(),
			TotalExpenses:    rep.Summary.TotalExpenses.Somoni(),
			GrossProfit:      rep.Summary.GrossProfit.Somoni(),
			ProfitMargin:     rep.Summary.ProfitMargin,
			TransactionCount: rep.Summary.TransactionCount,
			WarehouseCount:   rep.Summary.WarehouseCount,
		},
		Warehouses: make([]warehouseStatsDTO, 0, len(rep.Warehouses)),
	}
	for _, ws := range rep.Warehouses {
		resp.Warehouses = append(resp.Warehouses, warehouseStatsDTO{
			warehouseDTO:     warehouseToDTO(ws.Warehouse),
			Revenue:          ws.Revenue.Somoni(),
			Expenses:         ws.Expenses.Somoni(),
			Profit:           ws.Profit.Somoni(),
			Margin:           ws.Margin,
			TransactionCount: ws.TransactionCount,
		})
	}
	return resp
}

// handleMeta returns the warehouses and cost types transactions are
// booked against.
func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
	defer cancel()

	warehouses, costTypes, err := s.metaReader.Metadata(ctx)
	if err != nil {
		slog.ErrorContext(r.Context(), "Metadata read failed", "error", err)
		writeError(w, http.StatusBadGateway, "could not load metadata")
		return
	}

	resp := metaResponse{
		Warehouses: make([]warehouseDTO, 0, len(warehouses)),
		CostTypes:  make([]costTypeDTO, 0, len(costTypes)),
	}
	for _, wh := range warehouses {
		resp.Warehouses = append(resp.Warehouses, warehouseToDTO(wh))
	}
	for _, ct := range costTypes {
		resp.CostTypes = append(resp.CostTypes, costTypeDTO{ID: ct.ID, Name: ct.Name, IsDirect: ct.IsDirect})
	}

	writeJSON(w, http.StatusOK, resp)
}

type createTxnRequest struct {
	Date        string `json:"date"`
	WarehouseID string `json:"warehouse_id"`
	CostTypeID  string `json:"cost_type_id"`
	IsIncome    bool   `json:"is_income"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	AmountTJS   string `json:"amount_tjs"`
}

// handleCreateTxn records a transaction and invalidates the cached
// report for its month.
func (s *Server) handleCreateTxn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createTxnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := core.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid date, want YYYY-MM-DD")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}

	txn := core.Transaction{
		Date:        date,
		WarehouseID: sanitizeInput(req.WarehouseID),
		CostTypeID:  sanitizeInput(req.CostTypeID),
		IsIncome:    req.IsIncome,
		Amount:      core.Money{Cents: cents},
		Currency:    strings.ToUpper(sanitizeInput(req.Currency)),
	}
	if req.AmountTJS != "" {
		tjsCents, err := core.ParseDecimalToCents(req.AmountTJS)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid amount_tjs")
			return
		}
		txn.AmountTJS = core.Money{Cents: tjsCents}
	}

	if err := txn.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
	defer cancel()

	id, err := s.writer.Append(ctx, txn)
	if err != nil {
		slog.ErrorContext(r.Context(), "Transaction append failed",
			"error", err,
			"warehouse_id", txn.WarehouseID,
			"amount_cents", txn.Amount.Cents)
		writeError(w, http.StatusBadGateway, "could not record transaction")
		return
	}

	s.invalidateMonth(txn.Date.MonthKey())

	slog.InfoContext(r.Context(), "Transaction recorded",
		"txn_id", id,
		"warehouse_id", txn.WarehouseID,
		"is_income", txn.IsIncome,
		"amount_cents", txn.Amount.Cents)

	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

type createWarehouseRequest struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
	Color string `json:"color"`
}

func (s *Server) handleCreateWarehouse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createWarehouseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh := core.Warehouse{
		Name:  sanitizeInput(req.Name),
		Emoji: strings.TrimSpace(req.Emoji),
		Color: strings.TrimSpace(req.Color),
	}
	if err := wh.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
	defer cancel()

	id, err := s.metaWriter.AddWarehouse(ctx, wh)
	if err != nil {
		slog.ErrorContext(r.Context(), "Warehouse create failed", "error", err, "name", wh.Name)
		writeError(w, http.StatusBadGateway, "could not create warehouse")
		return
	}

	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

type createCostTypeRequest struct {
	Name     string `json:"name"`
	IsDirect bool   `json:"is_direct"`
}

func (s *Server) handleCreateCostType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createCostTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ct := core.CostType{
		Name:     sanitizeInput(req.Name),
		IsDirect: req.IsDirect,
	}
	if err := ct.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
	defer cancel()

	id, err := s.metaWriter.AddCostType(ctx, ct)
	if err != nil {
		slog.ErrorContext(r.Context(), "Cost type create failed", "error", err, "name", ct.Name)
		writeError(w, http.StatusBadGateway, "could not create cost type")
		return
	}

	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// handleReport serves the monthly profit/loss report, cached per month.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	month := monthParam(r)
	if err := core.ValidateMonthKey(month); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if rep, ok := s.reportCache.Get(month); ok {
		slog.DebugContext(r.Context(), "Report cache hit", "month", month)
		writeJSON(w, http.StatusOK, reportToResponse(rep))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
	defer cancel()

	rep, err := s.reportReader.ReadReport(ctx, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "Report read failed", "error", err, "month", month)
		writeError(w, http.StatusBadGateway, "could not load report")
		return
	}

	s.reportCache.Set(month, rep)
	writeJSON(w, http.StatusOK, reportToResponse(rep))
}

// handleSnapshot serves the raw transaction list behind a monthly
// report.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	month := monthParam(r)
	if err := core.ValidateMonthKey(month); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, ok := s.snapshotCache.Get(month)
	if !ok {
		ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
		defer cancel()

		txns, err := s.snapReader.ListTransactions(ctx, month)
		if err != nil {
			slog.ErrorContext(r.Context(), "Snapshot read failed", "error", err, "month", month)
			writeError(w, http.StatusBadGateway, "could not load snapshot")
			return
		}
		snap = core.Snapshot{Month: month, Transactions: txns}
		s.snapshotCache.Set(month, snap)
	}

	resp := snapshotResponse{
		Month:        snap.Month,
		Transactions: make([]transactionDTO, 0, len(snap.Transactions)),
	}
	for _, t := range snap.Transactions {
		resp.Transactions = append(resp.Transactions, transactionToDTO(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics exposes server counters for operational checks.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requests := s.tracer.GetMetrics()
	detection := s.detector.GetMetrics()

	writeJSON(w, http.StatusOK, metricsResponse{
		TotalRequests:      requests.TotalRequests,
		LastResponseMicros: requests.LastResponseMicros,
		SuspiciousRequests: detection.SuspiciousRequests,
		RateLimitedClients: s.limiter.ActiveClients(),
		CachedReports:      s.reportCache.Size(),
		CachedSnapshots:    s.snapshotCache.Size(),
	})
}
