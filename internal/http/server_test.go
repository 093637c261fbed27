package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"anbor/internal/auth"
	"anbor/internal/core"
	"anbor/internal/ledger/memory"
)

type testEnv struct {
	srv     *Server
	store   *memory.Store
	durable *auth.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New(
		[]core.Warehouse{{ID: "wh-1", Name: "Dushanbe North", Emoji: "🏭", Color: "#4CAF50"}},
		[]core.CostType{{ID: "ct-1", Name: "Goods", IsDirect: true}},
	)

	durable := auth.NewMemoryStore()
	mgr, err := auth.NewManager(auth.Config{
		ClientID:  "test-client",
		Origin:    "http://localhost:8084",
		Durable:   durable,
		Ephemeral: auth.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	srv := NewServer(Options{
		Addr:           ":0",
		Auth:           mgr,
		Writer:         store,
		MetaReader:     store,
		MetaWriter:     store,
		ReportReader:   store,
		SnapReader:     store,
		ReportCacheTTL: time.Minute,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testEnv{srv: srv, store: store, durable: durable}
}

// signIn seeds a stored session the way a completed login would.
func (e *testEnv) signIn(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()

	identity, err := json.Marshal(auth.Identity{ID: "user-1", Email: email, Name: "Test User"})
	if err != nil {
		t.Fatalf("marshal identity: %v", err)
	}

	token := "access-token-" + email
	for key, value := range map[string]string{
		auth.KeyAuthToken: token,
		auth.KeyIDToken:   "id-token",
		auth.KeyUserData:  string(identity),
	} {
		if err := e.durable.Set(ctx, key, value); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}
	return token
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.srv.Server.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rr.Code)
		}
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/meta", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("without token status = %d, want 401", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/meta", "bogus-token", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("with unknown token status = %d, want 401", rr.Code)
	}
}

func TestMetaListsSeededEntities(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "viewer@somewhere.example")

	rr := env.do(http.MethodGet, "/api/meta", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("meta status = %d body=%s", rr.Code, rr.Body.String())
	}

	var resp metaResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if len(resp.Warehouses) != 1 || resp.Warehouses[0].Name != "Dushanbe North" {
		t.Errorf("warehouses = %+v", resp.Warehouses)
	}
	if len(resp.CostTypes) != 1 || !resp.CostTypes[0].IsDirect {
		t.Errorf("cost types = %+v", resp.CostTypes)
	}
}

func TestViewerCannotRecordTransactions(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "viewer@somewhere.example")

	body := `{"date":"2025-06-14","warehouse_id":"wh-1","cost_type_id":"ct-1","is_income":true,"amount":"1500.00","currency":"TJS"}`
	rr := env.do(http.MethodPost, "/api/txn", token, body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer txn status = %d, want 403", rr.Code)
	}
}

func TestClerkRecordsTransaction(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "clerk@warehouse.yourcompany.com")

	body := `{"date":"2025-06-14","warehouse_id":"wh-1","cost_type_id":"ct-1","is_income":true,"amount":"1500.00","currency":"TJS"}`
	rr := env.do(http.MethodPost, "/api/txn", token, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("txn status = %d body=%s", rr.Code, rr.Body.String())
	}

	var created createdResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == "" {
		t.Error("created id empty")
	}
}

func TestClerkCannotManageMetadata(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "clerk@warehouse.yourcompany.com")

	rr := env.do(http.MethodPost, "/api/warehouse", token, `{"name":"Kulob","emoji":"🏚","color":"#FF9800"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("clerk warehouse status = %d, want 403", rr.Code)
	}
}

func TestAdminCreatesWarehouseAndCostType(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "boss@admin.yourcompany.com")

	rr := env.do(http.MethodPost, "/api/warehouse", token, `{"name":"Kulob","emoji":"🏚","color":"#FF9800"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("warehouse status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/api/costType", token, `{"name":"Utilities","is_direct":false}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("cost type status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodGet, "/api/meta", token, "")
	var resp metaResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if len(resp.Warehouses) != 2 || len(resp.CostTypes) != 2 {
		t.Errorf("meta after creates = %d warehouses, %d cost types", len(resp.Warehouses), len(resp.CostTypes))
	}
}

func TestTxnValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "clerk@warehouse.yourcompany.com")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"garbage body", `{`, http.StatusBadRequest},
		{"unknown field", `{"date":"2025-06-14","bogus":1}`, http.StatusBadRequest},
		{"bad date", `{"date":"14-06-2025","warehouse_id":"wh-1","cost_type_id":"ct-1","amount":"10.00","currency":"TJS"}`, http.StatusUnprocessableEntity},
		{"bad amount", `{"date":"2025-06-14","warehouse_id":"wh-1","cost_type_id":"ct-1","amount":"-5","currency":"TJS"}`, http.StatusUnprocessableEntity},
		{"missing warehouse", `{"date":"2025-06-14","warehouse_id":"","cost_type_id":"ct-1","amount":"10.00","currency":"TJS"}`, http.StatusUnprocessableEntity},
		{"unknown currency", `{"date":"2025-06-14","warehouse_id":"wh-1","cost_type_id":"ct-1","amount":"10.00","currency":"EUR"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/api/txn", token, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body=%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestReportReflectsWritesThroughCache(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "clerk@warehouse.yourcompany.com")

	// Prime the cache with an empty month.
	rr := env.do(http.MethodGet, "/api/report?month=2025-06", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("report status = %d body=%s", rr.Code, rr.Body.String())
	}
	var before reportResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &before); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if before.Summary.TotalRevenue != 0 {
		t.Fatalf("empty month revenue = %v", before.Summary.TotalRevenue)
	}

	body := `{"date":"2025-06-14","warehouse_id":"wh-1","cost_type_id":"ct-1","is_income":true,"amount":"1500.00","currency":"TJS"}`
	if rr := env.do(http.MethodPost, "/api/txn", token, body); rr.Code != http.StatusCreated {
		t.Fatalf("txn status = %d", rr.Code)
	}

	// A write must invalidate the cached month.
	rr = env.do(http.MethodGet, "/api/report?month=2025-06", token, "")
	var after reportResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if after.Summary.TotalRevenue != 1500 {
		t.Errorf("revenue after write = %v, want 1500", after.Summary.TotalRevenue)
	}
	if len(after.Warehouses) != 1 || after.Warehouses[0].Name != "Dushanbe North" {
		t.Errorf("warehouses = %+v", after.Warehouses)
	}
}

func TestReportRejectsBadMonth(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "viewer@somewhere.example")

	for _, month := range []string{"2025-13", "June", "25-06"} {
		rr := env.do(http.MethodGet, "/api/report?month="+month, token, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("month %q status = %d, want 400", month, rr.Code)
		}
	}
}

func TestSnapshotListsMonthTransactions(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "clerk@warehouse.yourcompany.com")

	body := `{"date":"2025-06-14","warehouse_id":"wh-1","cost_type_id":"ct-1","is_income":false,"amount":"200.00","currency":"USD","amount_tjs":"2180.00"}`
	if rr := env.do(http.MethodPost, "/api/txn", token, body); rr.Code != http.StatusCreated {
		t.Fatalf("txn status = %d", rr.Code)
	}

	rr := env.do(http.MethodGet, "/api/snapshot?month=2025-06", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d body=%s", rr.Code, rr.Body.String())
	}
	var snap snapshotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Transactions) != 1 {
		t.Fatalf("transactions = %+v", snap.Transactions)
	}
	txn := snap.Transactions[0]
	if txn.Currency != "USD" || txn.Amount != "200.00" || txn.AmountTJS != "2180.00" {
		t.Errorf("txn = %+v", txn)
	}

	// Other months stay empty.
	rr = env.do(http.MethodGet, "/api/snapshot?month=2025-07", token, "")
	var other snapshotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &other); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(other.Transactions) != 0 {
		t.Errorf("july transactions = %+v", other.Transactions)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/healthz", "", "")
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestMetricsRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "clerk@warehouse.yourcompany.com")

	rr := env.do(http.MethodGet, "/api/metrics", token, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("metrics as clerk status = %d, want 403", rr.Code)
	}
}

func TestMetricsCountsSuspiciousRequests(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "boss@admin.yourcompany.com")

	// A path probe: served (as 404) but flagged and counted.
	rr := env.do(http.MethodGet, "/wp-admin/setup.php", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("probe path status = %d, want 404", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/metrics", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d body=%s", rr.Code, rr.Body.String())
	}

	var resp metricsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if resp.SuspiciousRequests != 1 {
		t.Errorf("suspicious_requests = %d, want 1", resp.SuspiciousRequests)
	}
	if resp.TotalRequests < 2 {
		t.Errorf("total_requests = %d, want at least 2", resp.TotalRequests)
	}
}
