package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/alert"
	"github.com/alphainsights/portfolio-engine/internal/api"
	"github.com/alphainsights/portfolio-engine/internal/model"
	"github.com/alphainsights/portfolio-engine/internal/quote"
	"github.com/alphainsights/portfolio-engine/internal/realtime"
	"github.com/alphainsights/portfolio-engine/internal/store"
	"github.com/alphainsights/portfolio-engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv wires the full handler stack over an in-memory store and a
// static quote source.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	quotes := quote.NewStaticSource(map[string]decimal.Decimal{
		"AAPL": d(200),
		"MSFT": d(400),
	})
	val := valuation.NewService(ms, quotes)
	alerts := alert.NewService(ms)
	hub := realtime.NewHub()
	h := api.NewHandler(ms, val, alerts, quotes, hub, nil)

	r := chi.NewRouter()
	h.Routes(r)
	return ms, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func buy(t *testing.T, router chi.Router, user, symbol string, shares, price float64) {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/users/"+user+"/transactions", api.TransactionRequest{
		Symbol: symbol, Type: model.TransactionBuy, Shares: d(shares), PricePerShare: d(price),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("buy: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Transactions ---

func TestAppendTransaction(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/users/alice/transactions", api.TransactionRequest{
		Symbol: "aapl", Type: "buy", Shares: d(10), PricePerShare: d(150),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var tx model.Transaction
	json.Unmarshal(w.Body.Bytes(), &tx)
	if tx.ID == "" {
		t.Error("expected non-empty transaction id")
	}
	if tx.Symbol != "AAPL" {
		t.Errorf("symbol should be normalized to AAPL, got %q", tx.Symbol)
	}
	if tx.Seq == 0 {
		t.Error("expected assigned sequence")
	}
}

func TestAppendTransactionValidation(t *testing.T) {
	_, router := newTestEnv(t)

	cases := []struct {
		name string
		req  api.TransactionRequest
	}{
		{"missing symbol", api.TransactionRequest{Type: "buy", Shares: d(1), PricePerShare: d(1)}},
		{"bad type", api.TransactionRequest{Symbol: "AAPL", Type: "short", Shares: d(1), PricePerShare: d(1)}},
		{"zero shares", api.TransactionRequest{Symbol: "AAPL", Type: "buy", Shares: d(0), PricePerShare: d(1)}},
		{"negative price", api.TransactionRequest{Symbol: "AAPL", Type: "buy", Shares: d(1), PricePerShare: d(-5)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/users/alice/transactions", tc.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestOversellRejected(t *testing.T) {
	_, router := newTestEnv(t)
	buy(t, router, "alice", "AAPL", 10, 150)

	w := doJSON(t, router, "POST", "/api/v1/users/alice/transactions", api.TransactionRequest{
		Symbol: "AAPL", Type: "sell", Shares: d(15), PricePerShare: d(160),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	// The rejected sell must not have touched the ledger.
	lw := doJSON(t, router, "GET", "/api/v1/users/alice/transactions", nil)
	var txs []model.Transaction
	json.Unmarshal(lw.Body.Bytes(), &txs)
	if len(txs) != 1 {
		t.Errorf("ledger should hold 1 transaction, got %d", len(txs))
	}
}

func TestBackdatedOversellRejected(t *testing.T) {
	_, router := newTestEnv(t)
	buy(t, router, "alice", "AAPL", 10, 150)

	// Covered by the net total, but timestamped before the buy: at that point
	// in history nothing is held, so accepting it would corrupt the ledger.
	past := time.Now().Add(-time.Hour).UTC()
	w := doJSON(t, router, "POST", "/api/v1/users/alice/transactions", api.TransactionRequest{
		Symbol: "AAPL", Type: model.TransactionSell, Shares: d(10), PricePerShare: d(160),
		Timestamp: &past,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	// Holdings must still compute.
	hw := doJSON(t, router, "GET", "/api/v1/users/alice/holdings", nil)
	if hw.Code != http.StatusOK {
		t.Fatalf("holdings after rejected write: expected 200, got %d: %s", hw.Code, hw.Body.String())
	}
	var hs []model.Holding
	json.Unmarshal(hw.Body.Bytes(), &hs)
	if len(hs) != 1 || !hs[0].TotalShares.Equal(d(10)) {
		t.Errorf("holdings = %+v, want 10 AAPL", hs)
	}
}

func TestDeleteTransaction(t *testing.T) {
	_, router := newTestEnv(t)
	buy(t, router, "alice", "AAPL", 10, 150)

	lw := doJSON(t, router, "GET", "/api/v1/users/alice/transactions", nil)
	var txs []model.Transaction
	json.Unmarshal(lw.Body.Bytes(), &txs)
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}

	w := doJSON(t, router, "DELETE", "/api/v1/users/alice/transactions/"+txs[0].ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "DELETE", "/api/v1/users/alice/transactions/"+txs[0].ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}
}

func TestListTransactionsLimit(t *testing.T) {
	_, router := newTestEnv(t)
	buy(t, router, "alice", "AAPL", 1, 100)
	buy(t, router, "alice", "AAPL", 2, 100)
	buy(t, router, "alice", "AAPL", 3, 100)

	w := doJSON(t, router, "GET", "/api/v1/users/alice/transactions?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var txs []model.Transaction
	json.Unmarshal(w.Body.Bytes(), &txs)
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	// Limit keeps the most recent records.
	if !txs[0].Shares.Equal(d(2)) || !txs[1].Shares.Equal(d(3)) {
		t.Errorf("limit should keep the newest records, got shares %s, %s", txs[0].Shares, txs[1].Shares)
	}

	w = doJSON(t, router, "GET", "/api/v1/users/alice/transactions?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

// --- Holdings & portfolio ---

func TestGetHoldings(t *testing.T) {
	_, router := newTestEnv(t)
	buy(t, router, "alice", "AAPL", 10, 100)
	buy(t, router, "alice", "AAPL", 10, 200)
	buy(t, router, "alice", "MSFT", 5, 300)

	w := doJSON(t, router, "GET", "/api/v1/users/alice/holdings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var hs []model.Holding
	json.Unmarshal(w.Body.Bytes(), &hs)
	if len(hs) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(hs))
	}
	if hs[0].Symbol != "AAPL" || hs[1].Symbol != "MSFT" {
		t.Errorf("holdings should be sorted by symbol, got %s, %s", hs[0].Symbol, hs[1].Symbol)
	}
	if !hs[0].AverageCost.Equal(d(150)) {
		t.Errorf("AAPL average cost = %s, want 150", hs[0].AverageCost)
	}
}

func TestGetPortfolioSummary(t *testing.T) {
	_, router := newTestEnv(t)
	buy(t, router, "alice", "AAPL", 10, 150)

	w := doJSON(t, router, "GET", "/api/v1/users/alice/portfolio", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sum model.PortfolioSummary
	json.Unmarshal(w.Body.Bytes(), &sum)
	if !sum.TotalMarketValue.Equal(d(2000)) {
		t.Errorf("market value = %s, want 2000 (10 × 200)", sum.TotalMarketValue)
	}
	if !sum.TotalGainLoss.Equal(d(500)) {
		t.Errorf("gain = %s, want 500", sum.TotalGainLoss)
	}
}

func TestGetPortfolioSummaryEmptyUser(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/users/nobody/portfolio", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sum model.PortfolioSummary
	json.Unmarshal(w.Body.Bytes(), &sum)
	if !sum.TotalMarketValue.IsZero() {
		t.Errorf("empty portfolio market value = %s, want 0", sum.TotalMarketValue)
	}
}

// --- Quotes ---

func TestGetQuote(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/quotes/aapl", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var q model.Quote
	json.Unmarshal(w.Body.Bytes(), &q)
	if q.Symbol != "AAPL" || !q.Price.Equal(d(200)) {
		t.Errorf("quote = %s @ %s, want AAPL @ 200", q.Symbol, q.Price)
	}
}

func TestGetQuoteUnavailable(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/quotes/NOPE", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Alerts ---

func TestAlertLifecycle(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/users/alice/alerts", api.AlertRequest{
		Symbol: "AAPL", Condition: model.ConditionAbove, TargetPrice: d(250),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var a model.PriceAlert
	json.Unmarshal(w.Body.Bytes(), &a)
	if !a.Enabled || a.Triggered {
		t.Errorf("new alert should be enabled and untriggered, got enabled=%v triggered=%v", a.Enabled, a.Triggered)
	}

	w = doJSON(t, router, "GET", "/api/v1/users/alice/alerts", nil)
	var list []model.PriceAlert
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(list))
	}

	w = doJSON(t, router, "PUT", "/api/v1/users/alice/alerts/"+a.ID+"/disable", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("disable: expected 204, got %d", w.Code)
	}

	w = doJSON(t, router, "DELETE", "/api/v1/users/alice/alerts/"+a.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	w = doJSON(t, router, "DELETE", "/api/v1/users/alice/alerts/"+a.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}
}

func TestCreateAlertValidation(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/users/alice/alerts", api.AlertRequest{
		Symbol: "AAPL", Condition: "sideways", TargetPrice: d(250),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAlertOwnershipEnforced(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/users/alice/alerts", api.AlertRequest{
		Symbol: "AAPL", Condition: model.ConditionBelow, TargetPrice: d(100),
	})
	var a model.PriceAlert
	json.Unmarshal(w.Body.Bytes(), &a)

	w = doJSON(t, router, "DELETE", "/api/v1/users/bob/alerts/"+a.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-user delete: expected 404, got %d", w.Code)
	}
	w = doJSON(t, router, "PUT", "/api/v1/users/bob/alerts/"+a.ID+"/disable", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-user disable: expected 404, got %d", w.Code)
	}
}

func TestGetMarketStatus(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/market/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Open    bool   `json:"open"`
		Session string `json:"session"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Open && resp.Session != "regular" {
		t.Errorf("open market should report regular session, got %q", resp.Session)
	}
	if !resp.Open && resp.Session != "closed" {
		t.Errorf("closed market should report closed session, got %q", resp.Session)
	}
}

// --- Health ---

func TestHealth(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
