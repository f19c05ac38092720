// Package api provides the HTTP handlers for the portfolio engine: the
// transaction ledger, derived holdings, portfolio valuation, price alerts,
// quotes, and the WebSocket upgrade endpoint.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/alert"
	"github.com/alphainsights/portfolio-engine/internal/events"
	"github.com/alphainsights/portfolio-engine/internal/holdings"
	"github.com/alphainsights/portfolio-engine/internal/model"
	"github.com/alphainsights/portfolio-engine/internal/quote"
	"github.com/alphainsights/portfolio-engine/internal/realtime"
	"github.com/alphainsights/portfolio-engine/internal/store"
	"github.com/alphainsights/portfolio-engine/internal/valuation"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	store     store.Store
	valuation *valuation.Service
	alerts    *alert.Service
	quotes    quote.Source
	hub       *realtime.Hub
	audit     *events.Publisher // nil when Kafka is not configured
}

// NewHandler creates the HTTP handler set.
func NewHandler(st store.Store, val *valuation.Service, al *alert.Service, quotes quote.Source, hub *realtime.Hub, audit *events.Publisher) *Handler {
	return &Handler{
		store:     st,
		valuation: val,
		alerts:    al,
		quotes:    quotes,
		hub:       hub,
		audit:     audit,
	}
}

// Routes mounts every endpoint under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/transactions", h.AppendTransaction)
			r.Get("/transactions", h.ListTransactions)
			r.Delete("/transactions/{txID}", h.DeleteTransaction)
			r.Get("/holdings", h.GetHoldings)
			r.Get("/portfolio", h.GetPortfolioSummary)

			r.Post("/alerts", h.CreateAlert)
			r.Get("/alerts", h.ListAlerts)
			r.Delete("/alerts/{alertID}", h.DeleteAlert)
			r.Put("/alerts/{alertID}/enable", h.EnableAlert)
			r.Put("/alerts/{alertID}/disable", h.DisableAlert)
		})
		r.Get("/quotes/{symbol}", h.GetQuote)
		r.Get("/market/status", h.GetMarketStatus)
		r.Get("/ws", h.hub.HandleWS)
	})
	r.Get("/health", h.Health)
}

// --- Request/Response types ---

// TransactionRequest is the JSON body for appending a ledger record.
type TransactionRequest struct {
	Symbol        string          `json:"symbol"`
	Type          string          `json:"type"` // "buy" or "sell"
	Shares        decimal.Decimal `json:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"` // defaults to now
}

// --- HTTP Handlers ---

// AppendTransaction handles POST /api/v1/users/{userID}/transactions
func (h *Handler) AppendTransaction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if req.Type != model.TransactionBuy && req.Type != model.TransactionSell {
		writeError(w, "type must be buy or sell", http.StatusBadRequest)
		return
	}
	if !req.Shares.IsPositive() {
		writeError(w, "shares must be positive", http.StatusBadRequest)
		return
	}
	if !req.PricePerShare.IsPositive() {
		writeError(w, "price_per_share must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	portfolio, err := h.store.GetOrCreatePortfolio(ctx, userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	tx := &model.Transaction{
		ID:            uuid.New().String(),
		PortfolioID:   portfolio.ID,
		Symbol:        req.Symbol,
		Kind:          req.Type,
		Shares:        req.Shares,
		PricePerShare: req.PricePerShare,
		Timestamp:     ts,
	}

	if err := h.store.AppendTransaction(ctx, tx); err != nil {
		if errors.Is(err, model.ErrInsufficientShares) {
			writeError(w, "sell exceeds held shares for "+req.Symbol, http.StatusUnprocessableEntity)
			return
		}
		writeError(w, "failed to record transaction", http.StatusInternalServerError)
		return
	}

	slog.Info("transaction appended",
		"id", tx.ID,
		"user", userID,
		"symbol", tx.Symbol,
		"type", tx.Kind,
		"shares", tx.Shares.String(),
		"price", tx.PricePerShare.String(),
	)
	h.audit.Publish(ctx, events.TypeTransactionAppended, userID, tx)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tx)
}

// ListTransactions handles GET /api/v1/users/{userID}/transactions
// Optional ?limit=N returns only the N most recent records.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	portfolio, err := h.store.GetOrCreatePortfolio(ctx, userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	txs, err := h.store.ListTransactions(ctx, portfolio.ID)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if limit < len(txs) {
			txs = txs[len(txs)-limit:]
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// DeleteTransaction handles DELETE /api/v1/users/{userID}/transactions/{txID}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	txID := chi.URLParam(r, "txID")
	ctx := r.Context()

	portfolio, err := h.store.GetOrCreatePortfolio(ctx, userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	if err := h.store.DeleteTransaction(ctx, txID, portfolio.ID); err != nil {
		if errors.Is(err, model.ErrTransactionNotFound) {
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to delete transaction", http.StatusInternalServerError)
		return
	}

	slog.Info("transaction deleted", "id", txID, "user", userID)
	h.audit.Publish(ctx, events.TypeTransactionDeleted, userID, map[string]string{"id": txID})

	w.WriteHeader(http.StatusNoContent)
}

// GetHoldings handles GET /api/v1/users/{userID}/holdings
// Holdings are derived from the ledger on every call, never stored.
func (h *Handler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	portfolio, err := h.store.GetOrCreatePortfolio(ctx, userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	txs, err := h.store.ListTransactions(ctx, portfolio.ID)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}

	bySymbol, err := holdings.Compute(txs)
	if err != nil {
		writeError(w, "ledger is inconsistent: "+err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]model.Holding, 0, len(bySymbol))
	for _, holding := range bySymbol {
		out = append(out, holding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// GetPortfolioSummary handles GET /api/v1/users/{userID}/portfolio
func (h *Handler) GetPortfolioSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	summary, err := h.valuation.GetPortfolioSummary(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to compute portfolio summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	q, err := h.quotes.GetQuote(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, model.ErrQuoteUnavailable) {
			writeError(w, "quote unavailable for "+symbol, http.StatusBadGateway)
			return
		}
		writeError(w, "failed to fetch quote", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// GetMarketStatus handles GET /api/v1/market/status
// Reports whether the US equity regular session is open.
func (h *Handler) GetMarketStatus(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().In(marketTZ)
	resp := map[string]interface{}{
		"open":      inRegularSession(now),
		"session":   "closed",
		"timestamp": now.UTC(),
	}
	if resp["open"].(bool) {
		resp["session"] = "regular"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

var marketTZ = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Fall back to a fixed Eastern offset when tzdata is unavailable.
		// Without DST rules the session window reads an hour late from
		// roughly March through November; ship tzdata to avoid this.
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// inRegularSession reports whether t falls in the 09:30-16:00 ET weekday
// window. Exchange holidays are not modeled.
func inRegularSession(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// --- Alerts ---

// AlertRequest is the JSON body for creating an alert.
type AlertRequest struct {
	Symbol      string          `json:"symbol"`
	Condition   string          `json:"condition"` // "above" or "below"
	TargetPrice decimal.Decimal `json:"target_price"`
}

// CreateAlert handles POST /api/v1/users/{userID}/alerts
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	a, err := h.alerts.Create(r.Context(), userID, req.Symbol, req.Condition, req.TargetPrice)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("alert created",
		"id", a.ID,
		"user", userID,
		"symbol", a.Symbol,
		"condition", a.Condition,
		"target", a.TargetPrice.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a)
}

// ListAlerts handles GET /api/v1/users/{userID}/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	alerts, err := h.alerts.List(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list alerts", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []model.PriceAlert{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

// DeleteAlert handles DELETE /api/v1/users/{userID}/alerts/{alertID}
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	alertID := chi.URLParam(r, "alertID")

	deleted, err := h.alerts.Delete(r.Context(), userID, alertID)
	if err != nil {
		writeError(w, "failed to delete alert", http.StatusInternalServerError)
		return
	}
	if !deleted {
		writeError(w, "alert not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// EnableAlert handles PUT /api/v1/users/{userID}/alerts/{alertID}/enable
// Re-enabling a triggered alert re-arms it.
func (h *Handler) EnableAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertEnabled(w, r, true)
}

// DisableAlert handles PUT /api/v1/users/{userID}/alerts/{alertID}/disable
func (h *Handler) DisableAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertEnabled(w, r, false)
}

func (h *Handler) setAlertEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	userID := chi.URLParam(r, "userID")
	alertID := chi.URLParam(r, "alertID")

	if err := h.alerts.SetEnabled(r.Context(), userID, alertID, enabled); err != nil {
		if errors.Is(err, model.ErrAlertNotFound) {
			writeError(w, "alert not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to update alert", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
