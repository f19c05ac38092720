// Package valuation merges derived holdings with live quotes to produce
// portfolio summaries.
package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/holdings"
	"github.com/alphainsights/portfolio-engine/internal/model"
	"github.com/alphainsights/portfolio-engine/internal/quote"
	"github.com/alphainsights/portfolio-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Service computes portfolio summaries on demand. Summaries are always
// recomputed from the ledger; nothing derived is trusted across requests.
type Service struct {
	store  store.Store
	quotes quote.Source
}

// NewService creates a valuation service over the given store and quote source
// (normally the TTL cache).
func NewService(st store.Store, quotes quote.Source) *Service {
	return &Service{store: st, quotes: quotes}
}

// GetPortfolioSummary recomputes the user's positions from the ledger and
// values them against current quotes. A holding whose quote is unavailable is
// valued at its average cost and flagged degraded, as is the whole summary.
// The computed total is cached onto the portfolio row as a convenience for
// display, never as truth.
func (s *Service) GetPortfolioSummary(ctx context.Context, userID string) (*model.PortfolioSummary, error) {
	p, err := s.store.GetOrCreatePortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio for %s: %w", userID, err)
	}

	txs, err := s.store.ListTransactions(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load ledger for %s: %w", p.ID, err)
	}

	positions, err := holdings.Compute(txs)
	if err != nil {
		return nil, fmt.Errorf("fold ledger for %s: %w", p.ID, err)
	}

	summary := &model.PortfolioSummary{
		PortfolioID: p.ID,
		UserID:      userID,
		Holdings:    make([]model.HoldingValuation, 0, len(positions)),
		ComputedAt:  time.Now().UTC(),
	}

	symbols := make([]string, 0, len(positions))
	for symbol := range positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		hv := s.value(ctx, positions[symbol])
		summary.Holdings = append(summary.Holdings, hv)
		summary.TotalMarketValue = summary.TotalMarketValue.Add(hv.MarketValue)
		summary.TotalCostBasis = summary.TotalCostBasis.Add(hv.CostBasis)
		summary.DailyChange = summary.DailyChange.Add(hv.DayChange)
		if hv.Degraded {
			summary.Degraded = true
		}
	}

	summary.TotalGainLoss = summary.TotalMarketValue.Sub(summary.TotalCostBasis)
	summary.TotalGainLossPct = percentOf(summary.TotalGainLoss, summary.TotalCostBasis)

	// Daily change percent is measured against yesterday's value, i.e.
	// today's market value minus today's move.
	prevValue := summary.TotalMarketValue.Sub(summary.DailyChange)
	summary.DailyChangePct = percentOf(summary.DailyChange, prevValue)

	if err := s.store.UpdatePortfolioValue(ctx, p.ID, summary.TotalMarketValue); err != nil {
		// Cache write only; the summary itself is complete.
		slog.Warn("portfolio value cache update failed", "portfolio", p.ID, "err", err)
	}

	return summary, nil
}

// value merges one holding with its quote, falling back to average cost when
// no quote can be produced.
func (s *Service) value(ctx context.Context, h model.Holding) model.HoldingValuation {
	hv := model.HoldingValuation{
		Symbol:      h.Symbol,
		Shares:      h.TotalShares,
		AverageCost: h.AverageCost,
		CostBasis:   h.TotalCostBasis,
	}

	q, err := s.quotes.GetQuote(ctx, h.Symbol)
	if err != nil {
		slog.Warn("valuing holding at average cost", "symbol", h.Symbol, "err", err)
		hv.Degraded = true
		hv.CurrentPrice = h.AverageCost
		hv.MarketValue = h.TotalShares.Mul(h.AverageCost)
		hv.GainLoss = hv.MarketValue.Sub(hv.CostBasis)
		hv.GainLossPercent = percentOf(hv.GainLoss, hv.CostBasis)
		// No previous close in degraded mode: day change stays zero.
		return hv
	}

	hv.CurrentPrice = q.Price
	hv.MarketValue = h.TotalShares.Mul(q.Price)
	hv.GainLoss = hv.MarketValue.Sub(hv.CostBasis)
	hv.GainLossPercent = percentOf(hv.GainLoss, hv.CostBasis)
	hv.DayChange = h.TotalShares.Mul(q.Price.Sub(q.PreviousClose))
	hv.DayChangePercent = percentOf(q.Price.Sub(q.PreviousClose), q.PreviousClose)
	return hv
}

// percentOf returns part/whole × 100, or zero when whole is not positive.
// Keeps every percentage field free of NaN/∞.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
