// Package model defines the core domain types shared across the portfolio engine.
// All monetary values and share quantities use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction kinds.
const (
	TransactionBuy  = "buy"
	TransactionSell = "sell"
)

// Alert conditions.
const (
	ConditionAbove = "above"
	ConditionBelow = "below"
)

// Notification types.
const (
	NotificationPriceAlert      = "price_alert"
	NotificationPortfolioUpdate = "portfolio_update"
)

// Transaction is an immutable record of a buy or sell event. Once written it
// is never mutated; administrative correction is delete followed by recompute.
// Seq is the insertion order assigned by the store and breaks timestamp ties
// so the ledger fold is deterministic.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	PortfolioID   string          `json:"portfolio_id" db:"portfolio_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Kind          string          `json:"kind" db:"kind"` // "buy" or "sell"
	Shares        decimal.Decimal `json:"shares" db:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	Seq           int64           `json:"-" db:"seq"`
}

// Portfolio is the container row for one user's ledger. TotalValue is a cache
// of the last computed market value, never read back as truth.
type Portfolio struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Name       string          `json:"name" db:"name"`
	TotalValue decimal.Decimal `json:"total_value" db:"total_value"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Holding is a derived position for one symbol, recomputed from the ledger.
// AverageCost = TotalCostBasis / TotalShares.
type Holding struct {
	Symbol         string          `json:"symbol"`
	TotalShares    decimal.Decimal `json:"total_shares"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	AverageCost    decimal.Decimal `json:"average_cost"`
}

// Quote is a point-in-time price observation from the market data source.
// Cached with a short TTL, never persisted long-term.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// HoldingValuation is one holding merged with its live quote. Degraded means
// no quote was available and AverageCost stands in for the current price.
type HoldingValuation struct {
	Symbol           string          `json:"symbol"`
	Shares           decimal.Decimal `json:"shares"`
	AverageCost      decimal.Decimal `json:"average_cost"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	CostBasis        decimal.Decimal `json:"cost_basis"`
	MarketValue      decimal.Decimal `json:"market_value"`
	GainLoss         decimal.Decimal `json:"gain_loss"`
	GainLossPercent  decimal.Decimal `json:"gain_loss_percent"`
	DayChange        decimal.Decimal `json:"day_change"`
	DayChangePercent decimal.Decimal `json:"day_change_percent"`
	Degraded         bool            `json:"degraded"`
}

// PortfolioSummary is computed on demand and never persisted. Degraded is set
// when any holding was valued without a live quote.
type PortfolioSummary struct {
	PortfolioID      string             `json:"portfolio_id"`
	UserID           string             `json:"user_id"`
	TotalMarketValue decimal.Decimal    `json:"total_market_value"`
	TotalCostBasis   decimal.Decimal    `json:"total_cost_basis"`
	TotalGainLoss    decimal.Decimal    `json:"total_gain_loss"`
	TotalGainLossPct decimal.Decimal    `json:"total_gain_loss_percent"`
	DailyChange      decimal.Decimal    `json:"daily_change"`
	DailyChangePct   decimal.Decimal    `json:"daily_change_percent"`
	Holdings         []HoldingValuation `json:"holdings"`
	Degraded         bool               `json:"degraded"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// PriceAlert transitions Enabled+Untriggered → Triggered exactly once, or is
// disabled/deleted by the user. A triggered alert is never re-armed
// automatically; re-enabling via the API resets it to untriggered.
type PriceAlert struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"user_id" db:"user_id"`
	Symbol         string           `json:"symbol" db:"symbol"`
	Condition      string           `json:"condition" db:"condition"` // "above" or "below"
	TargetPrice    decimal.Decimal  `json:"target_price" db:"target_price"`
	Enabled        bool             `json:"enabled" db:"enabled"`
	Triggered      bool             `json:"triggered" db:"triggered"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	TriggeredAt    *time.Time       `json:"triggered_at,omitempty" db:"triggered_at"`
	TriggeredPrice *decimal.Decimal `json:"triggered_price,omitempty" db:"triggered_price"`
}

// Notification is the payload delivered to a connected user's channel.
// Delivery is best-effort; disconnected users are dropped, not queued.
type Notification struct {
	Type         string            `json:"type"`
	Symbol       string            `json:"symbol,omitempty"`
	Condition    string            `json:"condition,omitempty"`
	TargetPrice  *decimal.Decimal  `json:"target_price,omitempty"`
	CurrentPrice *decimal.Decimal  `json:"current_price,omitempty"`
	Summary      *PortfolioSummary `json:"summary,omitempty"`
	Message      string            `json:"message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}
