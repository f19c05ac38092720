// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development). The transaction ledger is append-only: rows are
// inserted or deleted (administrative correction), never updated.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/model"
)

// Store is the persistence interface.
type Store interface {
	// --- Portfolios ---

	// GetOrCreatePortfolio returns the user's portfolio, creating it on
	// first access.
	GetOrCreatePortfolio(ctx context.Context, userID string) (*model.Portfolio, error)

	// UpdatePortfolioValue caches the last computed market value on the
	// portfolio row. The cached value is never read back as truth.
	UpdatePortfolioValue(ctx context.Context, portfolioID string, total decimal.Decimal) error

	// --- Transaction ledger ---

	// AppendTransaction appends a buy/sell record, assigning its insertion
	// sequence. A sell that would drive the symbol's held shares negative is
	// rejected with model.ErrInsufficientShares and the ledger is unchanged.
	AppendTransaction(ctx context.Context, tx *model.Transaction) error

	// ListTransactions returns a portfolio's full ledger ordered by
	// (timestamp, seq) ascending.
	ListTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error)

	// DeleteTransaction removes one record for administrative correction.
	// Holdings are derived, so no recompute bookkeeping is needed here.
	DeleteTransaction(ctx context.Context, id, portfolioID string) error

	// --- Price alerts ---

	// CreateAlert persists a new alert (enabled, untriggered).
	CreateAlert(ctx context.Context, a *model.PriceAlert) error

	// ListUserAlerts returns all alerts owned by the user.
	ListUserAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error)

	// ListEnabledUntriggeredAlerts returns every alert the monitor should
	// evaluate: enabled == true and triggered == false, across all users.
	ListEnabledUntriggeredAlerts(ctx context.Context) ([]model.PriceAlert, error)

	// ConditionalMarkTriggered flips an alert to triggered iff it is still
	// enabled and untriggered at write time (compare-and-swap). Returns true
	// only for the single winning caller; concurrent losers get false, nil.
	ConditionalMarkTriggered(ctx context.Context, id string, at time.Time, price decimal.Decimal) (bool, error)

	// SetAlertEnabled enables or disables an alert owned by the user.
	// Re-enabling resets the alert to untriggered.
	SetAlertEnabled(ctx context.Context, id, userID string, enabled bool) error

	// DeleteAlert removes an alert owned by the user. Returns false when no
	// matching alert exists.
	DeleteAlert(ctx context.Context, id, userID string) (bool, error)
}
