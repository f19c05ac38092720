package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/holdings"
	"github.com/alphainsights/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Transaction seq comes from a BIGSERIAL column, giving a total insertion
// order for timestamp tie-breaking.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS portfolios (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		total_value NUMERIC NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id              TEXT PRIMARY KEY,
		portfolio_id    TEXT NOT NULL REFERENCES portfolios(id),
		symbol          TEXT NOT NULL,
		kind            TEXT NOT NULL CHECK (kind IN ('buy', 'sell')),
		shares          NUMERIC NOT NULL CHECK (shares > 0),
		price_per_share NUMERIC NOT NULL CHECK (price_per_share > 0),
		ts              TIMESTAMPTZ NOT NULL,
		seq             BIGSERIAL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_portfolio
		ON transactions (portfolio_id, ts, seq);

	CREATE TABLE IF NOT EXISTS price_alerts (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		condition       TEXT NOT NULL CHECK (condition IN ('above', 'below')),
		target_price    NUMERIC NOT NULL CHECK (target_price > 0),
		enabled         BOOLEAN NOT NULL DEFAULT true,
		triggered       BOOLEAN NOT NULL DEFAULT false,
		created_at      TIMESTAMPTZ NOT NULL,
		triggered_at    TIMESTAMPTZ,
		triggered_price NUMERIC
	);
	CREATE INDEX IF NOT EXISTS idx_price_alerts_armed
		ON price_alerts (symbol) WHERE enabled AND NOT triggered;
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrCreatePortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	p, err := s.getPortfolioByUser(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	p = &model.Portfolio{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      "Main Portfolio",
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolios (id, user_id, name, total_value, created_at)
		 VALUES ($1, $2, $3, 0, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		p.ID, p.UserID, p.Name, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create portfolio for %s: %w", userID, err)
	}

	// Re-read to cover the conflict path (concurrent first access).
	return s.getPortfolioByUser(ctx, userID)
}

func (s *PostgresStore) getPortfolioByUser(ctx context.Context, userID string) (*model.Portfolio, error) {
	var p model.Portfolio
	var totalValue string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, total_value::TEXT, created_at
		 FROM portfolios WHERE user_id = $1`, userID).
		Scan(&p.ID, &p.UserID, &p.Name, &totalValue, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.TotalValue, _ = decimal.NewFromString(totalValue)
	return &p, nil
}

func (s *PostgresStore) UpdatePortfolioValue(ctx context.Context, portfolioID string, total decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portfolios SET total_value = $2::NUMERIC WHERE id = $1`,
		portfolioID, total.String(),
	)
	if err != nil {
		return fmt.Errorf("update portfolio value %s: %w", portfolioID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPortfolioNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer dbtx.Rollback(ctx)

	// Serialize writes per portfolio so the oversell check and the insert
	// are atomic against concurrent appends.
	if _, err := dbtx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, t.PortfolioID); err != nil {
		return fmt.Errorf("lock portfolio %s: %w", t.PortfolioID, err)
	}

	// A sell must leave the ledger foldable at every point in history, not
	// just keep the net total non-negative — the timestamp may be backdated.
	if t.Kind == model.TransactionSell {
		existing, err := symbolLedger(ctx, dbtx, t.PortfolioID, t.Symbol)
		if err != nil {
			return err
		}
		if err := holdings.ValidateAppend(existing, *t); err != nil {
			return err
		}
	}

	err = dbtx.QueryRow(ctx,
		`INSERT INTO transactions (id, portfolio_id, symbol, kind, shares, price_per_share, ts)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
		 RETURNING seq`,
		t.ID, t.PortfolioID, t.Symbol, t.Kind,
		t.Shares.String(), t.PricePerShare.String(), t.Timestamp,
	).Scan(&t.Seq)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	return dbtx.Commit(ctx)
}

// symbolLedger loads one symbol's transactions within the current store
// transaction, ordered for the fold.
func symbolLedger(ctx context.Context, dbtx pgx.Tx, portfolioID, symbol string) ([]model.Transaction, error) {
	rows, err := dbtx.Query(ctx,
		`SELECT kind, shares::TEXT, ts, seq
		 FROM transactions
		 WHERE portfolio_id = $1 AND symbol = $2
		 ORDER BY ts, seq`, portfolioID, symbol)
	if err != nil {
		return nil, fmt.Errorf("load ledger %s/%s: %w", portfolioID, symbol, err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares string
		if err := rows.Scan(&t.Kind, &shares, &t.Timestamp, &t.Seq); err != nil {
			return nil, fmt.Errorf("scan ledger %s/%s: %w", portfolioID, symbol, err)
		}
		t.PortfolioID = portfolioID
		t.Symbol = symbol
		t.Shares, _ = decimal.NewFromString(shares)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, portfolio_id, symbol, kind, shares::TEXT, price_per_share::TEXT, ts, seq
		 FROM transactions
		 WHERE portfolio_id = $1
		 ORDER BY ts, seq`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares, price string
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.Symbol, &t.Kind,
			&shares, &price, &t.Timestamp, &t.Seq); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.PricePerShare, _ = decimal.NewFromString(price)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteTransaction(ctx context.Context, id, portfolioID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transactions WHERE id = $1 AND portfolio_id = $2`,
		id, portfolioID,
	)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTransactionNotFound
	}
	return nil
}

func (s *PostgresStore) CreateAlert(ctx context.Context, a *model.PriceAlert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_alerts (id, user_id, symbol, condition, target_price, enabled, triggered, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		a.ID, a.UserID, a.Symbol, a.Condition,
		a.TargetPrice.String(), a.Enabled, a.Triggered, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUserAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, condition, target_price::TEXT, enabled, triggered,
		        created_at, triggered_at, triggered_price::TEXT
		 FROM price_alerts
		 WHERE user_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list alerts for %s: %w", userID, err)
	}
	return scanAlerts(rows)
}

func (s *PostgresStore) ListEnabledUntriggeredAlerts(ctx context.Context) ([]model.PriceAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, condition, target_price::TEXT, enabled, triggered,
		        created_at, triggered_at, triggered_price::TEXT
		 FROM price_alerts
		 WHERE enabled = true AND triggered = false
		 ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return scanAlerts(rows)
}

func scanAlerts(rows pgx.Rows) ([]model.PriceAlert, error) {
	defer rows.Close()

	var out []model.PriceAlert
	for rows.Next() {
		var a model.PriceAlert
		var target string
		var triggeredAt *time.Time
		var triggeredPrice *string

		if err := rows.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Condition, &target,
			&a.Enabled, &a.Triggered, &a.CreatedAt, &triggeredAt, &triggeredPrice); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}

		a.TargetPrice, _ = decimal.NewFromString(target)
		a.TriggeredAt = triggeredAt
		if triggeredPrice != nil {
			p, _ := decimal.NewFromString(*triggeredPrice)
			a.TriggeredPrice = &p
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ConditionalMarkTriggered is the at-most-once guard: the WHERE clause only
// matches while the alert is still armed, so exactly one of any number of
// concurrent monitor passes observes RowsAffected == 1.
func (s *PostgresStore) ConditionalMarkTriggered(ctx context.Context, id string, at time.Time, price decimal.Decimal) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_alerts
		 SET triggered = true, triggered_at = $2, triggered_price = $3::NUMERIC
		 WHERE id = $1 AND triggered = false AND enabled = true`,
		id, at, price.String(),
	)
	if err != nil {
		return false, fmt.Errorf("mark alert triggered %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetAlertEnabled(ctx context.Context, id, userID string, enabled bool) error {
	var tag pgconn.CommandTag
	var err error
	if enabled {
		// Re-enabling re-arms the alert.
		tag, err = s.pool.Exec(ctx,
			`UPDATE price_alerts
			 SET enabled = true, triggered = false, triggered_at = NULL, triggered_price = NULL
			 WHERE id = $1 AND user_id = $2`, id, userID)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE price_alerts SET enabled = false WHERE id = $1 AND user_id = $2`, id, userID)
	}
	if err != nil {
		return fmt.Errorf("set alert enabled %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlertNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAlert(ctx context.Context, id, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_alerts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete alert %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
