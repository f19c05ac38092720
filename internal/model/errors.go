package model

import "errors"

// Sentinel errors for the typed failure modes callers are expected to branch
// on with errors.Is.
var (
	// ErrInsufficientShares rejects a sell that would drive a holding's share
	// count negative. The ledger is left unchanged.
	ErrInsufficientShares = errors.New("sell exceeds held shares")

	// ErrQuoteUnavailable means the market data source failed and no stale
	// cached value exists to fall back on.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrAlertNotFound means no alert matched the given id (and owner).
	ErrAlertNotFound = errors.New("alert not found")

	// ErrTransactionNotFound means no transaction matched the given id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrPortfolioNotFound means the user has no portfolio.
	ErrPortfolioNotFound = errors.New("portfolio not found")
)
