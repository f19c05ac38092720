// Package holdings folds an append-only transaction ledger into current
// positions with weighted-average cost basis.
package holdings

import (
	"fmt"
	"sort"

	"github.com/alphainsights/portfolio-engine/internal/model"
)

// Compute folds transactions into a map of active holdings keyed by symbol.
//
// Transactions are processed in ascending timestamp order, ties broken by
// insertion sequence, so the fold is deterministic regardless of input order.
// A buy adds shares and cost at the transaction price; a sell removes shares
// and reduces cost basis at the pre-sale average cost, not the sale price.
// Symbols whose share count reaches zero are excluded from the result.
//
// Compute is pure: it never mutates its input and running it twice over the
// same ledger yields identical output. A sell exceeding held shares returns
// model.ErrInsufficientShares; stores reject such writes before they reach
// the ledger, so hitting this during a read-side fold indicates corruption.
func Compute(transactions []model.Transaction) (map[string]model.Holding, error) {
	ordered := make([]model.Transaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	positions := make(map[string]model.Holding)
	for _, tx := range ordered {
		h := positions[tx.Symbol]
		h.Symbol = tx.Symbol

		switch tx.Kind {
		case model.TransactionBuy:
			h.TotalShares = h.TotalShares.Add(tx.Shares)
			h.TotalCostBasis = h.TotalCostBasis.Add(tx.Shares.Mul(tx.PricePerShare))

		case model.TransactionSell:
			if tx.Shares.GreaterThan(h.TotalShares) {
				return nil, fmt.Errorf("%s: sell of %s with %s held: %w",
					tx.Symbol, tx.Shares, h.TotalShares, model.ErrInsufficientShares)
			}
			// Reduce cost basis at the pre-sale average cost.
			avg := h.TotalCostBasis.Div(h.TotalShares)
			h.TotalShares = h.TotalShares.Sub(tx.Shares)
			h.TotalCostBasis = h.TotalCostBasis.Sub(tx.Shares.Mul(avg))

		default:
			return nil, fmt.Errorf("unknown transaction kind %q on %s", tx.Kind, tx.Symbol)
		}

		positions[tx.Symbol] = h
	}

	for symbol, h := range positions {
		if h.TotalShares.IsZero() {
			delete(positions, symbol)
			continue
		}
		h.AverageCost = h.TotalCostBasis.Div(h.TotalShares)
		positions[symbol] = h
	}

	return positions, nil
}

// ValidateAppend checks that appending candidate keeps the ledger foldable.
// The candidate folds at its timestamp position with a sequence after every
// existing record, mirroring what the store will assign — a backdated sell is
// therefore checked against the shares held at that point in history, not the
// current net total. Used by stores to reject data-integrity violations at
// write time. Returns model.ErrInsufficientShares (wrapped) when the
// resulting fold would drive a holding negative.
func ValidateAppend(transactions []model.Transaction, candidate model.Transaction) error {
	var maxSeq int64
	for _, tx := range transactions {
		if tx.Seq > maxSeq {
			maxSeq = tx.Seq
		}
	}
	candidate.Seq = maxSeq + 1

	combined := make([]model.Transaction, 0, len(transactions)+1)
	combined = append(combined, transactions...)
	combined = append(combined, candidate)
	_, err := Compute(combined)
	return err
}
