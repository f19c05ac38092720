package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/holdings"
	"github.com/alphainsights/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[string]*model.Portfolio // keyed by userID
	ledger     []model.Transaction
	alerts     map[string]*model.PriceAlert
	nextSeq    int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]*model.Portfolio),
		alerts:     make(map[string]*model.PriceAlert),
	}
}

func (s *MemoryStore) GetOrCreatePortfolio(_ context.Context, userID string) (*model.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.portfolios[userID]; ok {
		copy := *p
		return &copy, nil
	}

	p := &model.Portfolio{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      "Main Portfolio",
		CreatedAt: time.Now().UTC(),
	}
	s.portfolios[userID] = p
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) UpdatePortfolioValue(_ context.Context, portfolioID string, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.portfolios {
		if p.ID == portfolioID {
			p.TotalValue = total
			return nil
		}
	}
	return model.ErrPortfolioNotFound
}

func (s *MemoryStore) AppendTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Kind == model.TransactionSell {
		existing := s.portfolioLedgerLocked(tx.PortfolioID)
		if err := holdings.ValidateAppend(existing, *tx); err != nil {
			return err
		}
	}

	s.nextSeq++
	tx.Seq = s.nextSeq
	s.ledger = append(s.ledger, *tx)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, portfolioID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portfolioLedgerLocked(portfolioID), nil
}

// portfolioLedgerLocked returns the portfolio's transactions in (timestamp,
// seq) order. The ledger slice is in seq order, but user-supplied timestamps
// may be backdated, so the selection is sorted the same way the SQL store
// orders its reads.
func (s *MemoryStore) portfolioLedgerLocked(portfolioID string) []model.Transaction {
	var out []model.Transaction
	for _, tx := range s.ledger {
		if tx.PortfolioID == portfolioID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (s *MemoryStore) DeleteTransaction(_ context.Context, id, portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, tx := range s.ledger {
		if tx.ID == id && tx.PortfolioID == portfolioID {
			s.ledger = append(s.ledger[:i], s.ledger[i+1:]...)
			return nil
		}
	}
	return model.ErrTransactionNotFound
}

func (s *MemoryStore) CreateAlert(_ context.Context, a *model.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *a
	s.alerts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) ListUserAlerts(_ context.Context, userID string) ([]model.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PriceAlert
	for _, a := range s.alerts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEnabledUntriggeredAlerts(_ context.Context) ([]model.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PriceAlert
	for _, a := range s.alerts {
		if a.Enabled && !a.Triggered {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ConditionalMarkTriggered(_ context.Context, id string, at time.Time, price decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return false, model.ErrAlertNotFound
	}
	if a.Triggered || !a.Enabled {
		return false, nil
	}

	a.Triggered = true
	a.TriggeredAt = &at
	a.TriggeredPrice = &price
	return true, nil
}

func (s *MemoryStore) SetAlertEnabled(_ context.Context, id, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok || a.UserID != userID {
		return model.ErrAlertNotFound
	}

	a.Enabled = enabled
	if enabled {
		// Re-enabling re-arms the alert.
		a.Triggered = false
		a.TriggeredAt = nil
		a.TriggeredPrice = nil
	}
	return nil
}

func (s *MemoryStore) DeleteAlert(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.alerts[id]; !ok || a.UserID != userID {
		return false, nil
	}
	delete(s.alerts, id)
	return true, nil
}
