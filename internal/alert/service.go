// Package alert manages price alerts: the user-facing CRUD surface and the
// background monitor that evaluates armed alerts against quotes and fires
// each one at most once.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/model"
	"github.com/alphainsights/portfolio-engine/internal/store"
)

// Service is the alert surface exposed to the API layer.
type Service struct {
	store store.Store
}

// NewService creates an alert service over the given store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Create validates and persists a new alert, enabled and untriggered.
func (s *Service) Create(ctx context.Context, userID, symbol, condition string, target decimal.Decimal) (*model.PriceAlert, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if condition != model.ConditionAbove && condition != model.ConditionBelow {
		return nil, fmt.Errorf("condition must be %q or %q", model.ConditionAbove, model.ConditionBelow)
	}
	if !target.IsPositive() {
		return nil, fmt.Errorf("target price must be positive")
	}

	a := &model.PriceAlert{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      symbol,
		Condition:   condition,
		TargetPrice: target,
		Enabled:     true,
		Triggered:   false,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns all alerts owned by the user.
func (s *Service) List(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return s.store.ListUserAlerts(ctx, userID)
}

// Delete removes an alert owned by the user. Returns false when no matching
// alert exists.
func (s *Service) Delete(ctx context.Context, userID, alertID string) (bool, error) {
	return s.store.DeleteAlert(ctx, alertID, userID)
}

// SetEnabled enables or disables an alert. Re-enabling resets the alert to
// untriggered, re-arming it for the monitor.
func (s *Service) SetEnabled(ctx context.Context, userID, alertID string, enabled bool) error {
	return s.store.SetAlertEnabled(ctx, alertID, userID, enabled)
}
