package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alphainsights/portfolio-engine/internal/metrics"
	"github.com/alphainsights/portfolio-engine/internal/model"
	"github.com/alphainsights/portfolio-engine/internal/quote"
	"github.com/alphainsights/portfolio-engine/internal/store"
)

// Dispatcher delivers a notification to one user's active channel, dropping
// it silently when the user is not connected.
type Dispatcher interface {
	Dispatch(userID string, n model.Notification)
}

// Triggered is the optional hook invoked after an alert fires, e.g. to
// publish an audit event. May be nil.
type Triggered func(ctx context.Context, a model.PriceAlert)

// Monitor is the background loop evaluating armed alerts against quotes.
//
// At-most-once delivery rests on the store's conditional update: the monitor
// only notifies after winning the compare-and-swap on the triggered flag, so
// overlapping passes (or multiple monitor instances) fire each alert once.
type Monitor struct {
	store      store.Store
	quotes     quote.Source
	dispatcher Dispatcher
	interval   time.Duration
	onTrigger  Triggered
}

// NewMonitor creates an alert monitor. onTrigger may be nil.
func NewMonitor(st store.Store, quotes quote.Source, d Dispatcher, interval time.Duration, onTrigger Triggered) *Monitor {
	return &Monitor{
		store:      st,
		quotes:     quotes,
		dispatcher: d,
		interval:   interval,
		onTrigger:  onTrigger,
	}
}

// Run evaluates alerts every interval until ctx is cancelled. An in-flight
// pass finishes before Run returns. Pass errors are logged, never fatal.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("alert monitor started", "interval", m.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("alert monitor stopped")
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				slog.Error("alert pass failed", "err", err)
			}
		}
	}
}

// RunOnce performs a single evaluation pass. Exported so tests can drive
// passes without waiting on the ticker.
func (m *Monitor) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.MonitorPassDuration.WithLabelValues("alert").Observe(time.Since(start).Seconds())
	}()

	alerts, err := m.store.ListEnabledUntriggeredAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list armed alerts: %w", err)
	}

	for _, a := range alerts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// One symbol's quote failure must not abort the rest of the pass.
		if err := m.evaluate(ctx, a); err != nil {
			slog.Warn("alert evaluation skipped", "alert", a.ID, "symbol", a.Symbol, "err", err)
		}
	}
	return nil
}

func (m *Monitor) evaluate(ctx context.Context, a model.PriceAlert) error {
	q, err := m.quotes.GetQuote(ctx, a.Symbol)
	if err != nil {
		return err
	}

	met := false
	switch a.Condition {
	case model.ConditionAbove:
		met = q.Price.GreaterThanOrEqual(a.TargetPrice)
	case model.ConditionBelow:
		met = q.Price.LessThanOrEqual(a.TargetPrice)
	}
	if !met {
		return nil
	}

	now := time.Now().UTC()
	won, err := m.store.ConditionalMarkTriggered(ctx, a.ID, now, q.Price)
	if err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}
	if !won {
		// A concurrent pass already handled this alert.
		return nil
	}

	metrics.AlertsTriggered.WithLabelValues(a.Condition).Inc()
	slog.Info("alert triggered",
		"alert", a.ID,
		"user", a.UserID,
		"symbol", a.Symbol,
		"condition", a.Condition,
		"target", a.TargetPrice.String(),
		"price", q.Price.String(),
	)

	target := a.TargetPrice
	price := q.Price
	m.dispatcher.Dispatch(a.UserID, model.Notification{
		Type:         model.NotificationPriceAlert,
		Symbol:       a.Symbol,
		Condition:    a.Condition,
		TargetPrice:  &target,
		CurrentPrice: &price,
		Message: fmt.Sprintf("%s is now $%s (%s $%s)",
			a.Symbol, q.Price.StringFixed(2), a.Condition, a.TargetPrice.StringFixed(2)),
		Timestamp: now,
	})

	if m.onTrigger != nil {
		triggered := a
		triggered.Triggered = true
		triggered.TriggeredAt = &now
		triggered.TriggeredPrice = &price
		m.onTrigger(ctx, triggered)
	}
	return nil
}
