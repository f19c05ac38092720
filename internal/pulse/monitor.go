// Package pulse is the background loop watching connected users' portfolio
// values for meaningful movement and pushing portfolio_update notifications.
package pulse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/metrics"
	"github.com/alphainsights/portfolio-engine/internal/model"
)

// Summarizer computes a user's portfolio summary on demand.
type Summarizer interface {
	GetPortfolioSummary(ctx context.Context, userID string) (*model.PortfolioSummary, error)
}

// Registry exposes the connection registry surface the monitor needs: who is
// connected, and a way to reach them.
type Registry interface {
	ConnectedUsers() []string
	Dispatch(userID string, n model.Notification)
}

// Thresholds define when portfolio movement is worth a notification.
type Thresholds struct {
	// RelativePct fires when |Δvalue| / previousValue × 100 meets it.
	RelativePct decimal.Decimal
	// AbsoluteDelta fires when |Δvalue| meets it.
	AbsoluteDelta decimal.Decimal
	// DailyChangePct fires when the summary's |dailyChangePercent| meets it.
	DailyChangePct decimal.Decimal
}

// DefaultThresholds returns the standard notification thresholds: 1%
// movement since last observation, $1,000 absolute movement, or a 2% daily
// change.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RelativePct:    decimal.NewFromInt(1),
		AbsoluteDelta:  decimal.NewFromInt(1000),
		DailyChangePct: decimal.NewFromInt(2),
	}
}

// Monitor polls each connected user's portfolio value and notifies on
// threshold crossings. Baselines live in the monitor, keyed by user, and are
// pruned when the user disconnects — a reconnect starts a fresh session whose
// first observation always notifies.
type Monitor struct {
	summarizer Summarizer
	registry   Registry
	interval   time.Duration
	thresholds Thresholds

	mu        sync.Mutex
	baselines map[string]decimal.Decimal
}

// NewMonitor creates a portfolio monitor.
func NewMonitor(s Summarizer, r Registry, interval time.Duration, th Thresholds) *Monitor {
	return &Monitor{
		summarizer: s,
		registry:   r,
		interval:   interval,
		thresholds: th,
		baselines:  make(map[string]decimal.Decimal),
	}
}

// Run polls every interval until ctx is cancelled, finishing any in-flight
// pass first. Per-user errors are logged and never stop the loop.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("portfolio monitor started", "interval", m.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("portfolio monitor stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass over connected users. Exported so tests can
// drive passes without waiting on the ticker.
func (m *Monitor) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.MonitorPassDuration.WithLabelValues("portfolio").Observe(time.Since(start).Seconds())
	}()

	connected := m.registry.ConnectedUsers()
	for _, userID := range connected {
		if ctx.Err() != nil {
			return
		}
		if err := m.observe(ctx, userID); err != nil {
			slog.Warn("portfolio observation failed", "user", userID, "err", err)
		}
	}
	m.prune(connected)
}

func (m *Monitor) observe(ctx context.Context, userID string) error {
	sum, err := m.summarizer.GetPortfolioSummary(ctx, userID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	prev, seen := m.baselines[userID]
	// Baseline advances every pass, notification or not.
	m.baselines[userID] = sum.TotalMarketValue
	m.mu.Unlock()

	if m.shouldNotify(sum, prev, seen) {
		m.registry.Dispatch(userID, model.Notification{
			Type:      model.NotificationPortfolioUpdate,
			Summary:   sum,
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

func (m *Monitor) shouldNotify(sum *model.PortfolioSummary, prev decimal.Decimal, seen bool) bool {
	if !seen {
		return true
	}

	delta := sum.TotalMarketValue.Sub(prev).Abs()
	if delta.GreaterThanOrEqual(m.thresholds.AbsoluteDelta) {
		return true
	}
	if prev.IsPositive() {
		relPct := delta.Div(prev).Mul(decimal.NewFromInt(100))
		if relPct.GreaterThanOrEqual(m.thresholds.RelativePct) {
			return true
		}
	}
	return sum.DailyChangePct.Abs().GreaterThanOrEqual(m.thresholds.DailyChangePct)
}

// prune drops baselines for users no longer connected so their next session
// starts with a first observation.
func (m *Monitor) prune(connected []string) {
	active := make(map[string]bool, len(connected))
	for _, u := range connected {
		active[u] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for userID := range m.baselines {
		if !active[userID] {
			delete(m.baselines, userID)
		}
	}
}
