package pulse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/model"
)

type fakeSummarizer struct {
	mu     sync.Mutex
	values map[string]decimal.Decimal
	daily  map[string]decimal.Decimal
	errs   map[string]error
}

func newFakeSummarizer() *fakeSummarizer {
	return &fakeSummarizer{
		values: make(map[string]decimal.Decimal),
		daily:  make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
	}
}

func (f *fakeSummarizer) set(userID string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[userID] = decimal.NewFromFloat(value)
}

func (f *fakeSummarizer) setDaily(userID string, pct float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.daily[userID] = decimal.NewFromFloat(pct)
}

func (f *fakeSummarizer) fail(userID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[userID] = err
}

func (f *fakeSummarizer) GetPortfolioSummary(_ context.Context, userID string) (*model.PortfolioSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[userID]; err != nil {
		return nil, err
	}
	return &model.PortfolioSummary{
		UserID:           userID,
		TotalMarketValue: f.values[userID],
		DailyChangePct:   f.daily[userID],
		ComputedAt:       time.Now().UTC(),
	}, nil
}

type fakeRegistry struct {
	mu    sync.Mutex
	users []string
	sent  map[string][]model.Notification
}

func newFakeRegistry(users ...string) *fakeRegistry {
	return &fakeRegistry{users: users, sent: make(map[string][]model.Notification)}
}

func (f *fakeRegistry) ConnectedUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.users...)
}

func (f *fakeRegistry) Dispatch(userID string, n model.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[userID] = append(f.sent[userID], n)
}

func (f *fakeRegistry) setUsers(users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = users
}

func (f *fakeRegistry) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[userID])
}

func TestFirstObservationNotifies(t *testing.T) {
	src := newFakeSummarizer()
	src.set("alice", 10000)
	reg := newFakeRegistry("alice")
	m := NewMonitor(src, reg, time.Minute, DefaultThresholds())

	m.RunOnce(context.Background())

	if got := reg.count("alice"); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
	n := reg.sent["alice"][0]
	if n.Type != model.NotificationPortfolioUpdate {
		t.Errorf("type = %q, want %q", n.Type, model.NotificationPortfolioUpdate)
	}
	if n.Summary == nil || !n.Summary.TotalMarketValue.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("summary value = %v, want 10000", n.Summary)
	}
}

func TestSmallMoveStaysQuiet(t *testing.T) {
	src := newFakeSummarizer()
	src.set("alice", 100000)
	reg := newFakeRegistry("alice")
	m := NewMonitor(src, reg, time.Minute, DefaultThresholds())

	m.RunOnce(context.Background())

	// 0.5% and under the $1,000 absolute threshold.
	src.set("alice", 100500)
	m.RunOnce(context.Background())

	if got := reg.count("alice"); got != 1 {
		t.Fatalf("notifications = %d, want 1 (first observation only)", got)
	}
}

func TestRelativeThresholdFires(t *testing.T) {
	src := newFakeSummarizer()
	src.set("alice", 50000)
	reg := newFakeRegistry("alice")
	m := NewMonitor(src, reg, time.Minute, DefaultThresholds())

	m.RunOnce(context.Background())

	// Exactly 1% of 50,000.
	src.set("alice", 50500)
	m.RunOnce(context.Background())

	if got := reg.count("alice"); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
}

func TestAbsoluteThresholdFires(t *testing.T) {
	src := newFakeSummarizer()
	src.set("alice", 500000)
	reg := newFakeRegistry("alice")
	m := NewMonitor(src, reg, time.Minute, DefaultThresholds())

	m.RunOnce(context.Background())

	// 0.24% relative, but over $1,000 absolute.
	src.set("alice", 501200)
	m.RunOnce(context.Background())

	if got := reg.count("alice"); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
}

func TestDailyChangeThresholdFires(t *testing.T) {
	src := newFakeSummarizer()
	src.set("alice", 100000)
	reg := newFakeRegistry("alice")
	m := NewMonitor(src, reg, time.Minute, DefaultThresholds())

	m.RunOnce(context.Background())

	// Value barely moved since the last pass, but the day is down 2.5%.
	src.set("alice", 100010)
	src.setDaily("alice", -2.5)
	m.RunOnce(context.Background())

	if got := reg.count("alice"); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
}

func TestBaselineAdvancesWithoutNotification(t *testing.T) {
	src := newFakeSummarizer()
	src.set("alice", 100000)
	reg := newFakeRegistry("alice")
	m := NewMonitor(src, reg, time.Minute, DefaultThresholds())

	m.RunOnce(context.Background())

	// Two quiet passes of +0.6% each. If the baseline stayed at 100,000 the
	// second pass would read as +1.2% and fire; advancing it keeps both quiet.
	src.set("alice", 100600)
	m.RunOnce(context.Background())
	src.set("alice", 101200)
	m.RunOnce(context.Background())

	if got := reg.count("alice"); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
}

func TestDisconnectedUsersSkippedAndPruned(t *testing.T) {
	src := newFakeSummarizer()
	src.set("alice", 10000)
	src.set("bob", 20000)
	reg := newFakeRegistry("alice", "bob")
	m := NewMonitor(src, reg, time.Minute, DefaultThresholds())

	m.RunOnce(context.Background())

	// Bob disconnects. His portfolio moves, but nobody is listening.
	reg.setUsers("alice")
	src.set("bob", 40000)
	m.RunOnce(context.Background())

	if got := reg.count("bob"); got != 1 {
		t.Fatalf("bob notifications = %d, want 1", got)
	}

	// Bob reconnects: a fresh session starts with a first observation.
	reg.setUsers("alice", "bob")
	m.RunOnce(context.Background())

	if got := reg.count("bob"); got != 2 {
		t.Fatalf("bob notifications after reconnect = %d, want 2", got)
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	src := newFakeSummarizer()
	reg := newFakeRegistry()
	m := NewMonitor(src, reg, time.Second, DefaultThresholds())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSummaryErrorDoesNotAbortPass(t *testing.T) {
	src := newFakeSummarizer()
	src.fail("alice", errors.New("store down"))
	src.set("bob", 20000)
	reg := newFakeRegistry("alice", "bob")
	m := NewMonitor(src, reg, time.Minute, DefaultThresholds())

	m.RunOnce(context.Background())

	if got := reg.count("alice"); got != 0 {
		t.Errorf("alice notifications = %d, want 0", got)
	}
	if got := reg.count("bob"); got != 1 {
		t.Errorf("bob notifications = %d, want 1", got)
	}

	// Alice recovers; her next good pass is still her first observation.
	src.fail("alice", nil)
	src.set("alice", 10000)
	m.RunOnce(context.Background())

	if got := reg.count("alice"); got != 1 {
		t.Errorf("alice notifications after recovery = %d, want 1", got)
	}
}
