package quote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alphainsights/portfolio-engine/internal/metrics"
	"github.com/alphainsights/portfolio-engine/internal/model"
)

// Cache is a short-TTL cache in front of a Source, safe for concurrent use.
//
// A hit within TTL returns the cached quote. On miss or expiry, concurrent
// requests for the same symbol collapse into a single upstream call. When the
// source fails, the last-known cached value is returned stale rather than
// erroring; only a symbol with no history at all propagates
// model.ErrQuoteUnavailable. After a failure the cache backs off: it keeps
// answering from the stale entry without re-hitting the source until the
// backoff window passes.
type Cache struct {
	source  Source
	ttl     time.Duration
	backoff time.Duration
	timeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	flight  singleflight.Group
}

type entry struct {
	quote       model.Quote
	lastFailure time.Time
}

// NewCache creates a cache over source. ttl bounds quote freshness, timeout
// bounds each upstream call, and backoff is the cool-down after a source
// failure before the next upstream attempt for that symbol.
func NewCache(source Source, ttl, timeout, backoff time.Duration) *Cache {
	return &Cache{
		source:  source,
		ttl:     ttl,
		backoff: backoff,
		timeout: timeout,
		entries: make(map[string]*entry),
	}
}

// GetQuote returns a quote for symbol, fetching through the source when the
// cached value is missing or expired.
func (c *Cache) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	if q, ok := c.fresh(symbol); ok {
		metrics.QuoteCacheHits.Inc()
		return q, nil
	}
	metrics.QuoteCacheMisses.Inc()

	// Collapse concurrent refreshes for the same symbol into one upstream
	// call. Losers of the race receive the winner's result.
	v, err, _ := c.flight.Do(symbol, func() (any, error) {
		// A concurrent flight may have refreshed while this caller waited
		// for the flight slot.
		if q, ok := c.fresh(symbol); ok {
			return q, nil
		}
		return c.refresh(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Quote), nil
}

// fresh returns a copy of the cached quote if it is within TTL.
func (c *Cache) fresh(symbol string) (*model.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok {
		return nil, false
	}
	if time.Since(e.quote.FetchedAt) > c.ttl {
		return nil, false
	}
	q := e.quote
	return &q, true
}

func (c *Cache) refresh(ctx context.Context, symbol string) (*model.Quote, error) {
	c.mu.RLock()
	var stale model.Quote
	inBackoff := false
	if prev, ok := c.entries[symbol]; ok && time.Since(prev.lastFailure) < c.backoff {
		stale = prev.quote
		inBackoff = true
	}
	c.mu.RUnlock()

	if inBackoff {
		metrics.QuoteStaleServed.Inc()
		return &stale, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q, err := c.source.GetQuote(fetchCtx, symbol)
	if err != nil {
		metrics.QuoteSourceFailures.Inc()

		c.mu.Lock()
		if e, ok := c.entries[symbol]; ok {
			e.lastFailure = time.Now()
			last := e.quote
			c.mu.Unlock()

			metrics.QuoteStaleServed.Inc()
			slog.Warn("serving stale quote", "symbol", symbol, "err", err,
				"age", time.Since(last.FetchedAt).String())
			return &last, nil
		}
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.entries[symbol] = &entry{quote: *q}
	c.mu.Unlock()

	out := *q
	return &out, nil
}
