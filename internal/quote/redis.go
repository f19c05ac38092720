package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alphainsights/portfolio-engine/internal/model"
)

// SharedSource wraps a Source with a Redis read-through layer so quotes
// fetched by one engine instance are visible to the others. Redis failures
// are never fatal: the call falls through to the wrapped source.
type SharedSource struct {
	next Source
	rdb  *redis.Client
	ttl  time.Duration
}

// NewSharedSource creates a Redis-backed layer over next.
func NewSharedSource(next Source, rdb *redis.Client, ttl time.Duration) *SharedSource {
	return &SharedSource{next: next, rdb: rdb, ttl: ttl}
}

func (s *SharedSource) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	// Try Redis.
	data, err := s.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	} else if err != redis.Nil {
		slog.Warn("redis quote read failed", "symbol", symbol, "err", err)
	}

	// Miss: fetch from the wrapped source and share the result.
	q, err := s.next.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(q); err == nil {
		if err := s.rdb.Set(ctx, quoteKey(symbol), data, s.ttl).Err(); err != nil {
			slog.Warn("redis quote write failed", "symbol", symbol, "err", err)
		}
	}
	return q, nil
}

func quoteKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }
