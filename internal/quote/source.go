// Package quote provides the market data source contract and a short-TTL
// coalescing cache in front of it. The provider integration is deliberately
// opaque: anything satisfying Source can sit behind the cache.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alphainsights/portfolio-engine/internal/model"
)

// Source is the external market data contract. Implementations return
// model.ErrQuoteUnavailable (possibly wrapped) when no quote can be produced.
type Source interface {
	GetQuote(ctx context.Context, symbol string) (*model.Quote, error)
}

// HTTPSource fetches quotes from a finnhub-style REST endpoint:
// GET {base}/quote?symbol=SYM&token=KEY returning {"c": price, "pc": prevClose}.
// The provider is assumed rate-limited externally; the Cache in front of this
// source backs off on repeated failure.
type HTTPSource struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPSource creates a quote source against the given base URL. Every
// request carries the client timeout so no call blocks indefinitely.
func NewHTTPSource(base, token string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		base:   base,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s&token=%s",
		s.base, url.QueryEscape(symbol), url.QueryEscape(s.token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request for %s: %w", symbol, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", symbol, err, model.ErrQuoteUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: provider status %d: %w",
			symbol, resp.StatusCode, model.ErrQuoteUnavailable)
	}

	var body struct {
		Current       decimal.Decimal `json:"c"`
		PreviousClose decimal.Decimal `json:"pc"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: decode quote: %w", symbol, model.ErrQuoteUnavailable)
	}
	// Providers signal unknown symbols with an all-zero body.
	if body.Current.IsZero() {
		return nil, fmt.Errorf("%s: no price in response: %w", symbol, model.ErrQuoteUnavailable)
	}

	return &model.Quote{
		Symbol:        symbol,
		Price:         body.Current,
		PreviousClose: body.PreviousClose,
		FetchedAt:     time.Now().UTC(),
	}, nil
}

// StaticSource serves quotes from an injected symbol→price table. Used in
// development when no provider is configured; the table is injectable so
// reference data can change without code changes.
type StaticSource struct {
	prices map[string]decimal.Decimal
}

// NewStaticSource creates a static source over the given price table.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	return &StaticSource{prices: prices}
}

// DefaultPrices returns a development price table for common symbols.
func DefaultPrices() map[string]decimal.Decimal {
	f := decimal.NewFromFloat
	return map[string]decimal.Decimal{
		"AAPL": f(175.50), "MSFT": f(415.80), "GOOGL": f(2650.00),
		"AMZN": f(3200.00), "TSLA": f(240.10), "NVDA": f(450.25),
		"META": f(320.75), "JPM": f(145.60), "JNJ": f(162.30),
		"PG": f(155.40), "KO": f(58.90), "WMT": f(165.20),
		"V": f(245.80), "MA": f(410.30), "UNH": f(520.40),
		"HD": f(330.50), "DIS": f(95.20), "NFLX": f(485.60),
		"ADBE": f(580.30), "CRM": f(220.40),
	}
}

func (s *StaticSource) GetQuote(_ context.Context, symbol string) (*model.Quote, error) {
	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: not in static table: %w", symbol, model.ErrQuoteUnavailable)
	}
	return &model.Quote{
		Symbol:        symbol,
		Price:         price,
		PreviousClose: price.Mul(decimal.NewFromFloat(0.995)).Round(2),
		FetchedAt:     time.Now().UTC(),
	}, nil
}
