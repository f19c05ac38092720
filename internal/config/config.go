// Package config loads service configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	CORSOrigin  string `env:"CORS_ORIGIN" envDefault:"*"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"portfolio-audit"`

	MarketDataURL string `env:"MARKET_DATA_URL" envDefault:"https://finnhub.io/api/v1"`
	MarketDataKey string `env:"MARKET_DATA_KEY"`

	QuoteTTL     time.Duration `env:"QUOTE_TTL" envDefault:"300s"`
	QuoteTimeout time.Duration `env:"QUOTE_TIMEOUT" envDefault:"10s"`
	QuoteBackoff time.Duration `env:"QUOTE_BACKOFF" envDefault:"30s"`

	AlertInterval time.Duration `env:"ALERT_INTERVAL" envDefault:"30s"`
	PulseInterval time.Duration `env:"PULSE_INTERVAL" envDefault:"60s"`

	PulseAbsThreshold float64 `env:"PULSE_ABS_THRESHOLD" envDefault:"1000"`
}

func Load() (Config, error) {
	var cfg Config
	return cfg, env.Parse(&cfg)
}

// Brokers splits KAFKA_BROKERS into a slice; empty when Kafka is not
// configured.
func (c Config) Brokers() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AbsThreshold returns the portfolio monitor's absolute movement threshold
// as a decimal.
func (c Config) AbsThreshold() decimal.Decimal {
	return decimal.NewFromFloat(c.PulseAbsThreshold)
}
