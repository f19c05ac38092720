package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata" // DST-correct market hours even without a system zoneinfo dir

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/alphainsights/portfolio-engine/internal/alert"
	"github.com/alphainsights/portfolio-engine/internal/api"
	"github.com/alphainsights/portfolio-engine/internal/config"
	"github.com/alphainsights/portfolio-engine/internal/events"
	"github.com/alphainsights/portfolio-engine/internal/metrics"
	"github.com/alphainsights/portfolio-engine/internal/model"
	"github.com/alphainsights/portfolio-engine/internal/pulse"
	"github.com/alphainsights/portfolio-engine/internal/quote"
	"github.com/alphainsights/portfolio-engine/internal/realtime"
	"github.com/alphainsights/portfolio-engine/internal/store"
	"github.com/alphainsights/portfolio-engine/internal/valuation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote pipeline ---
	// upstream → optional shared Redis cache → in-process TTL cache with
	// request coalescing and stale fallback.
	var source quote.Source
	if cfg.MarketDataKey != "" {
		source = quote.NewHTTPSource(cfg.MarketDataURL, cfg.MarketDataKey, cfg.QuoteTimeout)
	} else {
		slog.Warn("MARKET_DATA_KEY not set, serving static quotes")
		source = quote.NewStaticSource(quote.DefaultPrices())
	}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		source = quote.NewSharedSource(source, rdb, cfg.QuoteTTL)
		slog.Info("Redis quote cache enabled")
	}
	quotes := quote.NewCache(source, cfg.QuoteTTL, cfg.QuoteTimeout, cfg.QuoteBackoff)

	// --- Audit events ---
	audit := events.NewPublisher(cfg.Brokers(), cfg.KafkaTopic)
	if audit != nil {
		cleanup = append(cleanup, func() { audit.Close() })
		slog.Info("Kafka audit publisher enabled", "topic", cfg.KafkaTopic)
	}

	// --- Services ---
	hub := realtime.NewHub()
	valuationSvc := valuation.NewService(st, quotes)
	alertSvc := alert.NewService(st)

	// --- Background monitors ---
	monCtx, stopMonitors := context.WithCancel(context.Background())
	defer stopMonitors()

	alertMon := alert.NewMonitor(st, quotes, hub, cfg.AlertInterval,
		func(ctx context.Context, a model.PriceAlert) {
			audit.Publish(ctx, events.TypeAlertTriggered, a.UserID, a)
		})

	thresholds := pulse.DefaultThresholds()
	thresholds.AbsoluteDelta = cfg.AbsThreshold()
	pulseMon := pulse.NewMonitor(valuationSvc, hub, cfg.PulseInterval, thresholds)

	var monitors sync.WaitGroup
	monitors.Add(2)
	go func() {
		defer monitors.Done()
		alertMon.Run(monCtx)
	}()
	go func() {
		defer monitors.Done()
		pulseMon.Run(monCtx)
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(st, valuationSvc, alertSvc, quotes, hub, audit)
	handler.Routes(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopMonitors()
	monitors.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}
