package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/relikt/staking-engine/internal/auth"
	"github.com/relikt/staking-engine/internal/feesplit"
	"github.com/relikt/staking-engine/internal/metrics"
	"github.com/relikt/staking-engine/internal/pool"
	"github.com/relikt/staking-engine/internal/staking"
	"github.com/relikt/staking-engine/internal/store"
	"github.com/relikt/staking-engine/internal/token"
	"github.com/relikt/staking-engine/internal/vesting"
)

// custodyAccount is the pool's account ID in every token ledger.
const custodyAccount = "pool:staking"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pgpool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pgpool.Close)
		st = store.NewPostgresStore(pgpool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Authorization oracle ---
	oracle := auth.NewStaticOracle(
		splitEnv("COUNCIL_IDS"),
		splitEnv("KEEPER_IDS"),
	)

	// --- Token ledgers ---
	principalSymbol := os.Getenv("PRINCIPAL_ASSET")
	if principalSymbol == "" {
		principalSymbol = "RLK"
	}
	principal := token.NewLedger(principalSymbol)

	native := token.NewLedger("NAT")
	wrappedNative := token.NewWrappedLedger("WNAT", native)

	rewards := []token.Token{wrappedNative}
	for _, symbol := range splitEnv("REWARD_ASSETS") {
		if symbol == "" || symbol == wrappedNative.Symbol() {
			continue
		}
		rewards = append(rewards, token.NewLedger(symbol))
	}

	// --- Staking pool ---
	p := pool.New(principal, custodyAccount, oracle)
	for _, tok := range rewards {
		if err := p.RegisterRewardAsset(tok); err != nil {
			slog.Error("failed to register reward asset", "asset", tok.Symbol(), "err", err)
			os.Exit(1)
		}
	}

	// --- Vesting registry ---
	reg := vesting.NewRegistry(p, principal, rewards, nil)

	// --- Fee router ---
	fees, err := feesplit.NewRouter(feesplit.DefaultConfig(), p, "treasury", "burn")
	if err != nil {
		slog.Error("invalid fee split config", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := staking.NewWSHub()
	go wsHub.Run()

	// --- Staking service ---
	svc := staking.NewService(p, reg, fees, rewards, oracle, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"staking-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time distribution updates.
		r.Get("/ws", wsHub.HandleWS)

		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("staking-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down staking-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("staking-engine stopped")
}

// splitEnv reads a comma-separated environment variable into a slice.
func splitEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
