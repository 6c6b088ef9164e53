// Package main is the entry point for the XP ledger server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"coinflip-game/internal/config"
	"coinflip-game/internal/handler"
	"coinflip-game/internal/pkg/cache"
	"coinflip-game/internal/pkg/db"
	"coinflip-game/internal/pkg/logging"
	"coinflip-game/internal/pkg/metrics"
	"coinflip-game/internal/repository"
	"coinflip-game/internal/service"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.Log)

	log.Info().Str("driver", cfg.Database.Driver).Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	defer closeStore()

	boardCache, closeCache := openCache(ctx, cfg.Redis)
	defer closeCache()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ledger := service.NewLedgerService(store, cfg.Ledger, m)
	leaderboard := service.NewLeaderboardService(store, boardCache, cfg.Ledger, cfg.Leaderboard, m)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: handler.NewRouter(&handler.Dependencies{
			Ledger:         ledger,
			Leaderboard:    leaderboard,
			Gatherer:       reg,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Ledger server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Ledger server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Ledger server stopped gracefully")
}

// openStore connects the configured ledger store and applies migrations.
func openStore(ctx context.Context, cfg *config.DatabaseConfig) (service.LedgerStore, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLiteLedgerRepository(sqlDB), func() { _ = sqlDB.Close() }, nil
	default:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewLedgerRepository(pool.Pool), pool.Close, nil
	}
}

// openCache returns the leaderboard cache: Redis when configured and reachable,
// otherwise an in-process cache.
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, func()) {
	if cfg.URL == "" {
		return cache.NewMemory(), func() {}
	}
	rc, err := cache.NewRedis(ctx, cfg.URL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using in-process leaderboard cache")
		return cache.NewMemory(), func() {}
	}
	log.Info().Msg("Using Redis leaderboard cache")
	return rc, func() { _ = rc.Close() }
}
