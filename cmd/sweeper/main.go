package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/config"
	"github.com/trovashop/orders/internal/postgres"
	"github.com/trovashop/orders/internal/stock"
)

// Reconciliation for the crash-between-steps gap: reservations whose order
// never landed are released once they age past the bound.
func main() {
	_ = godotenv.Load()

	log, _ := zap.NewProduction()
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	ledger := &stock.Ledger{Pool: db, Log: log}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down sweeper...")
		cancel()
	}()

	log.Info("sweeper started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("orphan_after", cfg.SweepOrphanAfter))

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		n, err := ledger.ReleaseOrphans(ctx, cfg.SweepOrphanAfter)
		if err != nil {
			log.Error("sweep failed", zap.Error(err))
		} else if n > 0 {
			log.Info("sweep released orphans", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
