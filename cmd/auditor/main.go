package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/audit"
	"github.com/trovashop/orders/internal/config"
	kafkax "github.com/trovashop/orders/internal/kafka"
	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/postgres"
)

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

	proj := &audit.Projector{DB: db, Log: log}

	group := getenv("AUDIT_GROUP", "order-audit")
	workers := mustAtoi(os.Getenv("AUDIT_WORKERS"), "4")
	topics := []string{
		orders.TopicOrderCreated,
		orders.TopicStatusChanged,
		orders.TopicPayment,
		orders.TopicReturn,
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers, log)
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			log.Info("audit consumer started",
				zap.String("group", group), zap.String("topic", topic), zap.Int("workers", workers))
			if err := cons.Start(ctx, proj.Handle); err != nil {
				log.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down auditor...")
		cancel()
	case <-ctx.Done():
	}
	wg.Wait()
	time.Sleep(200 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
