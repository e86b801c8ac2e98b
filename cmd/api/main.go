package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/catalog"
	"github.com/trovashop/orders/internal/checkout"
	"github.com/trovashop/orders/internal/config"
	"github.com/trovashop/orders/internal/httpx"
	kafkax "github.com/trovashop/orders/internal/kafka"
	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/payments"
	"github.com/trovashop/orders/internal/postgres"
	"github.com/trovashop/orders/internal/redisx"
	"github.com/trovashop/orders/internal/returns"
	"github.com/trovashop/orders/internal/stock"
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// One producer per lifecycle topic.
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStatusChanged, 1024, log)
	pPayment := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPayment, 1024, log)
	pReturn := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicReturn, 1024, log)
	producers := []*kafkax.Producer{pCreated, pStatus, pPayment, pReturn}
	for _, p := range producers {
		p.Start(ctx)
	}

	ledger := &stock.Ledger{Pool: db, Log: log}
	repo := &orders.Repo{Pool: db, Ledger: ledger, Log: log}
	svc := &orders.Service{Store: repo, Producer: pStatus, Service: cfg.ServiceName, Log: log}

	coordinator := &checkout.Coordinator{
		Ledger:   ledger,
		Store:    repo,
		Producer: pCreated,
		Pricing: checkout.Pricing{
			ShippingFlatCents:    cfg.ShippingFlatCents,
			FreeShippingMinCents: cfg.FreeShippingMinCents,
			TaxRateBps:           cfg.TaxRateBps,
		},
		Service: cfg.ServiceName,
		Log:     log,
	}

	bridge := &payments.Bridge{
		Orders:   svc,
		Verifier: payments.Verifier{Secret: cfg.PaymentSecret},
		Redis:    rdb,
		Producer: pPayment,
		Service:  cfg.ServiceName,
		Log:      log,
	}

	returnSvc := &returns.Service{
		Repo:            &returns.Repo{DB: db},
		OrderReader:     repo,
		Orders:          svc,
		Ledger:          ledger,
		RestockOnReturn: cfg.RestockOnReturn,
		Producer:        pReturn,
		Service:         cfg.ServiceName,
		Log:             log,
	}

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Checkout: coordinator, Svc: svc, Store: repo,
		Query: &orders.Query{DB: db}, Redis: rdb, Log: log}).Register(router)
	(&httpx.PaymentsHandler{Bridge: bridge, Log: log}).Register(router)
	(&httpx.ReturnsHandler{Svc: returnSvc, Log: log}).Register(router)
	(&httpx.CatalogHandler{Repo: &catalog.Repo{DB: db}, Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close()
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
}
