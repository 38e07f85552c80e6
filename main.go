package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"options-core/internal/account"
	"options-core/internal/api"
	"options-core/internal/assets"
	"options-core/internal/events"
	"options-core/internal/funds"
	"options-core/internal/market"
	"options-core/internal/monitor"
	"options-core/internal/trade"
	"options-core/pkg/config"
	"options-core/pkg/db"
	"options-core/pkg/exchange/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting options core on port %s (db=%s)", cfg.Port, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Asset catalog: YAML file synced into the assets table, then served
	// from memory.
	catalog := assets.NewCatalog(database)
	entries, err := assets.LoadFile(cfg.AssetsPath, cfg.PayoutRate)
	if err != nil {
		log.Printf("asset catalog file %s not loaded: %v", cfg.AssetsPath, err)
		if err := catalog.Load(ctx); err != nil {
			log.Fatalf("asset catalog load failed: %v", err)
		}
	} else {
		if err := catalog.Sync(ctx, entries); err != nil {
			log.Fatalf("asset catalog sync failed: %v", err)
		}
		log.Printf("asset catalog synced: %d assets", len(entries))
	}

	// Price feed: live exchange client for crypto, simulator for the rest
	// and as fallback.
	exchangeClient := binance.NewClient(cfg.ExchangeBaseURL)
	simulator := market.NewSimulator(rand.NewSource(time.Now().UnixNano()))
	prices := market.NewService(market.Options{
		Catalog:         catalog,
		Live:            exchangeClient,
		Simulator:       simulator,
		Bus:             bus,
		RefreshInterval: cfg.PriceRefreshInterval,
		ForceSimulated:  cfg.UseMockFeed,
	})
	prices.Start(ctx)
	if cfg.UseMockFeed {
		log.Println("price feed running in simulator-only mode")
	}

	// Balance manager. All funds mutations go through it.
	accounts := account.NewManager(database)

	// System metrics for monitoring
	sysMetrics := monitor.NewSystemMetrics()

	// Trade engine: placement, countdown, one-shot settlement.
	engine := trade.NewEngine(trade.Config{
		MinAmount:             cfg.MinTradeAmount,
		MaxAmount:             cfg.MaxTradeAmount,
		MinDuration:           cfg.MinTradeDuration,
		MaxDuration:           cfg.MaxTradeDuration,
		DefaultPayout:         cfg.PayoutRate,
		RequireLiveSettlement: cfg.RequireLiveSettlement,
		SettleGraceIntervals:  cfg.SettleGraceIntervals,
	}, database, accounts, prices, catalog, bus, sysMetrics)
	if err := engine.Recover(ctx); err != nil {
		log.Fatalf("trade recovery failed: %v", err)
	}
	engine.Start(ctx)

	// Deposits/withdrawals
	fundsSvc := funds.NewService(database, accounts, bus)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	// API
	server := api.NewServer(api.Deps{
		Bus:                 bus,
		DB:                  database,
		Accounts:            accounts,
		Engine:              engine,
		Funds:               fundsSvc,
		Catalog:             catalog,
		Prices:              prices,
		Metrics:             sysMetrics,
		JWTSecret:           cfg.JWTSecret,
		AdminEmail:          cfg.AdminEmail,
		DemoStartingBalance: cfg.DemoStartingBalance,
		Meta: api.SystemMeta{
			UseMockFeed: cfg.UseMockFeed,
			PayoutRate:  cfg.PayoutRate,
			Version:     buildVersion,
		},
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}
