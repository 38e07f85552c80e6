package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the options core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret  string
	AdminEmail string

	// Asset catalog
	AssetsPath string

	// Price feed
	PriceRefreshInterval time.Duration
	UseMockFeed          bool // force the simulator for every asset class
	ExchangeBaseURL      string

	// Trading
	PayoutRate       float64 // default payout fraction on winning trades
	MinTradeAmount   float64
	MaxTradeAmount   float64
	MinTradeDuration time.Duration
	MaxTradeDuration time.Duration

	// Settlement
	RequireLiveSettlement bool // real-account trades prefer a live exit quote
	SettleGraceIntervals  int  // refresh intervals to wait for a live quote

	// Accounts
	DemoStartingBalance float64
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DBPath:                getEnv("DB_PATH", "./data/options.db"),
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		AdminEmail:            strings.ToLower(getEnv("ADMIN_EMAIL", "")),
		AssetsPath:            getEnv("ASSETS_PATH", "assets.yaml"),
		PriceRefreshInterval:  getEnvDuration("PRICE_REFRESH_INTERVAL", time.Second),
		UseMockFeed:           getEnv("USE_MOCK_FEED", "false") == "true",
		ExchangeBaseURL:       getEnv("EXCHANGE_BASE_URL", "https://api.binance.com"),
		PayoutRate:            getEnvFloat("PAYOUT_RATE", 0.85),
		MinTradeAmount:        getEnvFloat("MIN_TRADE_AMOUNT", 1),
		MaxTradeAmount:        getEnvFloat("MAX_TRADE_AMOUNT", 50000),
		MinTradeDuration:      getEnvDuration("MIN_TRADE_DURATION", 30*time.Second),
		MaxTradeDuration:      getEnvDuration("MAX_TRADE_DURATION", 24*time.Hour),
		RequireLiveSettlement: getEnv("REQUIRE_LIVE_SETTLEMENT", "true") == "true",
		SettleGraceIntervals:  getEnvInt("SETTLE_GRACE_INTERVALS", 3),
		DemoStartingBalance:   getEnvFloat("DEMO_STARTING_BALANCE", 10000.0),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
