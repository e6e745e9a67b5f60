package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ExecutionMode string

const (
	ModePaper ExecutionMode = "PAPER"
	ModeLive  ExecutionMode = "LIVE"
)

// Config holds every tunable of the agent. Defaults are chosen so the bot
// runs in paper mode against public endpoints with no .env at all.
type Config struct {
	TelegramToken    string
	AuthorizedUserID int64
	BinanceAPIKey    string
	BinanceSecretKey string
	Port             string
	ExecutionMode    ExecutionMode

	// Symbols tracked by the scanner. Empty SYMBOLS env keeps the default
	// major-pair set.
	Symbols []string

	// MinFundingRateThreshold is the minimum |funding rate| (signed fraction,
	// 0.01 = 1%) a symbol must show to be considered at all.
	MinFundingRateThreshold float64
	// MaxPositionSize caps the notional (USDT) of any single position.
	MaxPositionSize float64
	// RiskPerTrade is the fraction of equity a single trade may put at risk.
	RiskPerTrade float64
	// MaxPortfolioRisk is the fraction of equity all open positions together
	// may put at risk.
	MaxPortfolioRisk float64
	// ConfidenceFloor rejects opportunities scored below it.
	ConfidenceFloor   float64
	StopLossPercent   float64
	TakeProfitPercent float64
	// MaxConcurrentPositions caps executions in any non-terminal state.
	MaxConcurrentPositions int
	// MaxDrawdownPercent trips the performance breaker (fraction, 0.15 = 15%).
	MaxDrawdownPercent float64
	// BreakerCooldown is how long the breaker stays tripped before it
	// auto-resets. Zero means manual reset only.
	BreakerCooldown time.Duration
	// MaxHoldDuration force-closes a position held past the funding window.
	MaxHoldDuration time.Duration

	ScanInterval    time.Duration
	MonitorInterval time.Duration
	RequestTimeout  time.Duration

	// PaperBalance is the simulated starting balance in PAPER mode.
	PaperBalance float64
	// TakerFee models the exchange fee as a fraction of notional per side.
	TakerFee float64
}

var defaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "SOLUSDT",
	"DOTUSDT", "DOGEUSDT", "AVAXUSDT", "MATICUSDT", "LINKUSDT",
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey: os.Getenv("BINANCE_SECRET_KEY"),
		Port:             envString("PORT", "8080"),
		ExecutionMode:    ModePaper,

		Symbols: defaultSymbols,

		MinFundingRateThreshold: envFloat("MIN_FUNDING_RATE", 0.01),
		MaxPositionSize:         envFloat("MAX_POSITION_SIZE", 1000.0),
		RiskPerTrade:            envFloat("RISK_PER_TRADE", 0.02),
		MaxPortfolioRisk:        envFloat("MAX_PORTFOLIO_RISK", 0.10),
		ConfidenceFloor:         envFloat("CONFIDENCE_FLOOR", 0.3),
		StopLossPercent:         envFloat("STOP_LOSS_PERCENT", 0.02),
		TakeProfitPercent:       envFloat("TAKE_PROFIT_PERCENT", 0.0),
		MaxConcurrentPositions:  envInt("MAX_CONCURRENT_POSITIONS", 5),
		MaxDrawdownPercent:      envFloat("MAX_DRAWDOWN_PERCENT", 0.15),
		BreakerCooldown:         envDuration("BREAKER_COOLDOWN", 0),
		MaxHoldDuration:         envDuration("MAX_HOLD_DURATION", 8*time.Hour),

		ScanInterval:    envDuration("SCAN_INTERVAL", 2*time.Minute),
		MonitorInterval: envDuration("MONITOR_INTERVAL", 30*time.Second),
		RequestTimeout:  envDuration("REQUEST_TIMEOUT", 10*time.Second),

		PaperBalance: envFloat("PAPER_BALANCE", 5000.0),
		TakerFee:     envFloat("TAKER_FEE", 0.0005),
	}

	if os.Getenv("EXECUTION_MODE") == string(ModeLive) {
		cfg.ExecutionMode = ModeLive
	}
	if s := os.Getenv("SYMBOLS"); s != "" {
		cfg.Symbols = nil
		for _, sym := range strings.Split(s, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				cfg.Symbols = append(cfg.Symbols, strings.ToUpper(sym))
			}
		}
	}

	if id := os.Getenv("AUTHORIZED_USER_ID"); id != "" {
		userID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			log.Fatal("Invalid AUTHORIZED_USER_ID")
		}
		cfg.AuthorizedUserID = userID
	}

	// Only live trading strictly needs credentials; paper mode reads public
	// endpoints.
	if cfg.ExecutionMode == ModeLive && (cfg.BinanceAPIKey == "" || cfg.BinanceSecretKey == "") {
		log.Fatal("EXECUTION_MODE=LIVE requires BINANCE_API_KEY and BINANCE_SECRET_KEY")
	}

	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			return val
		}
		log.Printf("Warning: invalid %s=%q, using default %v", key, v, fallback)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
		log.Printf("Warning: invalid %s=%q, using default %v", key, v, fallback)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if val, err := time.ParseDuration(v); err == nil {
			return val
		}
		log.Printf("Warning: invalid %s=%q, using default %v", key, v, fallback)
	}
	return fallback
}
