package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bot_arbitrage/config"
	"bot_arbitrage/internal/engine"
	"bot_arbitrage/internal/exchange"
	"bot_arbitrage/internal/ledger"
	"bot_arbitrage/internal/monitor"
	"bot_arbitrage/internal/risk"
	"bot_arbitrage/internal/scanner"
	"bot_arbitrage/internal/telegram"
	"bot_arbitrage/internal/web"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("🚀 Starting Funding Rate Arbitrage Agent...")

	cfg := config.Load()

	// Market data always comes from the real exchange; in PAPER mode only
	// order placement is emulated.
	futures := exchange.NewFuturesClient(cfg.BinanceAPIKey, cfg.BinanceSecretKey, cfg.ExecutionMode != config.ModeLive, cfg.RequestTimeout)

	var gateway exchange.OrderGateway
	if cfg.ExecutionMode == config.ModeLive {
		gateway = futures
		log.Println("⚠️ LIVE mode: orders go to the exchange")
	} else {
		gateway = exchange.NewEmulatorClient(cfg.PaperBalance, cfg.TakerFee, futures)
		log.Printf("ℹ️ PAPER mode: emulated fills, %.2f USDT starting balance", cfg.PaperBalance)
	}

	initialEquity, err := startingEquity(cfg, gateway)
	if err != nil {
		log.Fatalf("Failed to fetch account equity: %v", err)
	}

	perf := monitor.New(monitor.Config{
		InitialEquity: initialEquity,
		MaxDrawdown:   cfg.MaxDrawdownPercent,
		Cooldown:      cfg.BreakerCooldown,
	})

	sc := scanner.New(futures, scanner.Config{
		MinFundingRateThreshold: cfg.MinFundingRateThreshold,
		MaxPositionSize:         cfg.MaxPositionSize,
	})

	assessor := risk.NewAssessor(risk.Config{
		MaxPositionSize:  cfg.MaxPositionSize,
		RiskPerTrade:     cfg.RiskPerTrade,
		MaxPortfolioRisk: cfg.MaxPortfolioRisk,
		ConfidenceFloor:  cfg.ConfidenceFloor,
	}, perf)

	book := ledger.New(cfg.TakerFee)

	strategy := engine.NewFundingArbitrage(sc, assessor)
	agent := engine.NewAgent(cfg, strategy, futures, gateway, book, perf, engine.RealClock())

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken, cfg.AuthorizedUserID, agent, perf)
		if err != nil {
			log.Fatalf("Failed to create Telegram bot: %v", err)
		}
		go bot.Start()
	} else {
		log.Println("ℹ️ TELEGRAM_BOT_TOKEN not set, running without Telegram")
	}

	webServer := web.NewServer(agent, cfg, cfg.Port)
	webServer.Start()

	log.Println("✅ All systems initialized")
	log.Printf("🌐 Web dashboard: http://localhost:%s\n", cfg.Port)
	log.Println("⏸️ Agent is stopped. Use /start in Telegram or the dashboard to begin scanning.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Open positions are not force-closed on shutdown. The operator closes
	// them manually or restarts the agent.
	log.Println("\n🛑 Shutting down, open positions stay on the exchange")
	agent.Stop()
	log.Println("👋 Goodbye!")
}

// startingEquity anchors the drawdown curve: the real account equity in LIVE
// mode, the configured paper balance otherwise.
func startingEquity(cfg *config.Config, gateway exchange.OrderGateway) (float64, error) {
	if cfg.ExecutionMode != config.ModeLive {
		return cfg.PaperBalance, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	account, err := gateway.GetAccount(ctx)
	if err != nil {
		return 0, err
	}
	return account.Equity, nil
}
