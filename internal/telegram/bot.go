package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"bot_arbitrage/internal/engine"
	"bot_arbitrage/internal/monitor"
)

// Bot is the operator's Telegram surface: lifecycle control, status queries
// and push notifications for opens/closes/failures.
type Bot struct {
	bot          *tele.Bot
	agent        *engine.Agent
	perf         *monitor.Monitor
	authorizedID int64
	startTime    time.Time
}

func NewBot(token string, authorizedID int64, agent *engine.Agent, perf *monitor.Monitor) (*Bot, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		bot:          b,
		agent:        agent,
		perf:         perf,
		authorizedID: authorizedID,
		startTime:    time.Now(),
	}

	bot.setupHandlers()
	return bot, nil
}

func (b *Bot) Start() {
	go b.notifyLoop()
	log.Println("📱 Telegram bot started")
	b.bot.Start()
}

// notifyLoop pushes execution events to the operator. It drains its own
// bounded subscription; a slow Telegram API never blocks the agent.
func (b *Bot) notifyLoop() {
	events, cancel := b.agent.Bus().Subscribe(64)
	defer cancel()

	for e := range events {
		var msg string
		switch e.Type {
		case engine.EventExecutionOpened:
			msg = fmt.Sprintf("✅ *Opened %s %s*\nSize: %.2f USDT\nFunding rate: %.4f",
				e.Execution.Opportunity.RecommendedAction, e.Symbol,
				e.Execution.Size, e.Execution.Opportunity.FundingRate)
		case engine.EventExecutionClosed:
			emoji := "🟢"
			if e.Execution.RealizedPnl < 0 {
				emoji = "🔴"
			}
			msg = fmt.Sprintf("%s *Closed %s %s*\nP&L: %+.2f USDT\nReason: %s",
				emoji, e.Execution.Opportunity.RecommendedAction, e.Symbol,
				e.Execution.RealizedPnl, e.Execution.CloseReason)
		case engine.EventError:
			msg = fmt.Sprintf("❌ *%s failed*\n%s", e.Symbol, e.Message)
		default:
			continue
		}

		if _, err := b.bot.Send(&tele.User{ID: b.authorizedID}, msg, tele.ModeMarkdown); err != nil {
			log.Printf("⚠️ Telegram notify failed: %v", err)
		}
	}
}

func (b *Bot) setupHandlers() {
	// Middleware for authorization
	b.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender().ID != b.authorizedID {
				return c.Send("⛔ Unauthorized")
			}
			return next(c)
		}
	})

	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/stop", b.handleStopAgent)
	b.bot.Handle("/resume", b.handleStartAgent)
	b.bot.Handle("/status", b.handleStatus)
	b.bot.Handle("/scan", b.handleScan)
	b.bot.Handle("/positions", b.handlePositions)
	b.bot.Handle("/performance", b.handlePerformance)

	b.bot.Handle(&btnStartAgent, b.handleStartAgent)
	b.bot.Handle(&btnStopAgent, b.handleStopAgent)
	b.bot.Handle(&btnPositions, b.handlePositions)
	b.bot.Handle(&btnPerformance, b.handlePerformance)
	b.bot.Handle(&btnScan, b.handleScan)
	b.bot.Handle(&btnResetBreaker, b.handleResetBreaker)
	b.bot.Handle(&btnBack, b.handleStart)
}

var (
	btnStartAgent   = tele.Btn{Text: "▶️ Start scanning", Unique: "start_agent"}
	btnStopAgent    = tele.Btn{Text: "⏸️ Stop scanning", Unique: "stop_agent"}
	btnPositions    = tele.Btn{Text: "📋 Executions", Unique: "positions"}
	btnPerformance  = tele.Btn{Text: "📊 Performance", Unique: "performance"}
	btnScan         = tele.Btn{Text: "🔍 Scan now", Unique: "scan"}
	btnResetBreaker = tele.Btn{Text: "🔓 Reset breaker", Unique: "reset_breaker"}
	btnBack         = tele.Btn{Text: "🔙 Back", Unique: "back"}
)

func (b *Bot) handleStart(c tele.Context) error {
	menu := &tele.ReplyMarkup{}

	var toggleBtn tele.Btn
	if b.agent.IsRunning() {
		toggleBtn = btnStopAgent
	} else {
		toggleBtn = btnStartAgent
	}

	menu.Inline(
		menu.Row(toggleBtn),
		menu.Row(btnPerformance, btnPositions),
		menu.Row(btnScan),
	)

	status := "⏸️ Stopped"
	if b.agent.IsRunning() {
		status = "▶️ Scanning"
	}

	msg := fmt.Sprintf(`🤖 *Funding Rate Arbitrage Agent*

🔄 Status: %s

Choose an action:`, status)

	return c.Send(msg, menu, tele.ModeMarkdown)
}

func (b *Bot) handleStartAgent(c tele.Context) error {
	b.agent.Start()
	return b.handleStart(c)
}

func (b *Bot) handleStopAgent(c tele.Context) error {
	b.agent.Stop()
	return b.handleStart(c)
}

func (b *Bot) handleStatus(c tele.Context) error {
	status := "⏸️ Stopped"
	if b.agent.IsRunning() {
		status = "▶️ Scanning"
	}

	lastScan := "never"
	if t := b.agent.LastScan(); !t.IsZero() {
		lastScan = t.Format("15:04:05")
	}

	msg := fmt.Sprintf(`🔄 Status: %s
🕐 Last scan: %s
📋 Active executions: %d
🕐 Uptime: %s`,
		status, lastScan, len(b.agent.ActiveExecutions()), formatUptime(time.Since(b.startTime)))

	return c.Send(msg)
}

func (b *Bot) handleScan(c tele.Context) error {
	report, err := b.agent.Scan(context.Background())
	if err != nil {
		return c.Send(fmt.Sprintf("❌ Scan failed: %v", err))
	}

	if len(report.Opportunities) == 0 {
		return c.Send(fmt.Sprintf("🔍 No opportunities (%d symbols, %d failures)",
			len(report.Opportunities), len(report.Failures)))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔍 *%d opportunities*\n\n", len(report.Opportunities)))
	for _, o := range report.Opportunities {
		sb.WriteString(fmt.Sprintf(`*%s %s* | rate %.4f
   💰 Expected: %.2f USDT | Conf: %.2f | Risk: %.2f

`, o.RecommendedAction, o.Symbol, o.FundingRate, o.ExpectedProfit, o.Confidence, o.RiskScore))
	}
	return c.Send(sb.String(), tele.ModeMarkdown)
}

func (b *Bot) handlePositions(c tele.Context) error {
	executions := b.agent.ActiveExecutions()

	if len(executions) == 0 {
		menu := &tele.ReplyMarkup{}
		menu.Inline(menu.Row(btnBack))
		return c.Send("📋 No active executions", menu)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 *Active executions (%d)*\n\n", len(executions)))
	for _, e := range executions {
		emoji := "🟢"
		if e.Opportunity.RecommendedAction == "SHORT" {
			emoji = "🔴"
		}
		sb.WriteString(fmt.Sprintf(`%s *%s %s* | %.2f USDT
   📊 State: %s | rate %.4f
   🕐 Opened: %s

`, emoji, e.Opportunity.RecommendedAction, e.Opportunity.Symbol, e.Size,
			e.State, e.Opportunity.FundingRate, e.OpenedAt.Format("15:04:05")))
	}

	menu := &tele.ReplyMarkup{}
	menu.Inline(menu.Row(btnBack))
	return c.Send(sb.String(), menu, tele.ModeMarkdown)
}

func (b *Bot) handlePerformance(c tele.Context) error {
	s := b.agent.Performance()

	breaker := "closed"
	if s.BreakerTripped {
		breaker = "⛔ TRIPPED"
	}

	plEmoji := "🟢"
	if s.TotalProfit < 0 {
		plEmoji = "🔴"
	} else if s.TotalProfit == 0 {
		plEmoji = "🟡"
	}

	msg := fmt.Sprintf(`📊 *Performance*

📅 Trades: %d (%d wins)
📊 Win rate: %.1f%%
%s Total profit: %+.2f USDT
📈 Avg return: %+.2f%%
📉 Max drawdown: %.2f%%
📐 Sharpe: %.2f
📋 Active: %d
🔌 Breaker: %s`,
		s.TotalTrades, s.SuccessfulTrades,
		s.WinRate*100,
		plEmoji, s.TotalProfit,
		s.AvgReturn*100,
		s.MaxDrawdown*100,
		s.SharpeRatio,
		s.ActiveTrades,
		breaker,
	)

	menu := &tele.ReplyMarkup{}
	if s.BreakerTripped {
		menu.Inline(menu.Row(btnResetBreaker), menu.Row(btnBack))
	} else {
		menu.Inline(menu.Row(btnBack))
	}
	return c.Send(msg, menu, tele.ModeMarkdown)
}

func (b *Bot) handleResetBreaker(c tele.Context) error {
	b.perf.ResetBreaker()
	log.Println("🔓 Breaker manually reset via Telegram")
	return b.handlePerformance(c)
}

func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
