package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bot_arbitrage/config"
	"bot_arbitrage/internal/exchange"
	"bot_arbitrage/internal/ledger"
	"bot_arbitrage/internal/models"
	"bot_arbitrage/internal/monitor"
	"bot_arbitrage/internal/scanner"
)

// Expected, non-fatal rejections of an execution attempt. Callers branch with
// errors.Is; none of these ever reach the error event stream.
var (
	ErrCapacityFull = errors.New("max concurrent positions reached")
	ErrSymbolBusy   = errors.New("symbol already has a live execution")
	ErrRiskRejected = errors.New("rejected by risk assessment")
)

// IsRejection reports whether err is an expected rejection rather than a
// gateway or system failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCapacityFull) ||
		errors.Is(err, ErrSymbolBusy) ||
		errors.Is(err, ErrRiskRejected)
}

const maxCloseAttempts = 3

// Agent drives the scan → assess → execute → monitor → close lifecycle for
// one strategy instance. The ledger and performance monitor are the only
// shared mutable state; everything else is produced fresh per invocation.
type Agent struct {
	cfg      *config.Config
	strategy Strategy
	data     exchange.MarketDataSource
	gateway  exchange.OrderGateway
	book     *ledger.Ledger
	perf     *monitor.Monitor
	clock    Clock
	bus      *EventBus

	mu            sync.RWMutex
	executions    map[string]*models.Execution
	closeFailures map[string]int
	running       bool
	stopChan      chan struct{}
	lastScan      time.Time

	monitorOnce sync.Once
}

func NewAgent(
	cfg *config.Config,
	strategy Strategy,
	data exchange.MarketDataSource,
	gateway exchange.OrderGateway,
	book *ledger.Ledger,
	perf *monitor.Monitor,
	clock Clock,
) *Agent {
	return &Agent{
		cfg:           cfg,
		strategy:      strategy,
		data:          data,
		gateway:       gateway,
		book:          book,
		perf:          perf,
		clock:         clock,
		bus:           NewEventBus(),
		executions:    make(map[string]*models.Execution),
		closeFailures: make(map[string]int),
	}
}

// Bus exposes the observer event stream.
func (a *Agent) Bus() *EventBus { return a.bus }

// Start launches the scan loop. Idempotent. The monitoring loop starts with
// the first Start and keeps running across Stop: stopping the agent halts
// scanning, but open executions stay monitored until a natural close trigger
// or an operator close.
func (a *Agent) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.stopChan = make(chan struct{})
	stop := a.stopChan
	a.mu.Unlock()

	log.Printf("🚀 Agent started (%s, mode: %s)", a.strategy.Name(), a.cfg.ExecutionMode)

	go a.scanLoop(stop)
	a.monitorOnce.Do(func() { go a.monitorLoop() })
}

// Stop halts the scan loop. Idempotent. Open positions are not closed.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	close(a.stopChan)
	log.Println("⏸️ Agent stopped (open executions remain monitored)")
}

func (a *Agent) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

func (a *Agent) scanLoop(stop <-chan struct{}) {
	ticker := a.clock.NewTicker(a.cfg.ScanInterval)
	defer ticker.Stop()

	a.scanAndExecute()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			a.scanAndExecute()
		}
	}
}

func (a *Agent) monitorLoop() {
	ticker := a.clock.NewTicker(a.cfg.MonitorInterval)
	defer ticker.Stop()

	for range ticker.C() {
		a.checkExecutions(context.Background())
	}
}

func (a *Agent) scanAndExecute() {
	ctx := context.Background()

	report, err := a.Scan(ctx)
	if err != nil {
		log.Printf("❌ Scan failed: %v", err)
		a.publishError("", fmt.Sprintf("scan failed: %v", err))
		return
	}

	for _, opp := range report.Opportunities {
		_, err := a.Execute(ctx, opp)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrCapacityFull) {
			log.Printf("⚠️ %v, skipping remaining opportunities", err)
			break
		}
		if IsRejection(err) {
			log.Printf("ℹ️ %s skipped: %v", opp.Symbol, err)
			continue
		}
		log.Printf("❌ Execution failed for %s: %v", opp.Symbol, err)
	}
}

// Scan runs an on-demand scan. No side effects beyond logging, the liveness
// timestamp and observer events.
func (a *Agent) Scan(ctx context.Context) (*scanner.ScanReport, error) {
	report, err := a.strategy.Scan(ctx, a.cfg.Symbols)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.lastScan = report.ScannedAt
	a.mu.Unlock()

	for _, f := range report.Failures {
		log.Printf("⚠️ %s: market data unavailable: %v", f.Symbol, f.Err)
	}
	for i := range report.Opportunities {
		opp := report.Opportunities[i]
		a.bus.Publish(Event{
			Type:        EventOpportunityDetected,
			Symbol:      opp.Symbol,
			Opportunity: &opp,
			Timestamp:   a.clock.Now(),
		})
	}
	return report, nil
}

// LastScan reports when the most recent scan completed; liveness is
// observable independently of execution outcomes.
func (a *Agent) LastScan() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastScan
}

// Execute attempts to open a position for the opportunity. Expected
// rejections (risk, capacity, symbol exclusivity) come back as sentinel
// errors satisfying IsRejection; anything else is a gateway/system failure.
func (a *Agent) Execute(ctx context.Context, opp models.Opportunity) (*models.Execution, error) {
	portfolio, err := a.portfolioState(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio state: %w", err)
	}

	assessment := a.strategy.Assess(opp, portfolio)
	if assessment.Recommendation == models.RecommendClose {
		return nil, fmt.Errorf("%w: %s", ErrRiskRejected, assessment.Reasoning)
	}

	size := math.Min(opp.RecommendedSize, assessment.MaxSafeSize)
	if size <= 0 {
		return nil, fmt.Errorf("%w: zero safe size", ErrRiskRejected)
	}

	exec, err := a.admit(opp, size)
	if err != nil {
		return nil, err
	}

	result, err := a.gateway.PlaceOrder(ctx, opp.Symbol, opp.RecommendedAction, size)
	if err != nil {
		a.fail(exec, fmt.Sprintf("order placement: %v", err))
		return nil, fmt.Errorf("place order for %s: %w", opp.Symbol, err)
	}
	a.setState(exec, models.StateOpen)

	entry := result.AvgPrice
	stop, take := a.exitPrices(entry, opp)

	pos, err := a.book.Open(ledger.OpenParams{
		ExecutionID:     exec.ID,
		Symbol:          opp.Symbol,
		Side:            opp.RecommendedAction,
		Size:            result.FilledSize,
		EntryPrice:      entry,
		StopLossPrice:   stop,
		TakeProfitPrice: take,
	})
	if err != nil {
		a.fail(exec, fmt.Sprintf("ledger open: %v", err))
		return nil, fmt.Errorf("register position for %s: %w", opp.Symbol, err)
	}

	a.mu.Lock()
	exec.PositionID = pos.ID
	exec.Size = result.FilledSize
	exec.PartialFill = result.Partial
	exec.State = models.StateMonitoring
	snapshot := *exec
	a.mu.Unlock()

	a.perf.RecordOpen()

	if result.Partial {
		log.Printf("⚠️ Partial fill for %s: %.2f of %.2f USDT", opp.Symbol, result.FilledSize, result.RequestedSize)
	}
	log.Printf("✅ Opened %s %s | Entry: %.4f | TP: %.4f | SL: %.4f | Size: %.2f USDT",
		opp.RecommendedAction, opp.Symbol, entry, take, stop, result.FilledSize)

	a.bus.Publish(Event{
		Type:      EventExecutionOpened,
		Symbol:    opp.Symbol,
		Execution: &snapshot,
		Timestamp: a.clock.Now(),
	})
	return &snapshot, nil
}

// admit creates the PENDING execution under the capacity and per-symbol
// guards. Both checks happen under one lock so concurrent submissions cannot
// race past either invariant.
func (a *Agent) admit(opp models.Opportunity, size float64) (*models.Execution, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := 0
	for _, e := range a.executions {
		if e.State.Terminal() {
			continue
		}
		live++
		if e.Opportunity.Symbol == opp.Symbol {
			return nil, fmt.Errorf("%w: %s", ErrSymbolBusy, opp.Symbol)
		}
	}
	if live >= a.cfg.MaxConcurrentPositions {
		return nil, fmt.Errorf("%w (%d/%d)", ErrCapacityFull, live, a.cfg.MaxConcurrentPositions)
	}

	exec := &models.Execution{
		ID:          uuid.NewString(),
		Opportunity: opp,
		State:       models.StatePending,
		Size:        size,
		OpenedAt:    a.clock.Now(),
	}
	a.executions[exec.ID] = exec
	return exec, nil
}

// exitPrices derives stop-loss and take-profit from the entry. The profit
// target is the larger of the configured percent and 80% of the funding rate
// being collected.
func (a *Agent) exitPrices(entry float64, opp models.Opportunity) (stop, take float64) {
	tpPct := math.Max(a.cfg.TakeProfitPercent, 0.8*math.Abs(opp.FundingRate))
	slPct := a.cfg.StopLossPercent

	if opp.RecommendedAction == models.SideLong {
		return entry * (1 - slPct), entry * (1 + tpPct)
	}
	return entry * (1 + slPct), entry * (1 - tpPct)
}

// portfolioState assembles the assessor's view: equity from the gateway,
// exposure and busy symbols from the ledger plus not-yet-registered live
// executions.
func (a *Agent) portfolioState(ctx context.Context) (models.PortfolioState, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	account, err := a.gateway.GetAccount(callCtx)
	if err != nil {
		return models.PortfolioState{}, err
	}

	open := a.book.OpenSymbols()
	a.mu.RLock()
	for _, e := range a.executions {
		if !e.State.Terminal() {
			open[e.Opportunity.Symbol] = true
		}
	}
	a.mu.RUnlock()

	return models.PortfolioState{
		Equity:          account.Equity,
		CurrentExposure: a.book.Exposure(),
		OpenSymbols:     open,
	}, nil
}

// checkExecutions re-evaluates every MONITORING execution against its close
// triggers. Failures on one execution never touch the others.
func (a *Agent) checkExecutions(ctx context.Context) {
	a.mu.RLock()
	monitoring := make([]*models.Execution, 0, len(a.executions))
	for _, e := range a.executions {
		if e.State == models.StateMonitoring {
			monitoring = append(monitoring, e)
		}
	}
	a.mu.RUnlock()

	for _, exec := range monitoring {
		pos, ok := a.book.Get(exec.ID)
		if !ok {
			continue
		}

		reason, shouldClose := a.closeTrigger(ctx, exec, pos)
		if !shouldClose {
			continue
		}
		if err := a.closeExecution(ctx, exec, reason); err != nil {
			log.Printf("⚠️ Close failed for %s: %v", exec.Opportunity.Symbol, err)
		}
	}
}

func (a *Agent) closeTrigger(ctx context.Context, exec *models.Execution, pos models.Position) (string, bool) {
	now := a.clock.Now()

	// Funding-window expiry: the payment we positioned for has been credited.
	if exec.Opportunity.TimeToFundingMs > 0 {
		fundingAt := exec.Opportunity.DetectedAt.Add(time.Duration(exec.Opportunity.TimeToFundingMs) * time.Millisecond)
		if now.After(fundingAt) {
			return "FUNDING_WINDOW", true
		}
	}
	if a.cfg.MaxHoldDuration > 0 && now.Sub(pos.OpenedAt) > a.cfg.MaxHoldDuration {
		return "FUNDING_WINDOW", true
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	ticker, err := a.data.GetTicker(callCtx, pos.Symbol)
	cancel()
	if err != nil {
		log.Printf("⚠️ %s: exit-price check skipped: %v", pos.Symbol, err)
		return "", false
	}
	price := ticker.Price

	if pos.Side == models.SideLong {
		if pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice {
			return "TAKE_PROFIT", true
		}
		if pos.StopLossPrice > 0 && price <= pos.StopLossPrice {
			return "STOP_LOSS", true
		}
	} else {
		if pos.TakeProfitPrice > 0 && price <= pos.TakeProfitPrice {
			return "TAKE_PROFIT", true
		}
		if pos.StopLossPrice > 0 && price >= pos.StopLossPrice {
			return "STOP_LOSS", true
		}
	}
	return "", false
}

func (a *Agent) closeExecution(ctx context.Context, exec *models.Execution, reason string) error {
	// Claim the execution atomically. The monitor loop and an operator close
	// can race here; only the winner may place the close order.
	a.mu.Lock()
	if exec.State != models.StateMonitoring {
		state := exec.State
		a.mu.Unlock()
		return fmt.Errorf("execution %s not closable in state %s", exec.ID, state)
	}
	exec.State = models.StateClosing
	a.mu.Unlock()

	closeSide := models.SideLong
	if exec.Opportunity.RecommendedAction == models.SideLong {
		closeSide = models.SideShort
	}

	result, err := a.gateway.PlaceOrder(ctx, exec.Opportunity.Symbol, closeSide, exec.Size)
	if err != nil {
		a.mu.Lock()
		a.closeFailures[exec.ID]++
		attempts := a.closeFailures[exec.ID]
		a.mu.Unlock()

		if attempts >= maxCloseAttempts {
			a.fail(exec, fmt.Sprintf("close order failed %d times: %v", attempts, err))
			return err
		}
		// Transient: back to MONITORING, retried next cycle.
		a.setState(exec, models.StateMonitoring)
		return err
	}

	pnl, err := a.book.Close(exec.ID, result.AvgPrice)
	if err != nil {
		a.fail(exec, fmt.Sprintf("ledger close: %v", err))
		return err
	}

	a.mu.Lock()
	exec.RealizedPnl = pnl
	exec.CloseReason = reason
	exec.ClosedAt = a.clock.Now()
	exec.State = models.StateClosed
	delete(a.closeFailures, exec.ID)
	snapshot := *exec
	a.mu.Unlock()

	a.perf.RecordClose(pnl, exec.Size)

	log.Printf("🎯 Closed %s %s | P&L: %+.2f USDT | Reason: %s",
		exec.Opportunity.RecommendedAction, exec.Opportunity.Symbol, pnl, reason)

	a.bus.Publish(Event{
		Type:      EventExecutionClosed,
		Symbol:    exec.Opportunity.Symbol,
		Execution: &snapshot,
		Timestamp: a.clock.Now(),
	})
	return nil
}

// CloseExecution is the operator-issued close (explicit stop request).
func (a *Agent) CloseExecution(ctx context.Context, id string) error {
	a.mu.RLock()
	exec, ok := a.executions[id]
	state := models.ExecutionState("")
	if ok {
		state = exec.State
	}
	a.mu.RUnlock()

	if !ok {
		return fmt.Errorf("execution not found: %s", id)
	}
	if state != models.StateMonitoring {
		return fmt.Errorf("execution %s not closable in state %s", id, state)
	}
	return a.closeExecution(ctx, exec, "MANUAL")
}

// publishError surfaces a failure that has no execution attached, such as a
// whole-scan failure.
func (a *Agent) publishError(symbol, message string) {
	a.bus.Publish(Event{
		Type:      EventError,
		Symbol:    symbol,
		Message:   message,
		Timestamp: a.clock.Now(),
	})
}

// fail moves the execution to FAILED and surfaces it via the error event.
// Other executions and the ledger are untouched.
func (a *Agent) fail(exec *models.Execution, reason string) {
	a.mu.Lock()
	exec.State = models.StateFailed
	exec.FailureReason = reason
	exec.ClosedAt = a.clock.Now()
	snapshot := *exec
	a.mu.Unlock()

	log.Printf("❌ Execution %s FAILED: %s", exec.Opportunity.Symbol, reason)
	a.bus.Publish(Event{
		Type:      EventError,
		Symbol:    exec.Opportunity.Symbol,
		Execution: &snapshot,
		Message:   reason,
		Timestamp: a.clock.Now(),
	})
}

func (a *Agent) setState(exec *models.Execution, s models.ExecutionState) {
	a.mu.Lock()
	exec.State = s
	a.mu.Unlock()
}

// ActiveExecutions returns copies of every non-terminal execution, oldest
// first.
func (a *Agent) ActiveExecutions() []models.Execution {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Execution, 0, len(a.executions))
	for _, e := range a.executions {
		if !e.State.Terminal() {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Executions returns copies of every execution, terminal included.
func (a *Agent) Executions() []models.Execution {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Execution, 0, len(a.executions))
	for _, e := range a.executions {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Performance returns the monitor's current snapshot.
func (a *Agent) Performance() models.PerformanceSnapshot {
	return a.perf.Snapshot()
}
