package monitor

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"bot_arbitrage/internal/models"
	"bot_arbitrage/internal/risk"
)

type tradeRecord struct {
	pnl      float64
	ret      float64 // pnl / size
	closedAt time.Time
}

type Config struct {
	// InitialEquity anchors the running equity curve for drawdown.
	InitialEquity float64
	// MaxDrawdown is the ceiling (fraction) that trips the breaker.
	MaxDrawdown float64
	// Cooldown after which a tripped breaker auto-resets. Zero keeps it
	// tripped until ResetBreaker is called.
	Cooldown time.Duration
}

// Monitor keeps the rolling trade history and rebuilds the performance
// snapshot incrementally on every close. It implements risk.Breaker.
type Monitor struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time

	trades      []tradeRecord
	equity      float64
	peak        float64
	maxDrawdown float64
	active      int

	tripped   bool
	trippedAt time.Time

	snapshot models.PerformanceSnapshot
}

func New(cfg Config) *Monitor {
	m := &Monitor{cfg: cfg, now: time.Now, equity: cfg.InitialEquity, peak: cfg.InitialEquity}
	m.rebuild()
	return m
}

// RecordOpen bumps the active-trade count when an execution opens a position.
func (m *Monitor) RecordOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active++
	m.snapshot.ActiveTrades = m.active
}

// RecordClose ingests one settled trade and recomputes the snapshot. size is
// the position's notional, used for the per-trade return.
func (m *Monitor) RecordClose(pnl, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active > 0 {
		m.active--
	}

	ret := 0.0
	if size > 0 {
		ret = pnl / size
	}
	m.trades = append(m.trades, tradeRecord{pnl: pnl, ret: ret, closedAt: m.now()})

	m.equity += pnl
	if m.equity > m.peak {
		m.peak = m.equity
	}
	if m.peak > 0 {
		if dd := (m.peak - m.equity) / m.peak; dd > m.maxDrawdown {
			m.maxDrawdown = dd
		}
	}

	if !m.tripped && m.cfg.MaxDrawdown > 0 && m.maxDrawdown > m.cfg.MaxDrawdown {
		m.tripped = true
		m.trippedAt = m.now()
		log.Printf("⛔ Breaker tripped: drawdown %.2f%% exceeds ceiling %.2f%%",
			m.maxDrawdown*100, m.cfg.MaxDrawdown*100)
	}

	m.rebuild()
}

// rebuild recomputes the cached snapshot. Caller holds the lock.
func (m *Monitor) rebuild() {
	s := models.PerformanceSnapshot{
		TotalTrades:    len(m.trades),
		ActiveTrades:   m.active,
		MaxDrawdown:    m.maxDrawdown,
		BreakerTripped: m.tripped,
		UpdatedAt:      m.now(),
	}

	var totalProfit, retSum float64
	for _, t := range m.trades {
		totalProfit += t.pnl
		retSum += t.ret
		if t.pnl > 0 {
			s.SuccessfulTrades++
		}
	}
	s.TotalProfit = totalProfit

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.SuccessfulTrades) / float64(s.TotalTrades)
		s.AvgReturn = retSum / float64(s.TotalTrades)
	}
	s.SharpeRatio = m.sharpe()

	m.snapshot = s
}

// sharpe is mean/stddev of the per-trade return series, annualized by the
// observed trade frequency. Zero when there is no meaningful series.
func (m *Monitor) sharpe() float64 {
	n := len(m.trades)
	if n < 2 {
		return 0
	}

	var sum float64
	for _, t := range m.trades {
		sum += t.ret
	}
	mean := sum / float64(n)

	var variance float64
	for _, t := range m.trades {
		variance += (t.ret - mean) * (t.ret - mean)
	}
	variance /= float64(n - 1)
	if variance == 0 {
		return 0
	}

	span := m.trades[n-1].closedAt.Sub(m.trades[0].closedAt)
	if span <= 0 {
		return mean / math.Sqrt(variance)
	}
	tradesPerYear := float64(n) / (span.Hours() / (24 * 365))

	return mean / math.Sqrt(variance) * math.Sqrt(tradesPerYear)
}

// Snapshot returns the current performance snapshot. Two calls with no
// intervening closes return identical values.
func (m *Monitor) Snapshot() models.PerformanceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.BreakerTripped = m.breakerOpen()
	return s
}

// AllowTrading implements risk.Breaker.
func (m *Monitor) AllowTrading() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tripped {
		return nil
	}
	if m.cfg.Cooldown > 0 && m.now().Sub(m.trippedAt) >= m.cfg.Cooldown {
		m.resetLocked()
		log.Println("✅ Breaker cooldown elapsed, trading resumed")
		return nil
	}
	return fmt.Errorf("%w: drawdown %.2f%%", risk.ErrBreakerOpen, m.maxDrawdown*100)
}

// breakerOpen reports trip state without resetting. Caller holds at least a
// read lock.
func (m *Monitor) breakerOpen() bool {
	if !m.tripped {
		return false
	}
	if m.cfg.Cooldown > 0 && m.now().Sub(m.trippedAt) >= m.cfg.Cooldown {
		return false
	}
	return true
}

// ResetBreaker is the manual operator reset. It clears the trip flag and
// re-anchors drawdown tracking at the current equity.
func (m *Monitor) ResetBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Monitor) resetLocked() {
	m.tripped = false
	m.trippedAt = time.Time{}
	// Re-anchor the peak so the same historical drawdown does not instantly
	// re-trip on the next close.
	m.peak = m.equity
	m.maxDrawdown = 0
	m.rebuild()
}
