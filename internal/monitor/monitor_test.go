package monitor

import (
	"errors"
	"math"
	"testing"
	"time"

	"bot_arbitrage/internal/risk"
)

func TestSnapshotIdempotent(t *testing.T) {
	m := New(Config{InitialEquity: 5000})
	m.RecordOpen()
	m.RecordClose(10, 1000)
	m.RecordClose(-4, 1000)

	first := m.Snapshot()
	second := m.Snapshot()
	if first != second {
		t.Errorf("Snapshot must be stable between closes:\n%+v\n%+v", first, second)
	}
}

func TestSnapshotAggregates(t *testing.T) {
	m := New(Config{InitialEquity: 5000})
	m.RecordOpen()
	m.RecordOpen()
	m.RecordClose(10, 1000) // +1%
	m.RecordClose(-5, 1000) // -0.5%
	m.RecordClose(20, 1000) // +2%

	s := m.Snapshot()
	if s.TotalTrades != 3 {
		t.Errorf("Expected 3 trades, got %d", s.TotalTrades)
	}
	if s.SuccessfulTrades != 2 {
		t.Errorf("Expected 2 wins, got %d", s.SuccessfulTrades)
	}
	if math.Abs(s.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("Expected win rate 2/3, got %f", s.WinRate)
	}
	if math.Abs(s.TotalProfit-25) > 1e-9 {
		t.Errorf("Expected total profit 25, got %f", s.TotalProfit)
	}
	if math.Abs(s.AvgReturn-0.025/3) > 1e-9 {
		t.Errorf("Expected avg return %.6f, got %f", 0.025/3, s.AvgReturn)
	}
	// Two opens, three closes: active never goes negative.
	if s.ActiveTrades != 0 {
		t.Errorf("Expected 0 active trades, got %d", s.ActiveTrades)
	}
}

func TestBreakerTripsOnDrawdown(t *testing.T) {
	m := New(Config{InitialEquity: 1000, MaxDrawdown: 0.15})

	if err := m.AllowTrading(); err != nil {
		t.Fatalf("Fresh monitor must allow trading: %v", err)
	}

	// 20% drawdown from the 1000 peak.
	m.RecordClose(-200, 1000)

	err := m.AllowTrading()
	if !errors.Is(err, risk.ErrBreakerOpen) {
		t.Fatalf("Expected ErrBreakerOpen after 20%% drawdown, got %v", err)
	}
	if !m.Snapshot().BreakerTripped {
		t.Error("Snapshot should report the tripped breaker")
	}
}

func TestBreakerStaysClosedWithinCeiling(t *testing.T) {
	m := New(Config{InitialEquity: 1000, MaxDrawdown: 0.15})
	m.RecordClose(-100, 1000) // 10% drawdown

	if err := m.AllowTrading(); err != nil {
		t.Errorf("Drawdown within ceiling must not trip the breaker: %v", err)
	}
}

func TestBreakerManualReset(t *testing.T) {
	m := New(Config{InitialEquity: 1000, MaxDrawdown: 0.15})
	m.RecordClose(-200, 1000)

	if err := m.AllowTrading(); err == nil {
		t.Fatal("Breaker should be tripped")
	}

	m.ResetBreaker()
	if err := m.AllowTrading(); err != nil {
		t.Errorf("Trading must resume after manual reset: %v", err)
	}

	// The reset re-anchors the peak; a small follow-up loss from the lower
	// equity must not re-trip immediately.
	m.RecordClose(-10, 1000)
	if err := m.AllowTrading(); err != nil {
		t.Errorf("Re-anchored breaker tripped too eagerly: %v", err)
	}
}

func TestBreakerCooldownAutoReset(t *testing.T) {
	m := New(Config{InitialEquity: 1000, MaxDrawdown: 0.15, Cooldown: time.Hour})

	current := time.Now()
	m.now = func() time.Time { return current }

	m.RecordClose(-200, 1000)
	if err := m.AllowTrading(); err == nil {
		t.Fatal("Breaker should be tripped")
	}

	current = current.Add(30 * time.Minute)
	if err := m.AllowTrading(); err == nil {
		t.Error("Breaker must stay tripped before the cooldown elapses")
	}

	current = current.Add(31 * time.Minute)
	if err := m.AllowTrading(); err != nil {
		t.Errorf("Breaker must auto-reset after the cooldown: %v", err)
	}
}

func TestSharpeDegenerateSeries(t *testing.T) {
	m := New(Config{InitialEquity: 1000})
	if s := m.Snapshot(); s.SharpeRatio != 0 {
		t.Errorf("Empty series must have zero Sharpe, got %f", s.SharpeRatio)
	}

	m.RecordClose(10, 1000)
	if s := m.Snapshot(); s.SharpeRatio != 0 {
		t.Errorf("Single trade must have zero Sharpe, got %f", s.SharpeRatio)
	}

	// Identical returns: zero variance.
	m.RecordClose(10, 1000)
	if s := m.Snapshot(); s.SharpeRatio != 0 {
		t.Errorf("Zero-variance series must have zero Sharpe, got %f", s.SharpeRatio)
	}
}

func TestSharpeSignFollowsMeanReturn(t *testing.T) {
	m := New(Config{InitialEquity: 1000})
	current := time.Now()
	m.now = func() time.Time { return current }

	for _, pnl := range []float64{10, 12, 8, 11} {
		current = current.Add(time.Hour)
		m.RecordClose(pnl, 1000)
	}

	if s := m.Snapshot(); s.SharpeRatio <= 0 {
		t.Errorf("Consistently profitable series must have positive Sharpe, got %f", s.SharpeRatio)
	}
}
