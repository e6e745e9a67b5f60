package ledger

import (
	"errors"
	"math"
	"testing"

	"bot_arbitrage/internal/models"
)

func TestRealizedPnlLong(t *testing.T) {
	// 1000 USDT at 50000 is 0.02 units; +600 move earns 12, minus 5 fees.
	got := RealizedPnl(50000, 50600, 1000, models.SideLong, 5)
	if math.Abs(got-7.0) > 1e-9 {
		t.Errorf("Expected 7.0, got %f", got)
	}
}

func TestRealizedPnlShort(t *testing.T) {
	// Short profits when price falls.
	got := RealizedPnl(50000, 49400, 1000, models.SideShort, 5)
	if math.Abs(got-7.0) > 1e-9 {
		t.Errorf("Expected 7.0, got %f", got)
	}

	// And loses when it rises.
	got = RealizedPnl(50000, 50600, 1000, models.SideShort, 5)
	if math.Abs(got-(-17.0)) > 1e-9 {
		t.Errorf("Expected -17.0, got %f", got)
	}
}

func TestRealizedPnlZeroEntry(t *testing.T) {
	if got := RealizedPnl(0, 100, 1000, models.SideLong, 5); got != -5 {
		t.Errorf("Zero entry price should cost only the fees, got %f", got)
	}
}

func TestOpenCloseRoundTrip(t *testing.T) {
	l := New(0.0005)

	pos, err := l.Open(OpenParams{
		ExecutionID: "exec-1",
		Symbol:      "BTCUSDT",
		Side:        models.SideLong,
		Size:        1000,
		EntryPrice:  50000,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pos.Status != models.PositionOpen {
		t.Errorf("Expected OPEN status, got %s", pos.Status)
	}
	if l.Exposure() != 1000 {
		t.Errorf("Expected exposure 1000, got %f", l.Exposure())
	}

	pnl, err := l.Close("exec-1", 50600)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Fees: 1000 * 0.0005 = 0.5; gross 12.
	if math.Abs(pnl-11.5) > 1e-9 {
		t.Errorf("Expected pnl 11.5, got %f", pnl)
	}

	if l.Exposure() != 0 {
		t.Errorf("Expected zero exposure after close, got %f", l.Exposure())
	}
	closed := l.ClosedPositions()
	if len(closed) != 1 || closed[0].Status != models.PositionClosed {
		t.Errorf("Expected one CLOSED position, got %+v", closed)
	}
}

func TestCloseTwiceRejected(t *testing.T) {
	l := New(0)
	if _, err := l.Open(OpenParams{ExecutionID: "exec-1", Symbol: "BTCUSDT", Side: models.SideLong, Size: 100, EntryPrice: 100}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := l.Close("exec-1", 110); err != nil {
		t.Fatalf("First close failed: %v", err)
	}

	_, err := l.Close("exec-1", 110)
	if !errors.Is(err, ErrNoOpenPosition) {
		t.Errorf("Second close must return ErrNoOpenPosition, got %v", err)
	}
}

func TestCloseUnknownExecution(t *testing.T) {
	l := New(0)
	if _, err := l.Close("missing", 100); !errors.Is(err, ErrNoOpenPosition) {
		t.Errorf("Expected ErrNoOpenPosition, got %v", err)
	}
}

func TestSymbolExclusivity(t *testing.T) {
	l := New(0)
	if _, err := l.Open(OpenParams{ExecutionID: "exec-1", Symbol: "BTCUSDT", Side: models.SideShort, Size: 100, EntryPrice: 100}); err != nil {
		t.Fatalf("First open failed: %v", err)
	}

	_, err := l.Open(OpenParams{ExecutionID: "exec-2", Symbol: "BTCUSDT", Side: models.SideLong, Size: 100, EntryPrice: 100})
	if !errors.Is(err, ErrSymbolOpen) {
		t.Errorf("Second open on the same symbol must return ErrSymbolOpen, got %v", err)
	}

	// A different symbol is fine.
	if _, err := l.Open(OpenParams{ExecutionID: "exec-3", Symbol: "ETHUSDT", Side: models.SideLong, Size: 100, EntryPrice: 100}); err != nil {
		t.Errorf("Open on a different symbol failed: %v", err)
	}

	symbols := l.OpenSymbols()
	if !symbols["BTCUSDT"] || !symbols["ETHUSDT"] || len(symbols) != 2 {
		t.Errorf("Unexpected open symbols: %+v", symbols)
	}
}
