package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"bot_arbitrage/config"
	"bot_arbitrage/internal/exchange"
)

type stubGateway struct {
	equity float64
	err    error
}

func (g *stubGateway) PlaceOrder(ctx context.Context, symbol, side string, size float64) (*exchange.OrderResult, error) {
	return nil, nil
}

func (g *stubGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (g *stubGateway) GetPosition(ctx context.Context, symbol string) (*exchange.GatewayPosition, error) {
	return nil, nil
}

func (g *stubGateway) GetAccount(ctx context.Context) (*exchange.AccountInfo, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &exchange.AccountInfo{Balance: g.equity, Equity: g.equity}, nil
}

func TestStartingEquityPaperMode(t *testing.T) {
	cfg := &config.Config{
		ExecutionMode:  config.ModePaper,
		PaperBalance:   5000,
		RequestTimeout: time.Second,
	}

	// The gateway must not even be consulted in paper mode.
	got, err := startingEquity(cfg, &stubGateway{err: errors.New("should not be called")})
	if err != nil {
		t.Fatalf("startingEquity failed: %v", err)
	}
	if got != 5000 {
		t.Errorf("Expected the paper balance 5000, got %f", got)
	}
}

func TestStartingEquityLiveMode(t *testing.T) {
	cfg := &config.Config{
		ExecutionMode:  config.ModeLive,
		PaperBalance:   5000,
		RequestTimeout: time.Second,
	}

	got, err := startingEquity(cfg, &stubGateway{equity: 12345})
	if err != nil {
		t.Fatalf("startingEquity failed: %v", err)
	}
	if got != 12345 {
		t.Errorf("Live mode must anchor to the account equity 12345, got %f", got)
	}
}

func TestStartingEquityLiveModeError(t *testing.T) {
	cfg := &config.Config{
		ExecutionMode:  config.ModeLive,
		RequestTimeout: time.Second,
	}

	if _, err := startingEquity(cfg, &stubGateway{err: exchange.ErrAuthentication}); err == nil {
		t.Error("A failed equity fetch in live mode must surface the error")
	}
}
