package exchange

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

type paperPosition struct {
	symbol     string
	side       string
	size       float64 // USDT notional
	entryPrice float64
}

// EmulatorClient is the paper-trading OrderGateway. It fills every order
// instantly at the current mark price against a simulated balance, delegating
// market data to the wrapped source.
type EmulatorClient struct {
	data      MarketDataSource
	balance   float64
	feeRate   float64
	positions map[string]*paperPosition // keyed by order id
	mu        sync.RWMutex
}

func NewEmulatorClient(initialBalance, feeRate float64, data MarketDataSource) *EmulatorClient {
	return &EmulatorClient{
		data:      data,
		balance:   initialBalance,
		feeRate:   feeRate,
		positions: make(map[string]*paperPosition),
	}
}

func (e *EmulatorClient) PlaceOrder(ctx context.Context, symbol, side string, size float64) (*OrderResult, error) {
	ticker, err := e.data.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Closing order for an existing position on the opposite side settles PnL.
	for id, p := range e.positions {
		if p.symbol == symbol && p.side != side {
			pnl := paperPnl(p, ticker.Price)
			fee := p.size * e.feeRate
			e.balance += p.size + pnl - fee
			delete(e.positions, id)
			log.Printf("🎯 Emulator: Closed %s %s | %.4f → %.4f | P&L: %+.2f USDT",
				p.side, symbol, p.entryPrice, ticker.Price, pnl-fee)
			return &OrderResult{
				OrderID:       id,
				Symbol:        symbol,
				Side:          side,
				RequestedSize: size,
				FilledSize:    p.size,
				AvgPrice:      ticker.Price,
			}, nil
		}
	}

	if e.balance < size {
		return nil, fmt.Errorf("%w: %.2f USDT available, %.2f requested",
			ErrInsufficientBalance, e.balance, size)
	}

	fee := size * e.feeRate
	e.balance -= size + fee

	id := uuid.NewString()
	e.positions[id] = &paperPosition{
		symbol:     symbol,
		side:       side,
		size:       size,
		entryPrice: ticker.Price,
	}
	log.Printf("✅ Emulator: Opened %s %s at %.4f | Size: %.2f USDT",
		side, symbol, ticker.Price, size)

	return &OrderResult{
		OrderID:       id,
		Symbol:        symbol,
		Side:          side,
		RequestedSize: size,
		FilledSize:    size,
		AvgPrice:      ticker.Price,
	}, nil
}

func paperPnl(p *paperPosition, price float64) float64 {
	if p.side == "LONG" {
		return (price - p.entryPrice) / p.entryPrice * p.size
	}
	return (p.entryPrice - price) / p.entryPrice * p.size
}

func (e *EmulatorClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	// Paper fills are instantaneous, nothing rests on the book.
	return nil
}

func (e *EmulatorClient) GetPosition(ctx context.Context, symbol string) (*GatewayPosition, error) {
	ticker, err := e.data.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.positions {
		if p.symbol == symbol {
			amount := p.size / p.entryPrice
			if p.side == "SHORT" {
				amount = -amount
			}
			return &GatewayPosition{
				Symbol:     symbol,
				Amount:     amount,
				EntryPrice: p.entryPrice,
				MarkPrice:  ticker.Price,
			}, nil
		}
	}
	return &GatewayPosition{Symbol: symbol, MarkPrice: ticker.Price}, nil
}

func (e *EmulatorClient) GetAccount(ctx context.Context) (*AccountInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	equity := e.balance
	for _, p := range e.positions {
		equity += p.size
	}
	return &AccountInfo{Balance: e.balance, Equity: equity}, nil
}
