package ledger

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bot_arbitrage/internal/models"
)

var (
	// ErrNoOpenPosition is returned on close when no matching OPEN position
	// exists; double-closes are rejected, never silently ignored.
	ErrNoOpenPosition = errors.New("no open position")
	// ErrSymbolOpen is returned when opening would create a second OPEN
	// position on the same symbol.
	ErrSymbolOpen = errors.New("symbol already has an open position")
)

// Ledger is the authoritative record of positions and realized PnL. All
// mutations go through one mutex so aggregate counts and the per-symbol
// exclusivity invariant hold under concurrent execution completions.
type Ledger struct {
	mu      sync.Mutex
	feeRate float64                     // round-trip fee as a fraction of notional
	open    map[string]*models.Position // keyed by execution id
	closed  []*models.Position
	now     func() time.Time
}

func New(feeRate float64) *Ledger {
	return &Ledger{
		feeRate: feeRate,
		open:    make(map[string]*models.Position),
		now:     time.Now,
	}
}

// OpenParams describes the position to register after a confirmed fill.
type OpenParams struct {
	ExecutionID     string
	Symbol          string
	Side            string
	Size            float64 // filled USDT notional
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

func (l *Ledger) Open(p OpenParams) (models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, pos := range l.open {
		if pos.Symbol == p.Symbol {
			return models.Position{}, fmt.Errorf("%w: %s", ErrSymbolOpen, p.Symbol)
		}
	}
	if _, ok := l.open[p.ExecutionID]; ok {
		return models.Position{}, fmt.Errorf("execution %s already holds a position", p.ExecutionID)
	}

	pos := &models.Position{
		ID:              uuid.NewString(),
		ExecutionID:     p.ExecutionID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Size:            p.Size,
		EntryPrice:      p.EntryPrice,
		StopLossPrice:   p.StopLossPrice,
		TakeProfitPrice: p.TakeProfitPrice,
		OpenedAt:        l.now(),
		Status:          models.PositionOpen,
	}
	l.open[p.ExecutionID] = pos
	return *pos, nil
}

// Close settles the execution's position at exitPrice and returns the
// realized PnL net of fees.
func (l *Ledger) Close(executionID string, exitPrice float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.open[executionID]
	if !ok {
		return 0, fmt.Errorf("%w: execution %s", ErrNoOpenPosition, executionID)
	}

	fees := pos.Size * l.feeRate
	pnl := RealizedPnl(pos.EntryPrice, exitPrice, pos.Size, pos.Side, fees)

	pos.ExitPrice = exitPrice
	pos.RealizedPnl = pnl
	pos.ClosedAt = l.now()
	pos.Status = models.PositionClosed

	delete(l.open, executionID)
	l.closed = append(l.closed, pos)

	log.Printf("🎯 Ledger: Closed %s %s | %.4f → %.4f | P&L: %+.2f USDT",
		pos.Side, pos.Symbol, pos.EntryPrice, exitPrice, pnl)
	return pnl, nil
}

// RealizedPnl computes (exit − entry) × (size/entry) × directionSign − fees,
// with size expressed in quote currency so size/entry is the unit count.
// Canonical fixture: entry 50000, exit 50600, size 1000, LONG, fees 5 ⇒ 7.0.
// decimal keeps the fee subtraction exact at small magnitudes.
func RealizedPnl(entryPrice, exitPrice, size float64, side string, fees float64) float64 {
	entry := decimal.NewFromFloat(entryPrice)
	if entry.IsZero() {
		return -fees
	}
	exit := decimal.NewFromFloat(exitPrice)
	units := decimal.NewFromFloat(size).Div(entry)

	pnl := exit.Sub(entry).Mul(units)
	if side == models.SideShort {
		pnl = pnl.Neg()
	}
	out, _ := pnl.Sub(decimal.NewFromFloat(fees)).Float64()
	return out
}

// Get returns a copy of the OPEN position for an execution.
func (l *Ledger) Get(executionID string) (models.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.open[executionID]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// OpenPositions returns copies; the ledger keeps exclusive ownership of the
// originals.
func (l *Ledger) OpenPositions() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, *p)
	}
	return out
}

func (l *Ledger) ClosedPositions() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Position, 0, len(l.closed))
	for _, p := range l.closed {
		out = append(out, *p)
	}
	return out
}

// Exposure is the sum of open notionals, an input to portfolio risk budgets.
func (l *Ledger) Exposure() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, p := range l.open {
		total += p.Size
	}
	return total
}

// OpenSymbols reports which symbols currently hold an OPEN position.
func (l *Ledger) OpenSymbols() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]bool, len(l.open))
	for _, p := range l.open {
		out[p.Symbol] = true
	}
	return out
}
