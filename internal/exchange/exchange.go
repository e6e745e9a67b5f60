package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
)

// Sentinel errors for the gateway taxonomy. Callers branch on these to
// decide whether a failure is retriable, fatal, or merely expected.
var (
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrAuthentication        = errors.New("authentication failed")
	ErrOrderRejected         = errors.New("order rejected")
	ErrInsufficientBalance   = errors.New("insufficient balance")
)

// FundingInfo is the premium-index snapshot for one perpetual symbol.
type FundingInfo struct {
	Symbol          string
	Rate            float64 // signed fraction
	MarkPrice       float64
	NextFundingTime time.Time
}

type Ticker struct {
	Symbol string
	Price  float64
}

type BookLevel struct {
	Price    float64
	Quantity float64
}

type OrderBook struct {
	Symbol string
	Bids   []BookLevel
	Asks   []BookLevel
}

// DepthNotional returns the total quoted notional (price*qty) on the side the
// given order would consume.
func (ob *OrderBook) DepthNotional(side string) float64 {
	levels := ob.Bids // a SHORT entry sells into bids
	if side == "LONG" {
		levels = ob.Asks
	}
	var total float64
	for _, l := range levels {
		total += l.Price * l.Quantity
	}
	return total
}

type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

type AccountInfo struct {
	Balance float64 // wallet balance, USDT
	Equity  float64 // balance + unrealized PnL
}

// OrderResult reports a placement. Partial fills are reported distinctly:
// FilledSize < RequestedSize and Partial set.
type OrderResult struct {
	OrderID       string
	Symbol        string
	Side          string
	RequestedSize float64 // USDT notional
	FilledSize    float64 // USDT notional actually filled
	AvgPrice      float64
	Partial       bool
}

// GatewayPosition is the exchange's own view of a position, used for
// reconciliation queries.
type GatewayPosition struct {
	Symbol     string
	Amount     float64 // signed base quantity, negative = short
	EntryPrice float64
	MarkPrice  float64
}

// MarketDataSource supplies read-only market context. Implementations must be
// side-effect free; every call honors ctx cancellation.
type MarketDataSource interface {
	GetFundingRate(ctx context.Context, symbol string) (*FundingInfo, error)
	GetAllFundingRates(ctx context.Context) ([]FundingInfo, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}

// OrderGateway places and closes orders and reports account state.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, symbol, side string, size float64) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPosition(ctx context.Context, symbol string) (*GatewayPosition, error)
	GetAccount(ctx context.Context) (*AccountInfo, error)
}

// FuturesClient is the real Binance USDT-M futures client. It implements both
// MarketDataSource and OrderGateway. Idempotent reads are retried with capped
// backoff; order placement is never retried.
type FuturesClient struct {
	client         *futures.Client
	requestTimeout time.Duration
}

func NewFuturesClient(apiKey, secretKey string, testnet bool, requestTimeout time.Duration) *FuturesClient {
	if testnet {
		futures.UseTestnet = true
	}
	return &FuturesClient{
		client:         futures.NewClient(apiKey, secretKey),
		requestTimeout: requestTimeout,
	}
}

// retryRead runs fn up to 3 times with jittered backoff. Used for read-only
// endpoints only.
func (b *FuturesClient) retryRead(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: true}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-time.After(bo.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrMarketDataUnavailable, err)
}

func (b *FuturesClient) GetFundingRate(ctx context.Context, symbol string) (*FundingInfo, error) {
	var out *FundingInfo
	err := b.retryRead(ctx, func(ctx context.Context) error {
		premiums, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(premiums) == 0 {
			return fmt.Errorf("no premium index for %s", symbol)
		}
		out = premiumToFunding(premiums[0])
		return nil
	})
	return out, err
}

func (b *FuturesClient) GetAllFundingRates(ctx context.Context) ([]FundingInfo, error) {
	var out []FundingInfo
	err := b.retryRead(ctx, func(ctx context.Context) error {
		premiums, err := b.client.NewPremiumIndexService().Do(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, p := range premiums {
			if !strings.HasSuffix(p.Symbol, "USDT") {
				continue
			}
			out = append(out, *premiumToFunding(p))
		}
		return nil
	})
	return out, err
}

func premiumToFunding(p *futures.PremiumIndex) *FundingInfo {
	return &FundingInfo{
		Symbol:          p.Symbol,
		Rate:            parseFloat(p.LastFundingRate),
		MarkPrice:       parseFloat(p.MarkPrice),
		NextFundingTime: time.Unix(p.NextFundingTime/1000, 0),
	}
}

func (b *FuturesClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var out *Ticker
	err := b.retryRead(ctx, func(ctx context.Context) error {
		prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("no price data for %s", symbol)
		}
		out = &Ticker{Symbol: symbol, Price: parseFloat(prices[0].Price)}
		return nil
	})
	return out, err
}

func (b *FuturesClient) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	var out *OrderBook
	err := b.retryRead(ctx, func(ctx context.Context) error {
		res, err := b.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
		if err != nil {
			return err
		}
		book := &OrderBook{Symbol: symbol}
		for _, bid := range res.Bids {
			book.Bids = append(book.Bids, BookLevel{parseFloat(bid.Price), parseFloat(bid.Quantity)})
		}
		for _, ask := range res.Asks {
			book.Asks = append(book.Asks, BookLevel{parseFloat(ask.Price), parseFloat(ask.Quantity)})
		}
		out = book
		return nil
	})
	return out, err
}

func (b *FuturesClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var out []Kline
	err := b.retryRead(ctx, func(ctx context.Context) error {
		klines, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return err
		}
		out = make([]Kline, len(klines))
		for i, k := range klines {
			out[i] = Kline{
				OpenTime:  time.Unix(k.OpenTime/1000, 0),
				Open:      parseFloat(k.Open),
				High:      parseFloat(k.High),
				Low:       parseFloat(k.Low),
				Close:     parseFloat(k.Close),
				Volume:    parseFloat(k.Volume),
				CloseTime: time.Unix(k.CloseTime/1000, 0),
			}
		}
		return nil
	})
	return out, err
}

// PlaceOrder submits a market order sized in USDT notional. No retry: a
// timed-out placement is a failure, never re-sent.
func (b *FuturesClient) PlaceOrder(ctx context.Context, symbol, side string, size float64) (*OrderResult, error) {
	ticker, err := b.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	quantity := size / ticker.Price

	orderSide := futures.SideTypeSell
	if side == "LONG" {
		orderSide = futures.SideTypeBuy
	}

	callCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		Type(futures.OrderTypeMarket).
		Quantity(fmt.Sprintf("%.6f", quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(callCtx)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: placement timed out", ErrOrderRejected)
		}
		return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}

	filledQty := parseFloat(res.ExecutedQuantity)
	avgPrice := parseFloat(res.AvgPrice)
	if avgPrice == 0 {
		avgPrice = ticker.Price
	}
	result := &OrderResult{
		OrderID:       fmt.Sprintf("%d", res.OrderID),
		Symbol:        symbol,
		Side:          side,
		RequestedSize: size,
		FilledSize:    filledQty * avgPrice,
		AvgPrice:      avgPrice,
		Partial:       res.Status == futures.OrderStatusTypePartiallyFilled,
	}
	if res.Status != futures.OrderStatusTypeFilled && res.Status != futures.OrderStatusTypePartiallyFilled {
		return nil, fmt.Errorf("%w: status %s", ErrOrderRejected, res.Status)
	}
	return result, nil
}

func (b *FuturesClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	var id int64
	if _, err := fmt.Sscanf(orderID, "%d", &id); err != nil {
		return fmt.Errorf("invalid order id %q", orderID)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()
	_, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(callCtx)
	return err
}

func (b *FuturesClient) GetPosition(ctx context.Context, symbol string) (*GatewayPosition, error) {
	var out *GatewayPosition
	err := b.retryRead(ctx, func(ctx context.Context) error {
		risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(risks) == 0 {
			out = &GatewayPosition{Symbol: symbol}
			return nil
		}
		r := risks[0]
		out = &GatewayPosition{
			Symbol:     symbol,
			Amount:     parseFloat(r.PositionAmt),
			EntryPrice: parseFloat(r.EntryPrice),
			MarkPrice:  parseFloat(r.MarkPrice),
		}
		return nil
	})
	return out, err
}

func (b *FuturesClient) GetAccount(ctx context.Context) (*AccountInfo, error) {
	var out *AccountInfo
	err := b.retryRead(ctx, func(ctx context.Context) error {
		account, err := b.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return err
		}
		for _, asset := range account.Assets {
			if asset.Asset == "USDT" {
				out = &AccountInfo{
					Balance: parseFloat(asset.WalletBalance),
					Equity:  parseFloat(asset.MarginBalance),
				}
				return nil
			}
		}
		out = &AccountInfo{}
		return nil
	})
	if err != nil && strings.Contains(err.Error(), "code=-2015") {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return out, err
}

// Helper function
func parseFloat(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%f", &f)
	return f
}
