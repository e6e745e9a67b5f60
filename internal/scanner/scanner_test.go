package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"bot_arbitrage/internal/exchange"
	"bot_arbitrage/internal/models"
)

type fakeData struct {
	rates       map[string]float64
	errs        map[string]error
	depth       float64 // notional per book level
	klines      []exchange.Kline
	nextFunding time.Time
}

func newFakeData() *fakeData {
	return &fakeData{
		rates: make(map[string]float64),
		errs:  make(map[string]error),
		depth: 100000,
	}
}

func (f *fakeData) GetFundingRate(ctx context.Context, symbol string) (*exchange.FundingInfo, error) {
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	rate, ok := f.rates[symbol]
	if !ok {
		return nil, exchange.ErrMarketDataUnavailable
	}
	next := f.nextFunding
	if next.IsZero() {
		next = time.Now().Add(4 * time.Hour)
	}
	return &exchange.FundingInfo{
		Symbol:          symbol,
		Rate:            rate,
		MarkPrice:       50000,
		NextFundingTime: next,
	}, nil
}

func (f *fakeData) GetAllFundingRates(ctx context.Context) ([]exchange.FundingInfo, error) {
	var out []exchange.FundingInfo
	for sym := range f.rates {
		fi, err := f.GetFundingRate(ctx, sym)
		if err != nil {
			continue
		}
		out = append(out, *fi)
	}
	return out, nil
}

func (f *fakeData) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol, Price: 50000}, nil
}

func (f *fakeData) GetOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	level := exchange.BookLevel{Price: 50000, Quantity: f.depth / 50000}
	return &exchange.OrderBook{
		Symbol: symbol,
		Bids:   []exchange.BookLevel{level, level},
		Asks:   []exchange.BookLevel{level, level},
	}, nil
}

func (f *fakeData) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	if f.klines != nil {
		return f.klines, nil
	}
	// Flat market: zero volatility, neutral trend.
	klines := make([]exchange.Kline, 100)
	base := time.Now().Add(-100 * time.Hour)
	for i := range klines {
		klines[i] = exchange.Kline{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     50000, High: 50000, Low: 50000, Close: 50000,
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return klines, nil
}

func testConfig() Config {
	return Config{MinFundingRateThreshold: 0.01, MaxPositionSize: 1000}
}

func TestScanThreshold(t *testing.T) {
	data := newFakeData()
	data.rates["BTCUSDT"] = 0.012
	data.rates["ETHUSDT"] = 0.004 // below threshold

	s := New(data, testConfig())
	report, err := s.Scan(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(report.Opportunities) != 1 {
		t.Fatalf("Expected 1 opportunity, got %d", len(report.Opportunities))
	}
	if report.Opportunities[0].Symbol != "BTCUSDT" {
		t.Errorf("Expected BTCUSDT, got %s", report.Opportunities[0].Symbol)
	}
	if len(report.Failures) != 0 {
		t.Errorf("Below-threshold symbols must not count as failures, got %d", len(report.Failures))
	}
}

func TestScanNegativeRateRecommendsLong(t *testing.T) {
	data := newFakeData()
	data.rates["SOLUSDT"] = -0.02

	s := New(data, testConfig())
	report, _ := s.Scan(context.Background(), []string{"SOLUSDT"})

	if len(report.Opportunities) != 1 {
		t.Fatalf("Expected 1 opportunity, got %d", len(report.Opportunities))
	}
	if got := report.Opportunities[0].RecommendedAction; got != models.SideLong {
		t.Errorf("Negative funding rate should recommend LONG, got %s", got)
	}
}

func TestScanPositiveRateRecommendsShort(t *testing.T) {
	data := newFakeData()
	data.rates["BTCUSDT"] = 0.02

	s := New(data, testConfig())
	report, _ := s.Scan(context.Background(), []string{"BTCUSDT"})

	if len(report.Opportunities) != 1 {
		t.Fatalf("Expected 1 opportunity, got %d", len(report.Opportunities))
	}
	if got := report.Opportunities[0].RecommendedAction; got != models.SideShort {
		t.Errorf("Positive funding rate should recommend SHORT, got %s", got)
	}
}

func TestScanScoresInRange(t *testing.T) {
	data := newFakeData()
	data.rates["BTCUSDT"] = 0.08 // extreme rate, risk bump applies
	data.rates["XRPUSDT"] = 0.011
	data.depth = 500 // thin book

	s := New(data, testConfig())
	report, _ := s.Scan(context.Background(), []string{"BTCUSDT", "XRPUSDT"})

	for _, o := range report.Opportunities {
		if o.Confidence < 0 || o.Confidence > 1 {
			t.Errorf("%s confidence out of range: %f", o.Symbol, o.Confidence)
		}
		if o.RiskScore < 0 || o.RiskScore > 1 {
			t.Errorf("%s risk score out of range: %f", o.Symbol, o.RiskScore)
		}
		if o.RecommendedSize <= 0 || o.RecommendedSize > 1000 {
			t.Errorf("%s recommended size out of range: %f", o.Symbol, o.RecommendedSize)
		}
	}
}

func TestScanSortedByExpectedProfit(t *testing.T) {
	data := newFakeData()
	data.rates["AUSDT"] = 0.011
	data.rates["BUSDT"] = 0.03
	data.rates["CUSDT"] = 0.02

	s := New(data, testConfig())
	report, _ := s.Scan(context.Background(), []string{"AUSDT", "BUSDT", "CUSDT"})

	if len(report.Opportunities) != 3 {
		t.Fatalf("Expected 3 opportunities, got %d", len(report.Opportunities))
	}
	for i := 1; i < len(report.Opportunities); i++ {
		if report.Opportunities[i].ExpectedProfit > report.Opportunities[i-1].ExpectedProfit {
			t.Errorf("Opportunities not sorted by expected profit: %f before %f",
				report.Opportunities[i-1].ExpectedProfit, report.Opportunities[i].ExpectedProfit)
		}
	}
}

func TestScanFailureIsolation(t *testing.T) {
	data := newFakeData()
	data.rates["BTCUSDT"] = 0.015
	data.errs["BADUSDT"] = errors.New("connection reset")

	s := New(data, testConfig())
	report, err := s.Scan(context.Background(), []string{"BTCUSDT", "BADUSDT"})
	if err != nil {
		t.Fatalf("One bad symbol must not fail the whole scan: %v", err)
	}

	if len(report.Opportunities) != 1 || report.Opportunities[0].Symbol != "BTCUSDT" {
		t.Errorf("Healthy symbol should still be scanned, got %+v", report.Opportunities)
	}
	if len(report.Failures) != 1 || report.Failures[0].Symbol != "BADUSDT" {
		t.Errorf("Expected BADUSDT in failures, got %+v", report.Failures)
	}
}

func TestScanDiscardsEmptyBook(t *testing.T) {
	data := newFakeData()
	data.rates["BTCUSDT"] = 0.02
	data.depth = 0

	s := New(data, testConfig())
	report, err := s.Scan(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(report.Opportunities) != 0 {
		t.Errorf("Empty order book must discard the opportunity, got %+v", report.Opportunities)
	}
	if len(report.Failures) != 0 {
		t.Errorf("Liquidity discard is not a fetch failure, got %+v", report.Failures)
	}
}

func TestScanEmptySymbols(t *testing.T) {
	s := New(newFakeData(), testConfig())
	report, err := s.Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scan of empty symbol list failed: %v", err)
	}
	if len(report.Opportunities) != 0 || len(report.Failures) != 0 {
		t.Errorf("Empty symbol list should produce an empty report")
	}
}

func TestScanTimeToFundingUsesScannerClock(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	data := newFakeData()
	data.rates["BTCUSDT"] = 0.02
	data.nextFunding = fixed.Add(4 * time.Hour)

	s := New(data, testConfig())
	s.now = func() time.Time { return fixed }

	report, err := s.Scan(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(report.Opportunities) != 1 {
		t.Fatalf("Expected 1 opportunity, got %d", len(report.Opportunities))
	}

	opp := report.Opportunities[0]
	if want := (4 * time.Hour).Milliseconds(); opp.TimeToFundingMs != want {
		t.Errorf("Expected TimeToFundingMs %d, got %d", want, opp.TimeToFundingMs)
	}
	if !opp.DetectedAt.Equal(fixed) {
		t.Errorf("Expected DetectedAt %v, got %v", fixed, opp.DetectedAt)
	}
}
