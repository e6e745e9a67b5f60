package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"bot_arbitrage/internal/exchange"
	"bot_arbitrage/internal/models"
)

// Scoring constants. extremeRateCeiling is the funding rate treated as
// "maximum strength"; rates above it add risk instead of confidence.
const (
	extremeRateCeiling = 0.05
	volatilityCeiling  = 1.0 // 100% annualized reads as fully unstable
	depthMultiple      = 10  // book must hold 10x the candidate size for a full liquidity score

	weightFunding   = 0.40
	weightLiquidity = 0.35
	weightStability = 0.25
)

var majorPairs = map[string]bool{"BTCUSDT": true, "ETHUSDT": true}

type Config struct {
	MinFundingRateThreshold float64
	MaxPositionSize         float64
	BookDepth               int // order book levels per side to request
}

// Scanner turns funding-rate data into scored, ranked opportunities. It is a
// pure function of the fetched inputs and holds no mutable state.
type Scanner struct {
	data exchange.MarketDataSource
	cfg  Config
	now  func() time.Time
}

func New(data exchange.MarketDataSource, cfg Config) *Scanner {
	if cfg.BookDepth == 0 {
		cfg.BookDepth = 20
	}
	return &Scanner{data: data, cfg: cfg, now: time.Now}
}

// ScanFailure records a per-symbol fetch failure. Failures are surfaced, not
// thrown: one bad symbol never aborts the scan for the rest.
type ScanFailure struct {
	Symbol string
	Err    error
}

func (f ScanFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Symbol string `json:"symbol"`
		Error  string `json:"error"`
	}{f.Symbol, f.Err.Error()})
}

type ScanReport struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Failures      []ScanFailure        `json:"failures,omitempty"`
	ScannedAt     time.Time            `json:"scannedAt"`
}

type symbolResult struct {
	opp *models.Opportunity
	err *ScanFailure
}

// Scan fetches funding rates and market context for every symbol and returns
// the opportunities sorted by expected profit descending, ties broken by
// confidence then symbol for a deterministic order.
func (s *Scanner) Scan(ctx context.Context, symbols []string) (*ScanReport, error) {
	if len(symbols) == 0 {
		return &ScanReport{ScannedAt: s.now()}, nil
	}

	resultChan := make(chan symbolResult, len(symbols))
	sem := make(chan struct{}, 10) // bounded fetch concurrency

	for _, symbol := range symbols {
		sem <- struct{}{}
		go func(sym string) {
			defer func() { <-sem }()
			resultChan <- s.scanSymbol(ctx, sym)
		}(symbol)
	}

	report := &ScanReport{ScannedAt: s.now()}
	for i := 0; i < len(symbols); i++ {
		res := <-resultChan
		if res.err != nil {
			report.Failures = append(report.Failures, *res.err)
			continue
		}
		if res.opp != nil {
			report.Opportunities = append(report.Opportunities, *res.opp)
		}
	}

	sort.Slice(report.Opportunities, func(i, j int) bool {
		a, b := report.Opportunities[i], report.Opportunities[j]
		if a.ExpectedProfit != b.ExpectedProfit {
			return a.ExpectedProfit > b.ExpectedProfit
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Symbol < b.Symbol
	})

	log.Printf("🔍 Scan complete: %d opportunities, %d failures across %d symbols",
		len(report.Opportunities), len(report.Failures), len(symbols))
	return report, nil
}

// scanSymbol returns (nil, nil) when the symbol is simply below threshold.
func (s *Scanner) scanSymbol(ctx context.Context, symbol string) symbolResult {
	funding, err := s.data.GetFundingRate(ctx, symbol)
	if err != nil {
		return symbolResult{err: &ScanFailure{Symbol: symbol, Err: err}}
	}

	if math.Abs(funding.Rate) < s.cfg.MinFundingRateThreshold {
		return symbolResult{}
	}

	book, err := s.data.GetOrderBook(ctx, symbol, s.cfg.BookDepth)
	if err != nil {
		return symbolResult{err: &ScanFailure{Symbol: symbol, Err: err}}
	}

	klines, err := s.data.GetKlines(ctx, symbol, "1h", 100)
	if err != nil {
		return symbolResult{err: &ScanFailure{Symbol: symbol, Err: err}}
	}

	opp := s.score(symbol, funding, book, buildContext(klines))
	return symbolResult{opp: opp}
}

// score builds the opportunity. Every sub-score is clipped to [0,1] before
// weighting, so the aggregate confidence stays in range by construction.
func (s *Scanner) score(symbol string, funding *exchange.FundingInfo, book *exchange.OrderBook, mc *MarketContext) *models.Opportunity {
	action := models.SideShort // positive rate: longs pay shorts, collect by holding short
	if funding.Rate < 0 {
		action = models.SideLong
	}

	fundingStrength := clip01(math.Abs(funding.Rate) / extremeRateCeiling)
	candidateSize := s.cfg.MaxPositionSize * fundingStrength
	if candidateSize <= 0 {
		return nil
	}

	depth := book.DepthNotional(action)
	if depth <= 0 {
		// No resting liquidity on the side we would trade into: discard
		// before risk assessment ever sees it.
		return nil
	}
	liquidity := clip01(depth / (candidateSize * depthMultiple))

	stability := 1.0
	volatility := 0.0
	if mc != nil {
		volatility = mc.Volatility
		stability = 1 - clip01(volatility/volatilityCeiling)
		if mc.Trend != "NEUTRAL" {
			stability /= 2
		}
	}

	confidence := weightFunding*fundingStrength +
		weightLiquidity*liquidity +
		weightStability*clip01(stability)

	risk := 0.6*(1-confidence) + 0.4*clip01(volatility/volatilityCeiling)
	if math.Abs(funding.Rate) > extremeRateCeiling {
		risk += 0.2 // extreme funding usually means market stress
	}
	if majorPairs[symbol] {
		risk -= 0.1
	}

	// Thin books discount the expected profit.
	discount := 1.0
	if liquidity < 1 {
		discount = 0.5 + 0.5*liquidity
	}
	expectedProfit := math.Abs(funding.Rate) * candidateSize * discount

	timeToFunding := funding.NextFundingTime.Sub(s.now())
	if timeToFunding < 0 {
		timeToFunding = 0
	}

	return &models.Opportunity{
		Symbol:            symbol,
		FundingRate:       funding.Rate,
		ExpectedProfit:    expectedProfit,
		Confidence:        clip01(confidence),
		RiskScore:         clip01(risk),
		RecommendedAction: action,
		RecommendedSize:   candidateSize,
		TimeToFundingMs:   timeToFunding.Milliseconds(),
		DetectedAt:        s.now(),
		Reasoning:         fmt.Sprintf("Funding rate: %.4f (%.2f%%)", funding.Rate, funding.Rate*100),
	}
}
