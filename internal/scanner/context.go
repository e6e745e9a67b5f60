package scanner

import (
	"math"

	"bot_arbitrage/internal/exchange"
)

// MarketContext is the per-symbol market condition input to scoring.
type MarketContext struct {
	Volatility float64 // annualized stddev of hourly returns
	Trend      string  // "BULLISH", "BEARISH", "NEUTRAL"
}

// buildContext derives volatility and trend from hourly klines. Needs at
// least 50 candles for a stable EMA50.
func buildContext(klines []exchange.Kline) *MarketContext {
	if len(klines) < 50 {
		return nil
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	return &MarketContext{
		Volatility: annualizedVolatility(closes),
		Trend:      trendOf(closes),
	}
}

// annualizedVolatility is the stddev of simple returns scaled to a year of
// hourly bars.
func annualizedVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	if len(returns) == 0 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * math.Sqrt(24*365)
}

func trendOf(closes []float64) string {
	ema20 := calculateEMA(closes, 20)
	ema50 := calculateEMA(closes, 50)

	if ema20 > ema50*1.002 {
		return "BULLISH"
	} else if ema20 < ema50*0.998 {
		return "BEARISH"
	}
	return "NEUTRAL"
}

func calculateEMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		// Not enough data for full EMA, return SMA as starting point
		sum := 0.0
		for _, p := range prices {
			sum += p
		}
		return sum / float64(len(prices))
	}

	multiplier := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)

	for i := period; i < len(prices); i++ {
		ema = (prices[i] * multiplier) + (ema * (1 - multiplier))
	}

	return ema
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
