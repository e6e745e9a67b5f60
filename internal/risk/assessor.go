package risk

import (
	"errors"
	"fmt"
	"math"

	"bot_arbitrage/internal/models"
)

// ErrBreakerOpen means the performance breaker has tripped and no new risk
// may be taken until it resets.
var ErrBreakerOpen = errors.New("performance breaker open")

// Breaker is consulted before any new exposure. The monitor implements it.
type Breaker interface {
	// AllowTrading returns ErrBreakerOpen (or a wrap of it) when tripped.
	AllowTrading() error
}

type Config struct {
	MaxPositionSize  float64
	RiskPerTrade     float64 // fraction of equity per trade
	MaxPortfolioRisk float64 // fraction of equity across all open positions
	ConfidenceFloor  float64
}

// Assessor sizes and accepts/rejects candidate opportunities against the
// portfolio and per-symbol limits. Stateless apart from its collaborators.
type Assessor struct {
	cfg     Config
	breaker Breaker
}

func NewAssessor(cfg Config, breaker Breaker) *Assessor {
	return &Assessor{cfg: cfg, breaker: breaker}
}

// Assess returns the recommendation for one opportunity. A CLOSE verdict is
// an expected outcome, not an error: the caller must not open a position and
// surfaces the reasoning string.
func (a *Assessor) Assess(opp models.Opportunity, portfolio models.PortfolioState) models.RiskAssessment {
	if err := a.breaker.AllowTrading(); err != nil {
		return models.RiskAssessment{
			Recommendation: models.RecommendClose,
			Reasoning:      "performance breaker tripped, new executions suspended",
		}
	}

	if opp.Confidence < a.cfg.ConfidenceFloor {
		return models.RiskAssessment{
			Recommendation: models.RecommendClose,
			Reasoning: fmt.Sprintf("confidence %.2f below floor %.2f",
				opp.Confidence, a.cfg.ConfidenceFloor),
		}
	}

	// Hard guard: one open execution per symbol, enforced before any sizing.
	if portfolio.OpenSymbols[opp.Symbol] {
		return models.RiskAssessment{
			Recommendation: models.RecommendClose,
			Reasoning:      fmt.Sprintf("%s already has an open execution", opp.Symbol),
		}
	}

	tradeBudget := a.cfg.RiskPerTrade * portfolio.Equity
	portfolioBudget := a.cfg.MaxPortfolioRisk*portfolio.Equity - portfolio.CurrentExposure

	maxSafe := math.Min(a.cfg.MaxPositionSize, math.Min(tradeBudget, portfolioBudget))
	if maxSafe <= 0 {
		return models.RiskAssessment{
			Recommendation: models.RecommendClose,
			Reasoning: fmt.Sprintf("risk budget exhausted (exposure %.2f of %.2f)",
				portfolio.CurrentExposure, a.cfg.MaxPortfolioRisk*portfolio.Equity),
		}
	}

	if opp.RecommendedSize <= maxSafe {
		return models.RiskAssessment{
			Recommendation: models.RecommendOpen,
			MaxSafeSize:    maxSafe,
			Reasoning: fmt.Sprintf("size %.2f within safe limit %.2f",
				opp.RecommendedSize, maxSafe),
		}
	}

	return models.RiskAssessment{
		Recommendation: models.RecommendReduce,
		MaxSafeSize:    maxSafe,
		Reasoning: fmt.Sprintf("size %.2f reduced to safe limit %.2f",
			opp.RecommendedSize, maxSafe),
	}
}
