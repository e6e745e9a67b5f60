package engine

import (
	"context"

	"bot_arbitrage/internal/models"
	"bot_arbitrage/internal/risk"
	"bot_arbitrage/internal/scanner"
)

// Strategy is the capability set every agent variant implements: detect
// opportunities and size them against the portfolio. Variants (market-making,
// copy-trading) plug in here without touching the scheduler.
type Strategy interface {
	Name() string
	Scan(ctx context.Context, symbols []string) (*scanner.ScanReport, error)
	Assess(opp models.Opportunity, portfolio models.PortfolioState) models.RiskAssessment
}

// FundingArbitrage pairs the funding-rate scanner with the risk assessor.
type FundingArbitrage struct {
	scanner  *scanner.Scanner
	assessor *risk.Assessor
}

func NewFundingArbitrage(sc *scanner.Scanner, assessor *risk.Assessor) *FundingArbitrage {
	return &FundingArbitrage{scanner: sc, assessor: assessor}
}

func (f *FundingArbitrage) Name() string { return "funding_rate_arbitrage" }

func (f *FundingArbitrage) Scan(ctx context.Context, symbols []string) (*scanner.ScanReport, error) {
	return f.scanner.Scan(ctx, symbols)
}

func (f *FundingArbitrage) Assess(opp models.Opportunity, portfolio models.PortfolioState) models.RiskAssessment {
	return f.assessor.Assess(opp, portfolio)
}
