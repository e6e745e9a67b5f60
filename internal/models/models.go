package models

import "time"

// Side of a position relative to the perpetual contract.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Opportunity is one scored funding-rate arbitrage candidate. Immutable once
// produced; a re-scan supersedes it, nothing mutates it.
type Opportunity struct {
	Symbol            string    `json:"symbol"`
	FundingRate       float64   `json:"fundingRate"`       // signed fraction, e.g. 0.012 = 1.2%
	ExpectedProfit    float64   `json:"expectedProfit"`    // USDT over the remaining funding window
	Confidence        float64   `json:"confidence"`        // 0..1
	RiskScore         float64   `json:"riskScore"`         // 0..1
	RecommendedAction string    `json:"recommendedAction"` // SideLong or SideShort
	RecommendedSize   float64   `json:"recommendedSize"`   // USDT notional, pre risk assessment
	TimeToFundingMs   int64     `json:"timeToFundingMs"`
	DetectedAt        time.Time `json:"detectedAt"`
	Reasoning         string    `json:"reasoning"`
}

// PositionStatus values.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Position is the ledger's record of an open or closed position. The ledger
// owns it exclusively; everything else holds the ID.
type Position struct {
	ID              string    `json:"id"`
	ExecutionID     string    `json:"executionId"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Size            float64   `json:"size"` // USDT notional at entry
	EntryPrice      float64   `json:"entryPrice"`
	ExitPrice       float64   `json:"exitPrice,omitempty"`
	StopLossPrice   float64   `json:"stopLossPrice"`
	TakeProfitPrice float64   `json:"takeProfitPrice"`
	RealizedPnl     float64   `json:"realizedPnl"`
	OpenedAt        time.Time `json:"openedAt"`
	ClosedAt        time.Time `json:"closedAt,omitempty"`
	Status          string    `json:"status"`
}

// ExecutionState is the scheduler's lifecycle state.
type ExecutionState string

const (
	StatePending    ExecutionState = "PENDING"
	StateOpen       ExecutionState = "OPEN"
	StateMonitoring ExecutionState = "MONITORING"
	StateClosing    ExecutionState = "CLOSING"
	StateClosed     ExecutionState = "CLOSED"
	StateFailed     ExecutionState = "FAILED"
)

// Terminal reports whether the state can no longer transition.
func (s ExecutionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Execution tracks one opportunity through the open/monitor/close lifecycle.
type Execution struct {
	ID            string         `json:"id"`
	Opportunity   Opportunity    `json:"opportunity"` // snapshot at acceptance
	PositionID    string         `json:"positionId,omitempty"`
	State         ExecutionState `json:"state"`
	Size          float64        `json:"size"` // actually filled notional (may be below recommended)
	PartialFill   bool           `json:"partialFill,omitempty"`
	RealizedPnl   float64        `json:"realizedPnl"`
	OpenedAt      time.Time      `json:"openedAt"`
	ClosedAt      time.Time      `json:"closedAt,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	CloseReason   string         `json:"closeReason,omitempty"` // "TAKE_PROFIT", "STOP_LOSS", "FUNDING_WINDOW", "MANUAL"
}

// Risk recommendations.
const (
	RecommendOpen   = "OPEN"
	RecommendReduce = "REDUCE"
	RecommendClose  = "CLOSE"
)

// RiskAssessment is the assessor's verdict on a single opportunity.
type RiskAssessment struct {
	Recommendation string
	MaxSafeSize    float64
	Reasoning      string
}

// PortfolioState is the assessor's view of current exposure, assembled fresh
// by the caller per assessment.
type PortfolioState struct {
	Equity          float64
	CurrentExposure float64 // sum of open notionals
	OpenSymbols     map[string]bool
}

// PerformanceSnapshot is rebuilt by the monitor on every close and read-only
// for everyone else.
type PerformanceSnapshot struct {
	TotalTrades      int       `json:"totalTrades"`
	SuccessfulTrades int       `json:"successfulTrades"`
	TotalProfit      float64   `json:"totalProfit"`
	WinRate          float64   `json:"winRate"`
	AvgReturn        float64   `json:"avgReturn"`
	MaxDrawdown      float64   `json:"maxDrawdown"`
	SharpeRatio      float64   `json:"sharpeRatio"`
	ActiveTrades     int       `json:"activeTrades"`
	BreakerTripped   bool      `json:"breakerTripped"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
