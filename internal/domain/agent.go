package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Agent is the immutable launch configuration of an agent token.
// Corresponds to agents table in PostgreSQL.
type Agent struct {
	AgentID   string // unique agent identifier
	CreatorID string // creator wallet, receives the creator fee share
	Symbol    string // ticker, display only
	Curve     CurveConfig
	PolicyID  string    // graduation policy reference
	CreatedAt time.Time // creation timestamp
}

// CurveConfig holds the bonding-curve parameters. Never mutated after creation.
type CurveConfig struct {
	StartPrice     decimal.Decimal // p0, price at zero tokens sold
	EndPrice       decimal.Decimal // p1, price at SupplyCap
	SupplyCap      decimal.Decimal // tradeable supply on the curve
	TotalSupply    decimal.Decimal // total token supply, used for FDV
	FeeBps         int64           // trading fee in basis points of gross
	CreatorFeeBps  int64           // creator share of the fee, in bps of the fee
	PlatformFeeBps int64           // platform share of the fee, in bps of the fee
}

// CurveState is the mutable curve position of an agent.
// Corresponds to curve_states table in PostgreSQL.
type CurveState struct {
	AgentID        string
	TokensSold     decimal.Decimal // monotonic per trade direction, bounded by SupplyCap
	ReserveBalance decimal.Decimal // currency held by the curve, always ReserveAt(TokensSold)
	RaisedDisplay  decimal.Decimal // ReserveBalance at the FX rate of the last trade
	TradeCount     int64           // sequence of the last committed trade
	Halted         bool            // set on invariant violation, blocks mutation
	HaltReason     string
	UpdatedAt      time.Time
}

// NewCurveState returns the zero state of a freshly created agent.
func NewCurveState(agentID string, at time.Time) *CurveState {
	return &CurveState{
		AgentID:        agentID,
		TokensSold:     decimal.Zero,
		ReserveBalance: decimal.Zero,
		RaisedDisplay:  decimal.Zero,
		UpdatedAt:      at,
	}
}

// HolderBalance is the position of one holder in one agent token.
// Corresponds to holder_balances table in PostgreSQL.
type HolderBalance struct {
	AgentID       string
	HolderID      string
	TokenBalance  decimal.Decimal // tokens held
	TotalInvested decimal.Decimal // cumulative currency paid on buys, fees included
	RealizedPnL   decimal.Decimal // cumulative realized profit/loss (average-cost)
	AvgBuyPrice   decimal.Decimal // average cost per token of the current balance
	UpdatedAt     time.Time
}

// NewHolderBalance returns an empty position. Zero balance is a valid row.
func NewHolderBalance(agentID, holderID string, at time.Time) *HolderBalance {
	return &HolderBalance{
		AgentID:       agentID,
		HolderID:      holderID,
		TokenBalance:  decimal.Zero,
		TotalInvested: decimal.Zero,
		RealizedPnL:   decimal.Zero,
		AvgBuyPrice:   decimal.Zero,
		UpdatedAt:     at,
	}
}
