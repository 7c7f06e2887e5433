package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a curve trade.
type Direction string

// Trade directions
const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// TradeRecord is an immutable, append-only record of a settled trade.
// Corresponds to trade_records table in PostgreSQL.
type TradeRecord struct {
	TradeID        string    // deterministic hash of (agent_id, idempotency_key)
	AgentID        string    // agent token
	HolderID       string    // trader
	Sequence       int64     // 1-based position in the agent's total order
	Direction      Direction // buy | sell
	IdempotencyKey string    // caller supplied

	// Currency legs (curve-native unit)
	GrossAmount decimal.Decimal // buy: currency in, sell: curve payout before fee
	NetAmount   decimal.Decimal // gross minus total fee
	CreatorFee  decimal.Decimal
	PlatformFee decimal.Decimal
	Unspent     decimal.Decimal // buy only: rounding dust returned to the buyer

	// Token leg
	TokenAmount decimal.Decimal // tokens bought or sold
	RealizedPnL decimal.Decimal // sell only: realized against average cost

	// Resulting curve position
	PriceAfter      decimal.Decimal
	TokensSoldAfter decimal.Decimal
	ReserveAfter    decimal.Decimal

	// FX captured once for this settlement
	FXRate       decimal.Decimal
	FXAsOf       time.Time
	DisplayValue decimal.Decimal // GrossAmount * FXRate

	CreatedAt time.Time
}

// ReserveDelta returns the signed change of the curve reserve caused by this trade.
func (t *TradeRecord) ReserveDelta() decimal.Decimal {
	if t.Direction == DirectionSell {
		return t.GrossAmount.Neg()
	}
	return t.NetAmount.Sub(t.Unspent)
}

// TokenDelta returns the signed change of tokens sold caused by this trade.
func (t *TradeRecord) TokenDelta() decimal.Decimal {
	if t.Direction == DirectionSell {
		return t.TokenAmount.Neg()
	}
	return t.TokenAmount
}
