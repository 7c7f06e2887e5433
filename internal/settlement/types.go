package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/graduation"
)

// TradeRequest is a caller's intent to trade against an agent's curve.
type TradeRequest struct {
	AgentID   string
	HolderID  string
	Direction domain.Direction

	// Amount is currency spent (fee included) for a buy and tokens sold for a sell.
	Amount decimal.Decimal

	IdempotencyKey string

	// ExpectedOut is the output the caller was quoted: tokens for a buy,
	// net currency for a sell. Zero disables the slippage check.
	ExpectedOut    decimal.Decimal
	MaxSlippageBps int64
}

// TradeResult describes a settled (or previewed) trade.
type TradeResult struct {
	TradeID   string
	AgentID   string
	HolderID  string
	Sequence  int64
	Direction domain.Direction

	AmountIn    decimal.Decimal // currency for a buy, tokens for a sell
	AmountOut   decimal.Decimal // tokens for a buy, net currency for a sell
	GrossAmount decimal.Decimal
	NetAmount   decimal.Decimal
	CreatorFee  decimal.Decimal
	PlatformFee decimal.Decimal
	Unspent     decimal.Decimal
	TokenAmount decimal.Decimal
	RealizedPnL decimal.Decimal

	PriceAfter      decimal.Decimal
	TokensSoldAfter decimal.Decimal
	ReserveAfter    decimal.Decimal

	FXRate       decimal.Decimal
	DisplayValue decimal.Decimal
	CreatedAt    time.Time

	// AlreadySettled is set when the idempotency key was settled before and
	// this result was rebuilt from the stored trade.
	AlreadySettled bool

	// GraduationTriggered is set when the post-commit check graduated the agent.
	GraduationTriggered bool
}

// GraduationChecker runs the post-commit graduation check.
type GraduationChecker interface {
	EvaluateAndMaybeGraduate(ctx context.Context, agentID string) (*graduation.Outcome, error)
}

// TradeNotifier receives committed trades, e.g. for streaming.
type TradeNotifier interface {
	PublishTrade(ctx context.Context, t *domain.TradeRecord)
}

// FXSource resolves the FX snapshot valid at a point in time.
type FXSource interface {
	ForTime(ctx context.Context, t time.Time) (*domain.FXSnapshot, error)
}

func resultFromRecord(t *domain.TradeRecord) *TradeResult {
	r := &TradeResult{
		TradeID:         t.TradeID,
		AgentID:         t.AgentID,
		HolderID:        t.HolderID,
		Sequence:        t.Sequence,
		Direction:       t.Direction,
		GrossAmount:     t.GrossAmount,
		NetAmount:       t.NetAmount,
		CreatorFee:      t.CreatorFee,
		PlatformFee:     t.PlatformFee,
		Unspent:         t.Unspent,
		TokenAmount:     t.TokenAmount,
		RealizedPnL:     t.RealizedPnL,
		PriceAfter:      t.PriceAfter,
		TokensSoldAfter: t.TokensSoldAfter,
		ReserveAfter:    t.ReserveAfter,
		FXRate:          t.FXRate,
		DisplayValue:    t.DisplayValue,
		CreatedAt:       t.CreatedAt,
	}
	if t.Direction == domain.DirectionBuy {
		r.AmountIn = t.GrossAmount
		r.AmountOut = t.TokenAmount
	} else {
		r.AmountIn = t.TokenAmount
		r.AmountOut = t.NetAmount
	}
	return r
}
