package settlement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/curve"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fixed"
	"agent-launchpad/internal/fx"
	"agent-launchpad/internal/idhash"
)

// tradeInput is the ledger view a trade is computed against.
type tradeInput struct {
	req    TradeRequest
	agent  *domain.Agent
	state  *domain.CurveState
	grad   *domain.GraduationState
	holder *domain.HolderBalance // nil if the holder has no position
	fx     *domain.FXSnapshot
	now    time.Time
}

// tradeOutput is everything a settlement writes.
type tradeOutput struct {
	quote  *curve.Quote
	state  *domain.CurveState
	holder *domain.HolderBalance
	record *domain.TradeRecord
}

// computeTrade applies req to the given ledger view without side effects.
// SettleTrade and PreviewTrade share it, so a preview matches the settlement
// it precedes whenever the ledger has not moved in between.
func computeTrade(in tradeInput) (*tradeOutput, error) {
	if in.state.Halted {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentHalted, in.state.HaltReason)
	}
	if in.grad != nil && in.grad.Status == domain.StatusGraduated {
		return nil, domain.ErrAlreadyGraduated
	}

	c, err := curve.New(in.agent.Curve)
	if err != nil {
		return nil, fmt.Errorf("%w: stored curve config: %v", domain.ErrInvariantViolation, err)
	}
	if err := checkSolvency(c, in.state); err != nil {
		return nil, err
	}

	var q *curve.Quote
	switch in.req.Direction {
	case domain.DirectionBuy:
		q, err = c.QuoteBuy(in.req.Amount, in.state.TokensSold)
	case domain.DirectionSell:
		q, err = c.QuoteSell(in.req.Amount, in.state.TokensSold)
	default:
		err = fmt.Errorf("%w: unknown direction %q", domain.ErrValidation, in.req.Direction)
	}
	if err != nil {
		return nil, err
	}

	if q.ExceedsCap {
		return nil, fmt.Errorf("%w: remaining capacity needs %s in, got %s", domain.ErrExceedsCap, q.RequiredIn, in.req.Amount)
	}
	if err := checkSlippage(q.AmountOut, in.req.ExpectedOut, in.req.MaxSlippageBps); err != nil {
		return nil, err
	}

	holder := in.holder
	if holder == nil {
		holder = domain.NewHolderBalance(in.agent.AgentID, in.req.HolderID, in.now)
	}
	if in.req.Direction == domain.DirectionSell && holder.TokenBalance.LessThan(q.TokenAmount) {
		return nil, fmt.Errorf("%w: holds %s, selling %s", domain.ErrInsufficientBalance, holder.TokenBalance, q.TokenAmount)
	}

	rate := in.fx.Rate
	newHolder, realized := applyToHolder(holder, q, in.now)

	state := *in.state
	state.TokensSold = q.TokensSoldAfter
	state.ReserveBalance = q.ReserveAfter
	state.TradeCount++
	state.UpdatedAt = in.now
	state.RaisedDisplay = fx.ToDisplay(q.ReserveAfter, rate)

	record := &domain.TradeRecord{
		TradeID:         idhash.ComputeTradeID(in.agent.AgentID, in.req.IdempotencyKey),
		AgentID:         in.agent.AgentID,
		HolderID:        in.req.HolderID,
		Sequence:        state.TradeCount,
		Direction:       q.Direction,
		IdempotencyKey:  in.req.IdempotencyKey,
		GrossAmount:     q.Fee.Gross,
		NetAmount:       q.Fee.Net,
		CreatorFee:      q.Fee.CreatorFee,
		PlatformFee:     q.Fee.PlatformFee,
		Unspent:         q.Unspent,
		TokenAmount:     q.TokenAmount,
		RealizedPnL:     realized,
		PriceAfter:      q.PriceAfter,
		TokensSoldAfter: q.TokensSoldAfter,
		ReserveAfter:    q.ReserveAfter,
		FXRate:          rate,
		FXAsOf:          in.fx.AsOf,
		DisplayValue:    fx.ToDisplay(q.Fee.Gross, rate),
		CreatedAt:       in.now,
	}

	return &tradeOutput{quote: q, state: &state, holder: newHolder, record: record}, nil
}

// checkSolvency verifies the stored position lies on the curve.
func checkSolvency(c *curve.Curve, s *domain.CurveState) error {
	cfg := c.Config()
	if s.TokensSold.IsNegative() || s.TokensSold.GreaterThan(cfg.SupplyCap) {
		return fmt.Errorf("%w: tokens sold %s outside [0, %s]", domain.ErrInvariantViolation, s.TokensSold, cfg.SupplyCap)
	}
	if want := c.ReserveAt(s.TokensSold); !s.ReserveBalance.Equal(want) {
		return fmt.Errorf("%w: reserve %s, curve requires %s at %s sold",
			domain.ErrInvariantViolation, s.ReserveBalance, want, s.TokensSold)
	}
	return nil
}

// checkSlippage rejects actual below expected less the tolerance.
func checkSlippage(actual, expected decimal.Decimal, maxBps int64) error {
	if !expected.IsPositive() {
		return nil
	}
	floor := fixed.MulBpsFloor(expected, fixed.BpsDenominator-maxBps)
	if actual.LessThan(floor) {
		return fmt.Errorf("%w: got %s, minimum %s", domain.ErrSlippageExceeded, actual, floor)
	}
	return nil
}

// applyToHolder returns the position after q and the realized P/L of a sell.
// Buys move the average price by weight; sells realize against it.
func applyToHolder(h *domain.HolderBalance, q *curve.Quote, now time.Time) (*domain.HolderBalance, decimal.Decimal) {
	next := *h
	next.UpdatedAt = now
	realized := decimal.Zero

	if q.Direction == domain.DirectionBuy {
		paid := q.Fee.Gross.Sub(q.Unspent)
		balance := h.TokenBalance.Add(q.TokenAmount)
		costBasis := fixed.MulTrunc(h.AvgBuyPrice, h.TokenBalance).Add(paid)
		next.TokenBalance = balance
		next.AvgBuyPrice = fixed.DivFloor(costBasis, balance)
		next.TotalInvested = h.TotalInvested.Add(paid)
		return &next, realized
	}

	costBasis := fixed.MulTrunc(h.AvgBuyPrice, q.TokenAmount)
	realized = q.Fee.Net.Sub(costBasis)
	next.TokenBalance = h.TokenBalance.Sub(q.TokenAmount)
	next.RealizedPnL = h.RealizedPnL.Add(realized)
	if next.TokenBalance.IsZero() {
		next.AvgBuyPrice = decimal.Zero
	}
	return &next, realized
}

// sameRequest reports whether rec was settled from a request equal to req.
func sameRequest(rec *domain.TradeRecord, req TradeRequest) bool {
	if rec.HolderID != req.HolderID || rec.Direction != req.Direction {
		return false
	}
	if req.Direction == domain.DirectionBuy {
		return rec.GrossAmount.Equal(req.Amount)
	}
	return rec.TokenAmount.Equal(req.Amount)
}
