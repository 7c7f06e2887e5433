// Package curve implements the linear bonding curve: spot price, the reserve
// integral, buy/sell quotes and fee splitting.
//
// The reserve held by an agent is always ReserveAt(tokensSold). Buy cost and
// sell payout are differences of ReserveAt, so the reserve can never drift from
// the curve regardless of trade order.
package curve

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fixed"
)

// solvePrec is the working precision of the buy quadratic before the result
// is truncated to fixed.Scale and corrected against ReserveAt.
const solvePrec int32 = 40

// FeeSplit is the decomposition of a gross amount into fee shares and net.
type FeeSplit struct {
	Gross       decimal.Decimal
	Fee         decimal.Decimal
	CreatorFee  decimal.Decimal
	PlatformFee decimal.Decimal
	Net         decimal.Decimal
}

// Quote is the outcome of pricing a trade against a curve position.
type Quote struct {
	Direction domain.Direction

	// AmountIn is currency for a buy and tokens for a sell.
	AmountIn decimal.Decimal
	Fee      FeeSplit

	TokenAmount decimal.Decimal // tokens bought or sold
	Cost        decimal.Decimal // absolute reserve change
	Unspent     decimal.Decimal // buy: net currency not converted into tokens
	AmountOut   decimal.Decimal // buy: tokens, sell: net currency

	PriceBefore     decimal.Decimal
	PriceAfter      decimal.Decimal
	TokensSoldAfter decimal.Decimal
	ReserveAfter    decimal.Decimal

	// ExceedsCap is set when a buy would cross the supply cap. The quote is
	// then a partial fill up to the cap and RequiredIn is the gross input
	// that fills exactly to the cap.
	ExceedsCap bool
	RequiredIn decimal.Decimal
}

// Curve prices trades for one validated CurveConfig.
type Curve struct {
	cfg   domain.CurveConfig
	slope decimal.Decimal // p1 - p0
}

// New validates cfg and returns a Curve.
func New(cfg domain.CurveConfig) (*Curve, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Curve{cfg: cfg, slope: cfg.EndPrice.Sub(cfg.StartPrice)}, nil
}

// Config returns the curve parameters.
func (c *Curve) Config() domain.CurveConfig {
	return c.cfg
}

// ValidateConfig checks curve parameters. All failures wrap domain.ErrValidation.
func ValidateConfig(cfg domain.CurveConfig) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: curve: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
	}
	switch {
	case !cfg.StartPrice.IsPositive():
		return invalid("start price must be positive")
	case cfg.EndPrice.LessThan(cfg.StartPrice):
		return invalid("end price %s below start price %s", cfg.EndPrice, cfg.StartPrice)
	case !cfg.SupplyCap.IsPositive():
		return invalid("supply cap must be positive")
	case cfg.TotalSupply.LessThan(cfg.SupplyCap):
		return invalid("total supply %s below supply cap %s", cfg.TotalSupply, cfg.SupplyCap)
	case cfg.FeeBps < 0 || cfg.FeeBps >= fixed.BpsDenominator:
		return invalid("fee bps %d out of range [0, 10000)", cfg.FeeBps)
	case !fixed.ValidBps(cfg.CreatorFeeBps) || !fixed.ValidBps(cfg.PlatformFeeBps):
		return invalid("fee share bps out of range")
	case cfg.CreatorFeeBps+cfg.PlatformFeeBps != fixed.BpsDenominator:
		return invalid("creator and platform shares must sum to 10000, got %d",
			cfg.CreatorFeeBps+cfg.PlatformFeeBps)
	}
	for name, v := range map[string]decimal.Decimal{
		"start price":  cfg.StartPrice,
		"end price":    cfg.EndPrice,
		"supply cap":   cfg.SupplyCap,
		"total supply": cfg.TotalSupply,
	} {
		if !v.Equal(fixed.Trunc(v)) {
			return invalid("%s has more than %d fractional digits", name, fixed.Scale)
		}
	}
	return nil
}

// PriceAt returns the spot price after s tokens have been sold, clamped to
// the end price at and beyond the cap.
func (c *Curve) PriceAt(s decimal.Decimal) decimal.Decimal {
	if s.GreaterThanOrEqual(c.cfg.SupplyCap) {
		return c.cfg.EndPrice
	}
	if s.Sign() <= 0 {
		return c.cfg.StartPrice
	}
	return c.cfg.StartPrice.Add(fixed.DivFloor(c.slope.Mul(s), c.cfg.SupplyCap))
}

// ReserveAt returns the integral of the price from 0 to s, truncated to
// fixed.Scale digits. It is non-decreasing in s.
func (c *Curve) ReserveAt(s decimal.Decimal) decimal.Decimal {
	if s.Sign() <= 0 {
		return decimal.Zero
	}
	linear := fixed.Trunc(c.cfg.StartPrice.Mul(s))
	quad := fixed.DivFloor(c.slope.Mul(s).Mul(s), c.cfg.SupplyCap.Mul(decimal.NewFromInt(2)))
	return linear.Add(quad)
}

// Capacity returns the currency needed to buy every remaining token from s.
func (c *Curve) Capacity(s decimal.Decimal) decimal.Decimal {
	return c.ReserveAt(c.cfg.SupplyCap).Sub(c.ReserveAt(s))
}

// SplitFee splits gross into fee shares and net using integer atoms. The fee
// is floored, the creator share is floored and the platform receives the
// remainder, so CreatorFee + PlatformFee + Net == Gross exactly.
func SplitFee(gross decimal.Decimal, feeBps, creatorBps, platformBps int64) FeeSplit {
	fee := fixed.MulBpsFloor(gross, feeBps)
	creator := decimal.Zero
	if shares := creatorBps + platformBps; shares > 0 {
		creator = fixed.DivFloor(fee.Mul(decimal.NewFromInt(creatorBps)), decimal.NewFromInt(shares))
	}
	g := fixed.Trunc(gross)
	return FeeSplit{
		Gross:       g,
		Fee:         fee,
		CreatorFee:  creator,
		PlatformFee: fee.Sub(creator),
		Net:         g.Sub(fee),
	}
}

func (c *Curve) splitFee(gross decimal.Decimal) FeeSplit {
	return SplitFee(gross, c.cfg.FeeBps, c.cfg.CreatorFeeBps, c.cfg.PlatformFeeBps)
}

func (c *Curve) checkPosition(tokensSold decimal.Decimal) error {
	if tokensSold.Sign() < 0 || tokensSold.GreaterThan(c.cfg.SupplyCap) {
		return fmt.Errorf("%w: tokens sold %s outside [0, %s]", domain.ErrInvariantViolation, tokensSold, c.cfg.SupplyCap)
	}
	return nil
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if !amount.Equal(fixed.Trunc(amount)) {
		return fmt.Errorf("%w: amount has more than %d fractional digits", domain.ErrValidation, fixed.Scale)
	}
	return nil
}

// QuoteBuy prices spending currencyIn (fee included) at position tokensSold.
//
// Tokens received are the largest atom count whose reserve cost fits in the
// net input. A buy that would cross the cap returns a partial-fill quote with
// ExceedsCap set; the caller decides whether to accept it.
func (c *Curve) QuoteBuy(currencyIn, tokensSold decimal.Decimal) (*Quote, error) {
	if err := checkAmount(currencyIn); err != nil {
		return nil, err
	}
	if err := c.checkPosition(tokensSold); err != nil {
		return nil, err
	}

	fee := c.splitFee(currencyIn)
	before := c.ReserveAt(tokensSold)
	remaining := c.cfg.SupplyCap.Sub(tokensSold)
	capacity := c.Capacity(tokensSold)

	q := &Quote{
		Direction:   domain.DirectionBuy,
		AmountIn:    currencyIn,
		Fee:         fee,
		PriceBefore: c.PriceAt(tokensSold),
	}

	var tokens decimal.Decimal
	if fee.Net.GreaterThanOrEqual(capacity) {
		tokens = remaining
		if fee.Net.GreaterThan(capacity) {
			q.ExceedsCap = true
			q.RequiredIn = c.grossForNet(capacity)
		}
	} else {
		tokens = c.solveTokens(fee.Net, tokensSold, before, remaining)
	}
	if tokens.IsZero() && !q.ExceedsCap {
		return nil, fmt.Errorf("%w: amount %s too small to buy any tokens", domain.ErrValidation, currencyIn)
	}

	after := tokensSold.Add(tokens)
	reserveAfter := c.ReserveAt(after)
	q.TokenAmount = tokens
	q.Cost = reserveAfter.Sub(before)
	q.Unspent = fee.Net.Sub(q.Cost)
	q.AmountOut = tokens
	q.PriceAfter = c.PriceAt(after)
	q.TokensSoldAfter = after
	q.ReserveAfter = reserveAfter
	return q, nil
}

// solveTokens returns the token amount bought with net at position s, never
// exceeding remaining and never costing more than net.
func (c *Curve) solveTokens(net, s, before, remaining decimal.Decimal) decimal.Decimal {
	var delta decimal.Decimal
	if c.slope.IsZero() {
		delta = fixed.DivFloor(net, c.cfg.StartPrice)
	} else {
		// (slope/2cap)·d² + p(s)·d - net = 0
		// d = cap·(sqrt(p(s)² + 2·slope·net/cap) - p(s)) / slope
		ps := c.cfg.StartPrice.Add(fixed.DivFloorAt(c.slope.Mul(s), c.cfg.SupplyCap, solvePrec))
		disc := ps.Mul(ps).Add(fixed.DivFloorAt(c.slope.Mul(net).Mul(decimal.NewFromInt(2)), c.cfg.SupplyCap, solvePrec))
		root := fixed.SqrtFloorAt(disc, solvePrec)
		delta = fixed.DivFloor(root.Sub(ps).Mul(c.cfg.SupplyCap), c.slope)
	}
	delta = fixed.Min(delta, remaining)

	// Truncation in ReserveAt can put the cost a few atoms above net.
	// Step back by the excess priced at the top of the segment.
	cost := func(d decimal.Decimal) decimal.Decimal {
		return c.ReserveAt(s.Add(d)).Sub(before)
	}
	for delta.IsPositive() {
		excess := cost(delta).Sub(net)
		if !excess.IsPositive() {
			break
		}
		step := fixed.DivFloor(excess, c.PriceAt(s.Add(delta))).Add(fixed.Atom())
		delta = fixed.Max(delta.Sub(step), decimal.Zero)
	}
	return delta
}

// grossForNet returns the smallest gross whose net after fee equals net.
// With net(g) = ceil(g·(D-fee)/D) that is floor((net-1)·D/(D-fee)) + 1 in atoms.
func (c *Curve) grossForNet(net decimal.Decimal) decimal.Decimal {
	atoms := fixed.ToAtoms(net)
	if atoms.Sign() <= 0 {
		return decimal.Zero
	}
	atoms.Sub(atoms, big.NewInt(1))
	atoms.Mul(atoms, big.NewInt(fixed.BpsDenominator))
	atoms.Quo(atoms, big.NewInt(fixed.BpsDenominator-c.cfg.FeeBps))
	atoms.Add(atoms, big.NewInt(1))
	return fixed.FromAtoms(atoms)
}

// QuoteSell prices selling tokensIn at position tokensSold. The payout is the
// reserve released by moving the position down, the fee is taken from it.
func (c *Curve) QuoteSell(tokensIn, tokensSold decimal.Decimal) (*Quote, error) {
	if err := checkAmount(tokensIn); err != nil {
		return nil, err
	}
	if err := c.checkPosition(tokensSold); err != nil {
		return nil, err
	}
	if tokensIn.GreaterThan(tokensSold) {
		return nil, fmt.Errorf("%w: selling %s with %s sold", domain.ErrExceedsSupply, tokensIn, tokensSold)
	}

	after := tokensSold.Sub(tokensIn)
	reserveAfter := c.ReserveAt(after)
	gross := c.ReserveAt(tokensSold).Sub(reserveAfter)
	if gross.IsZero() {
		return nil, fmt.Errorf("%w: %s tokens are worth less than one unit", domain.ErrValidation, tokensIn)
	}
	fee := c.splitFee(gross)

	return &Quote{
		Direction:       domain.DirectionSell,
		AmountIn:        tokensIn,
		Fee:             fee,
		TokenAmount:     tokensIn,
		Cost:            gross,
		Unspent:         decimal.Zero,
		AmountOut:       fee.Net,
		PriceBefore:     c.PriceAt(tokensSold),
		PriceAfter:      c.PriceAt(after),
		TokensSoldAfter: after,
		ReserveAfter:    reserveAfter,
	}, nil
}
