package curve

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fixed"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testConfig is the reference curve: 0.00004 -> 0.0003 over 248M tokens.
func testConfig(feeBps int64) domain.CurveConfig {
	return domain.CurveConfig{
		StartPrice:     dec("0.00004"),
		EndPrice:       dec("0.0003"),
		SupplyCap:      dec("248000000"),
		TotalSupply:    dec("1000000000"),
		FeeBps:         feeBps,
		CreatorFeeBps:  5000,
		PlatformFeeBps: 5000,
	}
}

func mustCurve(t *testing.T, cfg domain.CurveConfig) *Curve {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestPriceAt(t *testing.T) {
	c := mustCurve(t, testConfig(0))

	tests := []struct {
		sold string
		want string
	}{
		{"0", "0.00004"},
		{"124000000", "0.00017"},
		{"248000000", "0.0003"},
		{"300000000", "0.0003"},
	}
	for _, tt := range tests {
		got := c.PriceAt(dec(tt.sold))
		assert.True(t, got.Equal(dec(tt.want)), "PriceAt(%s) = %s, want %s", tt.sold, got, tt.want)
	}
}

func TestReserveAt_MidCap(t *testing.T) {
	c := mustCurve(t, testConfig(0))

	// 0.00004*124e6 + 0.00026*124e6^2/(2*248e6) = 4960 + 8060
	assert.True(t, c.ReserveAt(dec("124000000")).Equal(dec("13020")))
	// full curve: 9920 + 32240
	assert.True(t, c.ReserveAt(dec("248000000")).Equal(dec("42160")))
	assert.True(t, c.ReserveAt(decimal.Zero).IsZero())
}

func TestQuoteBuy_ReachesMidCapPrice(t *testing.T) {
	c := mustCurve(t, testConfig(0))

	q, err := c.QuoteBuy(dec("13020"), decimal.Zero)
	require.NoError(t, err)

	assert.True(t, q.TokenAmount.Equal(dec("124000000")), "tokens = %s", q.TokenAmount)
	assert.True(t, q.PriceAfter.Equal(dec("0.00017")), "price = %s", q.PriceAfter)
	assert.True(t, q.Unspent.IsZero())
	assert.True(t, q.ReserveAfter.Equal(dec("13020")))
	assert.False(t, q.ExceedsCap)
}

func TestQuoteBuy_NeverOverspends(t *testing.T) {
	c := mustCurve(t, testConfig(100))
	rng := rand.New(rand.NewSource(7))

	sold := decimal.Zero
	for i := 0; i < 200; i++ {
		in := decimal.New(rng.Int63n(2_000_000)+1, -4) // up to 200 units
		q, err := c.QuoteBuy(in, sold)
		require.NoError(t, err)
		if q.ExceedsCap {
			break
		}

		assert.False(t, q.Unspent.IsNegative(), "step %d: negative unspent %s", i, q.Unspent)
		assert.True(t, q.Cost.Add(q.Unspent).Equal(q.Fee.Net))
		assert.True(t, q.Unspent.LessThan(dec("0.000000001")), "step %d: unspent %s", i, q.Unspent)
		sold = q.TokensSoldAfter
	}
}

func TestBuyThenSell_RestoresPosition(t *testing.T) {
	c := mustCurve(t, testConfig(100))
	start := dec("50000000")

	buy, err := c.QuoteBuy(dec("1000"), start)
	require.NoError(t, err)

	sell, err := c.QuoteSell(buy.TokenAmount, buy.TokensSoldAfter)
	require.NoError(t, err)

	assert.True(t, sell.TokensSoldAfter.Equal(start))
	assert.True(t, sell.ReserveAfter.Equal(c.ReserveAt(start)))
	assert.True(t, sell.Cost.Equal(buy.Cost), "sell gross %s, buy cost %s", sell.Cost, buy.Cost)
	assert.True(t, sell.AmountOut.LessThan(dec("1000")), "round trip must lose the fees")
}

func TestQuoteBuy_ExceedsCap(t *testing.T) {
	c := mustCurve(t, testConfig(100))
	capacity := c.Capacity(decimal.Zero)

	q, err := c.QuoteBuy(dec("50000"), decimal.Zero)
	require.NoError(t, err)

	assert.True(t, q.ExceedsCap)
	assert.True(t, q.TokenAmount.Equal(dec("248000000")))
	assert.True(t, q.Cost.Equal(capacity))

	// RequiredIn is the smallest gross whose net covers the capacity
	net := SplitFee(q.RequiredIn, 100, 5000, 5000).Net
	assert.True(t, net.GreaterThanOrEqual(capacity))
	less := SplitFee(q.RequiredIn.Sub(fixed.Atom()), 100, 5000, 5000).Net
	assert.True(t, less.LessThan(capacity))

	exact, err := c.QuoteBuy(q.RequiredIn, decimal.Zero)
	require.NoError(t, err)
	assert.False(t, exact.ExceedsCap)
}

func TestQuoteBuy_SoldOut(t *testing.T) {
	c := mustCurve(t, testConfig(0))

	q, err := c.QuoteBuy(dec("1"), dec("248000000"))
	require.NoError(t, err)
	assert.True(t, q.ExceedsCap)
	assert.True(t, q.TokenAmount.IsZero())
}

func TestQuoteBuy_FlatCurve(t *testing.T) {
	cfg := testConfig(0)
	cfg.EndPrice = cfg.StartPrice
	c := mustCurve(t, cfg)

	q, err := c.QuoteBuy(dec("4"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, q.TokenAmount.Equal(dec("100000")))
	assert.True(t, q.PriceAfter.Equal(dec("0.00004")))
}

func TestQuoteSell_ExceedsSupply(t *testing.T) {
	c := mustCurve(t, testConfig(100))

	_, err := c.QuoteSell(dec("10"), dec("5"))
	assert.True(t, errors.Is(err, domain.ErrExceedsSupply))
}

func TestQuote_RejectsBadAmounts(t *testing.T) {
	c := mustCurve(t, testConfig(100))

	for _, in := range []string{"0", "-1", "0.0000000000000000001"} {
		_, err := c.QuoteBuy(dec(in), decimal.Zero)
		assert.True(t, errors.Is(err, domain.ErrValidation), "buy %s: %v", in, err)
		_, err = c.QuoteSell(dec(in), dec("100"))
		assert.True(t, errors.Is(err, domain.ErrValidation), "sell %s: %v", in, err)
	}
}

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name                        string
		gross                       string
		feeBps, creatorBps, platBps int64
		fee, creator, platform, net string
	}{
		{"one percent even split", "100", 100, 5000, 5000, "1", "0.5", "0.5", "99"},
		{"remainder to platform", "0.000000000000000333", 100, 5000, 5000,
			"0.000000000000000003", "0.000000000000000001", "0.000000000000000002", "0.00000000000000033"},
		{"no fee", "42", 0, 5000, 5000, "0", "0", "0", "42"},
		{"creator takes all", "10", 250, 10000, 0, "0.25", "0.25", "0", "9.75"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitFee(dec(tt.gross), tt.feeBps, tt.creatorBps, tt.platBps)
			assert.True(t, got.Fee.Equal(dec(tt.fee)), "fee %s", got.Fee)
			assert.True(t, got.CreatorFee.Equal(dec(tt.creator)), "creator %s", got.CreatorFee)
			assert.True(t, got.PlatformFee.Equal(dec(tt.platform)), "platform %s", got.PlatformFee)
			assert.True(t, got.Net.Equal(dec(tt.net)), "net %s", got.Net)
		})
	}
}

func TestSplitFee_Conserves(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		gross := decimal.New(rng.Int63(), -int32(rng.Intn(19)))
		feeBps := rng.Int63n(10_000)
		creatorBps := rng.Int63n(10_001)

		s := SplitFee(gross, feeBps, creatorBps, 10_000-creatorBps)
		sum := s.CreatorFee.Add(s.PlatformFee).Add(s.Net)
		require.True(t, sum.Equal(s.Gross), "gross %s split into %s", gross, sum)
		require.False(t, s.CreatorFee.IsNegative())
		require.False(t, s.PlatformFee.IsNegative())
	}
}

func TestCurve_SolvencyUnderRandomTrades(t *testing.T) {
	c := mustCurve(t, testConfig(100))
	rng := rand.New(rand.NewSource(42))

	sold, reserve := decimal.Zero, decimal.Zero
	lastPrice := c.PriceAt(sold)
	for i := 0; i < 500; i++ {
		var q *Quote
		var err error
		if sold.IsZero() || rng.Intn(3) > 0 {
			q, err = c.QuoteBuy(decimal.New(rng.Int63n(5_000_000)+1, -4), sold)
			require.NoError(t, err)
			if q.ExceedsCap {
				continue
			}
			reserve = reserve.Add(q.Cost)
			assert.True(t, q.PriceAfter.GreaterThanOrEqual(lastPrice), "buy lowered the price")
		} else {
			frac := decimal.New(rng.Int63n(10_000)+1, -4)
			amount := fixed.Trunc(sold.Mul(frac))
			q, err = c.QuoteSell(amount, sold)
			if errors.Is(err, domain.ErrValidation) {
				continue
			}
			require.NoError(t, err)
			reserve = reserve.Sub(q.Cost)
			assert.True(t, q.PriceAfter.LessThanOrEqual(lastPrice), "sell raised the price")
		}

		sold = q.TokensSoldAfter
		lastPrice = q.PriceAfter
		require.True(t, reserve.Equal(c.ReserveAt(sold)), "step %d: reserve %s, curve %s", i, reserve, c.ReserveAt(sold))
		require.False(t, reserve.IsNegative())
		require.True(t, sold.LessThanOrEqual(c.Config().SupplyCap))
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.CurveConfig)
	}{
		{"zero start price", func(c *domain.CurveConfig) { c.StartPrice = decimal.Zero }},
		{"falling curve", func(c *domain.CurveConfig) { c.EndPrice = dec("0.00001") }},
		{"zero cap", func(c *domain.CurveConfig) { c.SupplyCap = decimal.Zero }},
		{"total below cap", func(c *domain.CurveConfig) { c.TotalSupply = dec("1") }},
		{"full fee", func(c *domain.CurveConfig) { c.FeeBps = 10_000 }},
		{"shares do not sum", func(c *domain.CurveConfig) { c.CreatorFeeBps = 4000 }},
		{"too precise", func(c *domain.CurveConfig) { c.StartPrice = dec("0.0000000000000000001") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(100)
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
		})
	}

	assert.NoError(t, ValidateConfig(testConfig(100)))
}
