package fx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-launchpad/internal/cache"
	"agent-launchpad/internal/clock"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
	"agent-launchpad/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestToDisplay(t *testing.T) {
	assert.True(t, ToDisplay(dec("31999.5918"), dec("2.5")).Equal(dec("79998.9795")))
	assert.True(t, ToDisplay(dec("1"), dec("0.3333333333333333333333")).Equal(dec("0.333333333333333333")))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		amount string
		unit   Unit
		want   string
	}{
		{"80049.4695", USD, "80,049.47 USD"},
		{"999.995", USD, "1,000.00 USD"},
		{"0.5", USD, "0.50 USD"},
		{"-1234567.891", USD, "-1,234,567.89 USD"},
		{"0.00017", Native, "0.000170 PROMPT"},
		{"12", Unit{Places: 0}, "12"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(dec(tt.amount), tt.unit))
	}
}

func TestUnitFor(t *testing.T) {
	assert.Equal(t, USD, UnitFor(""))
	assert.Equal(t, USD, UnitFor("usd"))
	assert.Equal(t, Native, UnitFor("PROMPT"))
	assert.Equal(t, Unit{Code: "EUR", Places: 2}, UnitFor("eur"))
}

type countingProvider struct {
	calls atomic.Int32
	rate  decimal.Decimal
}

func (p *countingProvider) Rate(context.Context) (decimal.Decimal, time.Time, error) {
	p.calls.Add(1)
	return p.rate, t0, nil
}

func newSource(t *testing.T, p Provider, withCache bool) *SnapshotSource {
	t.Helper()
	opts := SnapshotOptions{
		Pair:     "PROMPT/USD",
		Interval: time.Minute,
		Provider: p,
		Store:    memory.NewFXSnapshotStore(),
	}
	if withCache {
		opts.Cache = cache.NewReadThrough[domain.FXSnapshot](cache.NewMemoryBackend(nil), "fx:", time.Minute, nil)
	}
	s, err := NewSnapshotSource(opts)
	require.NoError(t, err)
	return s
}

func TestSnapshotSource_WriteOncePerBucket(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{rate: dec("2.5")}
	s := newSource(t, p, false)

	first, err := s.ForTime(ctx, t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, first.Bucket.Equal(t0))

	// Provider moves, the bucket keeps its rate
	p.rate = dec("3")
	again, err := s.ForTime(ctx, t0.Add(50*time.Second))
	require.NoError(t, err)
	assert.True(t, again.Rate.Equal(dec("2.5")))
	assert.Equal(t, int32(1), p.calls.Load())

	next, err := s.ForTime(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, next.Rate.Equal(dec("3")))
}

func TestSnapshotSource_ConcurrentFirstRequests(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{rate: dec("2.5")}
	s := newSource(t, p, true)

	var wg sync.WaitGroup
	rates := make([]decimal.Decimal, 20)
	for i := range rates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := s.ForTime(ctx, t0)
			if assert.NoError(t, err) {
				rates[i] = snap.Rate
			}
		}(i)
	}
	wg.Wait()

	for _, r := range rates {
		assert.True(t, r.Equal(dec("2.5")))
	}
}

func TestSnapshotSource_ProviderError(t *testing.T) {
	boom := errors.New("feed down")
	s := newSource(t, FuncProvider(func(context.Context) (decimal.Decimal, time.Time, error) {
		return decimal.Zero, time.Time{}, boom
	}), false)

	_, err := s.ForTime(context.Background(), t0)
	assert.True(t, errors.Is(err, boom))
}

func TestStaticProvider(t *testing.T) {
	_, err := NewStaticProvider(decimal.Zero, nil)
	assert.Error(t, err)

	p, err := NewStaticProvider(dec("2.5"), clock.NewManual(t0))
	require.NoError(t, err)
	rate, asOf, err := p.Rate(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("2.5")))
	assert.True(t, asOf.Equal(t0))
}

func trade(seq int64, at time.Time, price, gross, rate string) *domain.TradeRecord {
	return &domain.TradeRecord{
		TradeID:        "t" + decimal.NewFromInt(seq).String(),
		AgentID:        "a1",
		Sequence:       seq,
		IdempotencyKey: "k" + decimal.NewFromInt(seq).String(),
		Direction:      domain.DirectionBuy,
		PriceAfter:     dec(price),
		GrossAmount:    dec(gross),
		FXRate:         dec(rate),
		CreatedAt:      at,
	}
}

func TestBuildCandles(t *testing.T) {
	trades := []*domain.TradeRecord{
		trade(1, t0.Add(1*time.Second), "0.0001", "10", "2"),
		trade(2, t0.Add(20*time.Second), "0.0003", "5", "2"),
		trade(3, t0.Add(40*time.Second), "0.0002", "1", "2.5"),
		trade(4, t0.Add(3*time.Minute), "0.0004", "7", "3"),
	}

	candles := BuildCandles("a1", trades, time.Minute)
	require.Len(t, candles, 2)

	c := candles[0]
	assert.True(t, c.Bucket.Equal(t0))
	assert.Equal(t, 60, c.IntervalSeconds)
	assert.True(t, c.Open.Equal(dec("0.0001")))
	assert.True(t, c.High.Equal(dec("0.0003")))
	assert.True(t, c.Low.Equal(dec("0.0001")))
	assert.True(t, c.Close.Equal(dec("0.0002")))
	assert.True(t, c.Volume.Equal(dec("16")))
	assert.Equal(t, 3, c.TradeCount)
	assert.True(t, c.FXRate.Equal(dec("2.5")))
	assert.True(t, c.CloseDisplay.Equal(dec("0.0005")), "close display %s", c.CloseDisplay)

	assert.True(t, candles[1].Bucket.Equal(t0.Add(3*time.Minute)))
}

func TestCandleJob_WritesClosedBucketsOnce(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	agents := memory.NewAgentStore(ledger)
	require.NoError(t, agents.Create(ctx, &domain.Agent{AgentID: "a1", CreatedAt: t0}))

	for _, tr := range []*domain.TradeRecord{
		trade(1, t0.Add(10*time.Second), "0.0001", "10", "2"),
		trade(2, t0.Add(70*time.Second), "0.0002", "10", "2"),
	} {
		tr := tr
		require.NoError(t, ledger.Update(ctx, "a1", func(tx storage.LedgerTx) error {
			return tx.AppendTrade(ctx, tr)
		}))
	}

	clk := clock.NewManual(t0.Add(90 * time.Second))
	candles := memory.NewCandleStore()
	job := NewCandleJob(agents, memory.NewTradeRecordStore(ledger), candles, []time.Duration{time.Minute}, clk, nil)

	require.NoError(t, job.Run(ctx))
	got, _ := candles.GetByTimeRange(ctx, "a1", 60, t0, t0.Add(time.Hour))
	require.Len(t, got, 1, "second bucket is still open")

	require.NoError(t, job.Run(ctx))
	clk.Advance(time.Minute)
	require.NoError(t, job.Run(ctx))
	got, _ = candles.GetByTimeRange(ctx, "a1", 60, t0, t0.Add(time.Hour))
	require.Len(t, got, 2)
	assert.True(t, got[1].Close.Equal(dec("0.0002")))
}
