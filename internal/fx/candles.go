package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agent-launchpad/internal/clock"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// BuildCandles aggregates trades (ordered by sequence) into candles of
// interval width. Buckets without trades produce no candle.
//
// Display values use the FX rate of the last trade in the bucket, which is
// the snapshot rate of the bucket that trade settled in, so CloseDisplay is
// exactly the last trade's PriceAfter converted at its own rate.
func BuildCandles(agentID string, trades []*domain.TradeRecord, interval time.Duration) []*domain.Candle {
	var (
		result []*domain.Candle
		cur    *domain.Candle
	)
	for _, t := range trades {
		bucket := t.CreatedAt.UTC().Truncate(interval)
		if cur == nil || !cur.Bucket.Equal(bucket) {
			if cur != nil {
				finishCandle(cur)
				result = append(result, cur)
			}
			cur = &domain.Candle{
				AgentID:         agentID,
				Bucket:          bucket,
				IntervalSeconds: int(interval / time.Second),
				Open:            t.PriceAfter,
				High:            t.PriceAfter,
				Low:             t.PriceAfter,
				Volume:          decimal.Zero,
			}
		}
		if t.PriceAfter.GreaterThan(cur.High) {
			cur.High = t.PriceAfter
		}
		if t.PriceAfter.LessThan(cur.Low) {
			cur.Low = t.PriceAfter
		}
		cur.Close = t.PriceAfter
		cur.Volume = cur.Volume.Add(t.GrossAmount)
		cur.TradeCount++
		cur.FXRate = t.FXRate
	}
	if cur != nil {
		finishCandle(cur)
		result = append(result, cur)
	}
	return result
}

func finishCandle(c *domain.Candle) {
	c.OpenDisplay = ToDisplay(c.Open, c.FXRate)
	c.HighDisplay = ToDisplay(c.High, c.FXRate)
	c.LowDisplay = ToDisplay(c.Low, c.FXRate)
	c.CloseDisplay = ToDisplay(c.Close, c.FXRate)
	c.VolumeDisplay = ToDisplay(c.Volume, c.FXRate)
}

const closeGrace = 5 * time.Second

// CandleJob persists closed candles for every agent. Each run resumes after
// the last stored candle, so a bucket is written once.
type CandleJob struct {
	agents    storage.AgentStore
	trades    storage.TradeRecordStore
	candles   storage.CandleStore
	intervals []time.Duration
	clock     clock.Clock
	logger    *zap.Logger
}

// NewCandleJob creates the aggregation job.
func NewCandleJob(
	agents storage.AgentStore,
	trades storage.TradeRecordStore,
	candles storage.CandleStore,
	intervals []time.Duration,
	c clock.Clock,
	logger *zap.Logger,
) *CandleJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandleJob{
		agents:    agents,
		trades:    trades,
		candles:   candles,
		intervals: intervals,
		clock:     clock.OrSystem(c),
		logger:    logger,
	}
}

// Run builds candles for all agents and intervals. Per-agent failures are
// logged and the remaining agents still run; the first error is returned.
func (j *CandleJob) Run(ctx context.Context) error {
	agents, err := j.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	now := j.clock.Now()
	var firstErr error
	for _, a := range agents {
		for _, iv := range j.intervals {
			n, err := j.runOne(ctx, a, iv, now)
			if err != nil {
				j.logger.Warn("candle build failed",
					zap.String("agent_id", a.AgentID),
					zap.Duration("interval", iv),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if n > 0 {
				j.logger.Debug("candles written",
					zap.String("agent_id", a.AgentID),
					zap.Duration("interval", iv),
					zap.Int("count", n))
			}
		}
	}
	return firstErr
}

func (j *CandleJob) runOne(ctx context.Context, a *domain.Agent, interval time.Duration, now time.Time) (int, error) {
	start := a.CreatedAt.UTC().Truncate(interval)
	last, err := j.candles.GetLast(ctx, a.AgentID, int(interval/time.Second))
	switch {
	case err == nil:
		start = last.Bucket.Add(interval)
	case errors.Is(err, storage.ErrNotFound):
	default:
		return 0, fmt.Errorf("get last candle: %w", err)
	}

	// Only buckets closed for longer than closeGrace, so trades still
	// committing at a bucket boundary are not skipped.
	end := now.UTC().Add(-closeGrace).Truncate(interval)
	if !start.Before(end) {
		return 0, nil
	}

	trades, err := j.trades.GetByTimeRange(ctx, a.AgentID, start, end)
	if err != nil {
		return 0, fmt.Errorf("get trades: %w", err)
	}
	candles := BuildCandles(a.AgentID, trades, interval)
	if len(candles) == 0 {
		return 0, nil
	}
	if err := j.candles.InsertBulk(ctx, candles); err != nil {
		return 0, fmt.Errorf("insert candles: %w", err)
	}
	return len(candles), nil
}
