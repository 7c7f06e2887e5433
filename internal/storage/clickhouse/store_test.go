package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

var bucket = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFXSnapshotStore_WriteOnce(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := NewFXSnapshotStore(conn)

	snap := &domain.FXSnapshot{
		Pair:   "PROMPT/USD",
		Bucket: bucket,
		Rate:   dec("2.123456789012345678"),
		AsOf:   bucket.Add(3 * time.Second),
	}
	require.NoError(t, store.Insert(ctx, snap))
	assert.ErrorIs(t, store.Insert(ctx, snap), storage.ErrDuplicateKey)

	got, err := store.Get(ctx, "PROMPT/USD", bucket)
	require.NoError(t, err)
	assert.True(t, got.Rate.Equal(snap.Rate), "rate keeps 18 fractional digits, got %s", got.Rate)
	assert.True(t, got.AsOf.Equal(snap.AsOf))

	_, err = store.Get(ctx, "PROMPT/USD", bucket.Add(time.Minute))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Insert(ctx, &domain.FXSnapshot{
		Pair: "PROMPT/USD", Bucket: bucket.Add(time.Minute), Rate: dec("2.5"), AsOf: bucket.Add(time.Minute),
	}))
	ranged, err := store.GetByTimeRange(ctx, "PROMPT/USD", bucket, bucket.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.True(t, ranged[0].Bucket.Before(ranged[1].Bucket))
}

func candle(agentID string, at time.Time, close string) *domain.Candle {
	c := dec(close)
	return &domain.Candle{
		AgentID:         agentID,
		Bucket:          at,
		IntervalSeconds: 60,
		Open:            c,
		High:            c,
		Low:             c,
		Close:           c,
		Volume:          dec("100"),
		TradeCount:      3,
		FXRate:          dec("2.5"),
		OpenDisplay:     c.Mul(dec("2.5")),
		HighDisplay:     c.Mul(dec("2.5")),
		LowDisplay:      c.Mul(dec("2.5")),
		CloseDisplay:    c.Mul(dec("2.5")),
		VolumeDisplay:   dec("250"),
	}
}

func TestCandleStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := NewCandleStore(conn)

	batch := []*domain.Candle{
		candle("agent-1", bucket, "0.00004"),
		candle("agent-1", bucket.Add(time.Minute), "0.000042594"),
	}
	require.NoError(t, store.InsertBulk(ctx, batch))
	assert.ErrorIs(t, store.InsertBulk(ctx, batch[:1]), storage.ErrDuplicateKey)

	dup := []*domain.Candle{
		candle("agent-1", bucket.Add(2*time.Minute), "1"),
		candle("agent-1", bucket.Add(2*time.Minute), "1"),
	}
	assert.ErrorIs(t, store.InsertBulk(ctx, dup), storage.ErrDuplicateKey)

	got, err := store.GetByTimeRange(ctx, "agent-1", 60, bucket, bucket.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Close.Equal(dec("0.000042594")))
	assert.Equal(t, 3, got[0].TradeCount)

	last, err := store.GetLast(ctx, "agent-1", 60)
	require.NoError(t, err)
	assert.True(t, last.Bucket.Equal(bucket.Add(time.Minute)))

	_, err = store.GetLast(ctx, "agent-1", 300)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
