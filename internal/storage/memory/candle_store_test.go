package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

func TestCandleStore_InsertBulkAndQuery(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore()

	candles := []*domain.Candle{
		{AgentID: "a1", IntervalSeconds: 60, Bucket: testTime},
		{AgentID: "a1", IntervalSeconds: 60, Bucket: testTime.Add(time.Minute)},
		{AgentID: "a1", IntervalSeconds: 300, Bucket: testTime},
	}
	if err := store.InsertBulk(ctx, candles); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByTimeRange(ctx, "a1", 60, testTime, testTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 || !got[0].Bucket.Equal(testTime) {
		t.Errorf("unexpected candles: %d", len(got))
	}

	last, err := store.GetLast(ctx, "a1", 60)
	if err != nil {
		t.Fatalf("GetLast failed: %v", err)
	}
	if !last.Bucket.Equal(testTime.Add(time.Minute)) {
		t.Errorf("GetLast bucket mismatch: %s", last.Bucket)
	}

	if _, err := store.GetLast(ctx, "a2", 60); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCandleStore_InsertBulkDuplicateFailsBatch(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore()

	if err := store.InsertBulk(ctx, []*domain.Candle{{AgentID: "a1", IntervalSeconds: 60, Bucket: testTime}}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.Candle{
		{AgentID: "a1", IntervalSeconds: 60, Bucket: testTime.Add(time.Minute)},
		{AgentID: "a1", IntervalSeconds: 60, Bucket: testTime},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByTimeRange(ctx, "a1", 60, testTime, testTime.Add(time.Hour))
	if len(got) != 1 {
		t.Errorf("partial batch written: %d candles", len(got))
	}
}

func TestFXSnapshotStore_WriteOnce(t *testing.T) {
	ctx := context.Background()
	store := NewFXSnapshotStore()

	snap := &domain.FXSnapshot{Pair: "PROMPT/USD", Bucket: testTime, Rate: decimal.RequireFromString("2.5"), AsOf: testTime}
	if err := store.Insert(ctx, snap); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	again := *snap
	again.Rate = decimal.NewFromInt(3)
	if err := store.Insert(ctx, &again); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, err := store.Get(ctx, "PROMPT/USD", testTime)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Rate.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("rate overwritten: %s", got.Rate)
	}
}
