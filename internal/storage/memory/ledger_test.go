package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

var testTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, agentIDs ...string) *Ledger {
	t.Helper()
	l := NewLedger()
	agents := NewAgentStore(l)
	for _, id := range agentIDs {
		a := &domain.Agent{AgentID: id, CreatorID: "creator", PolicyID: "p1", CreatedAt: testTime}
		if err := agents.Create(context.Background(), a); err != nil {
			t.Fatalf("Create agent failed: %v", err)
		}
	}
	return l
}

func TestAgentStore_CreateInitializesState(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "a1")

	st, err := NewCurveStateStore(l).Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get state failed: %v", err)
	}
	if !st.TokensSold.IsZero() || !st.ReserveBalance.IsZero() || st.TradeCount != 0 {
		t.Errorf("expected zero state, got %+v", st)
	}

	g, err := NewGraduationStore(l).Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get graduation failed: %v", err)
	}
	if g.Status != domain.StatusPreGrad || g.PolicyID != "p1" {
		t.Errorf("unexpected graduation row %+v", g)
	}

	err = NewAgentStore(l).Create(ctx, &domain.Agent{AgentID: "a1"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestLedger_UpdateCommits(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "a1")

	err := l.Update(ctx, "a1", func(tx storage.LedgerTx) error {
		st := tx.CurveState()
		st.TokensSold = decimal.NewFromInt(100)
		st.TradeCount = 1
		if err := tx.PutCurveState(ctx, st); err != nil {
			return err
		}
		if err := tx.PutHolderBalance(ctx, domain.NewHolderBalance("a1", "h1", testTime)); err != nil {
			return err
		}
		return tx.AppendTrade(ctx, &domain.TradeRecord{
			TradeID: "t1", AgentID: "a1", HolderID: "h1", Sequence: 1, IdempotencyKey: "k1", CreatedAt: testTime,
		})
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	st, _ := NewCurveStateStore(l).Get(ctx, "a1")
	if !st.TokensSold.Equal(decimal.NewFromInt(100)) {
		t.Errorf("TokensSold mismatch: got %s", st.TokensSold)
	}

	trades := NewTradeRecordStore(l)
	got, err := trades.GetByIdempotencyKey(ctx, "a1", "k1")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey failed: %v", err)
	}
	if got.TradeID != "t1" {
		t.Errorf("TradeID mismatch: got %s", got.TradeID)
	}
	if _, err := NewHolderBalanceStore(l).Get(ctx, "a1", "h1"); err != nil {
		t.Errorf("holder balance not committed: %v", err)
	}
}

func TestLedger_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "a1")
	boom := errors.New("boom")

	err := l.Update(ctx, "a1", func(tx storage.LedgerTx) error {
		st := tx.CurveState()
		st.TokensSold = decimal.NewFromInt(5)
		_ = tx.PutCurveState(ctx, st)
		_ = tx.AppendTrade(ctx, &domain.TradeRecord{TradeID: "t1", AgentID: "a1", IdempotencyKey: "k1"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	st, _ := NewCurveStateStore(l).Get(ctx, "a1")
	if !st.TokensSold.IsZero() {
		t.Errorf("state leaked from failed transaction: %s", st.TokensSold)
	}
	if _, err := NewTradeRecordStore(l).GetByID(ctx, "t1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("trade leaked from failed transaction: %v", err)
	}
}

func TestLedger_UpdateUnknownAgent(t *testing.T) {
	l := newTestLedger(t)
	err := l.Update(context.Background(), "missing", func(storage.LedgerTx) error { return nil })
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLedger_AppendTradeDuplicateKey(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "a1")

	appendTrade := func(id, key string) error {
		return l.Update(ctx, "a1", func(tx storage.LedgerTx) error {
			return tx.AppendTrade(ctx, &domain.TradeRecord{TradeID: id, AgentID: "a1", IdempotencyKey: key})
		})
	}

	if err := appendTrade("t1", "k1"); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := appendTrade("t2", "k1"); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("same idempotency key: expected ErrDuplicateKey, got %v", err)
	}
	if err := appendTrade("t1", "k2"); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("same trade id: expected ErrDuplicateKey, got %v", err)
	}
}

func TestLedger_CompareAndSetGraduation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "a1")
	now := testTime

	cas := func() bool {
		var swapped bool
		err := l.Update(ctx, "a1", func(tx storage.LedgerTx) error {
			g := tx.Graduation()
			g.Status = domain.StatusGraduated
			g.TriggeredAt = &now
			var err error
			swapped, err = tx.CompareAndSetGraduation(ctx, domain.StatusPreGrad, g)
			return err
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		return swapped
	}

	if !cas() {
		t.Fatal("first CAS should swap")
	}
	if cas() {
		t.Error("second CAS should not swap")
	}

	graduated, _ := NewGraduationStore(l).GetByStatus(ctx, domain.StatusGraduated)
	if len(graduated) != 1 {
		t.Errorf("expected 1 graduated agent, got %d", len(graduated))
	}
}

func TestLedger_SerializesPerAgent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "a1")

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Update(ctx, "a1", func(tx storage.LedgerTx) error {
				st := tx.CurveState()
				st.TradeCount++
				if err := tx.PutCurveState(ctx, st); err != nil {
					return err
				}
				return tx.AppendTrade(ctx, &domain.TradeRecord{
					TradeID:        fmt.Sprintf("t%d", i),
					AgentID:        "a1",
					Sequence:       st.TradeCount,
					IdempotencyKey: fmt.Sprintf("k%d", i),
				})
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	trades, _ := NewTradeRecordStore(l).GetByAgentID(ctx, "a1")
	if len(trades) != workers {
		t.Fatalf("expected %d trades, got %d", workers, len(trades))
	}
	for i, tr := range trades {
		if tr.Sequence != int64(i+1) {
			t.Errorf("trade %d has sequence %d", i, tr.Sequence)
		}
	}
}

func TestLedger_UpdateHonorsContextWhileWaiting(t *testing.T) {
	l := newTestLedger(t, "a1")
	hold := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = l.Update(context.Background(), "a1", func(storage.LedgerTx) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Update(ctx, "a1", func(storage.LedgerTx) error { return nil })
	close(hold)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestTradeRecordStore_GetByTimeRange(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "a1")

	for i := 0; i < 3; i++ {
		i := i
		err := l.Update(ctx, "a1", func(tx storage.LedgerTx) error {
			return tx.AppendTrade(ctx, &domain.TradeRecord{
				TradeID:        fmt.Sprintf("t%d", i),
				AgentID:        "a1",
				Sequence:       int64(i + 1),
				IdempotencyKey: fmt.Sprintf("k%d", i),
				CreatedAt:      testTime.Add(time.Duration(i) * time.Minute),
			})
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	got, err := NewTradeRecordStore(l).GetByTimeRange(ctx, "a1", testTime, testTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 || got[0].TradeID != "t0" || got[1].TradeID != "t1" {
		t.Errorf("unexpected range result: %d trades", len(got))
	}
}
