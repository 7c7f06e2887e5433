package graduation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/idhash"
	"agent-launchpad/internal/storage"
	"agent-launchpad/internal/storage/memory"
	"agent-launchpad/internal/vesting"
)

type countingMigrator struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (m *countingMigrator) Migrate(_ context.Context, agent *domain.Agent, _ *domain.MetricSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[agent.AgentID]++
	return m.err
}

func newWorker(t *testing.T, f *fixture, migrator Migrator) (*FollowUpWorker, *memory.VestingStore) {
	t.Helper()
	store := memory.NewVestingStore()
	vest, err := vesting.New(vesting.Options{Ledger: store, Store: store, Clock: f.clock})
	require.NoError(t, err)

	w := NewFollowUpWorker(
		FollowUpConfig{RewardPoolBps: 100, RewardVestingDuration: 30 * 24 * time.Hour},
		f.agents, f.grads, f.holders, vest, migrator, nil,
	)
	return w, store
}

func TestFollowUpWorker_CreatesRewardsOnce(t *testing.T) {
	f := newFixture(t, raisedPolicy("80000"), "a1")
	ctx := context.Background()
	f.position(t, "a1", "alice", "150000000")
	err := f.ledger.Update(ctx, "a1", func(tx storage.LedgerTx) error {
		alice, err := tx.HolderBalance(ctx, "alice")
		if err != nil {
			return err
		}
		alice.TokenBalance = dec("100000000")
		if err := tx.PutHolderBalance(ctx, alice); err != nil {
			return err
		}
		bob := domain.NewHolderBalance("a1", "bob", testTime)
		bob.TokenBalance = dec("50000000")
		if err := tx.PutHolderBalance(ctx, bob); err != nil {
			return err
		}
		return tx.PutHolderBalance(ctx, domain.NewHolderBalance("a1", "carol", testTime))
	})
	require.NoError(t, err)

	out, err := f.service.EvaluateAndMaybeGraduate(ctx, "a1")
	require.NoError(t, err)
	require.True(t, out.Transitioned)
	event := <-f.queue.events

	migrator := &countingMigrator{}
	w, store := newWorker(t, f, migrator)

	require.NoError(t, w.Handle(ctx, event))
	require.NoError(t, w.Handle(ctx, event))
	assert.Equal(t, 2, migrator.calls["a1"])

	schedules, err := store.GetByAgent(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, schedules, 2, "carol holds nothing")

	// pool = 1% of 1e9 = 10M, split 2:1
	byHolder := map[string]*domain.VestingSchedule{}
	for _, s := range schedules {
		byHolder[s.Beneficiary] = s
	}
	alice := byHolder["alice"]
	require.NotNil(t, alice)
	assert.Equal(t, idhash.ComputeScheduleID("a1", domain.PurposeHolderReward, "alice"), alice.ScheduleID)
	assert.True(t, alice.TotalAmount.Equal(dec("6666666.666666666666666666")), "alice %s", alice.TotalAmount)
	assert.True(t, byHolder["bob"].TotalAmount.Equal(dec("3333333.333333333333333333")), "bob %s", byHolder["bob"].TotalAmount)
	assert.Equal(t, domain.VestingLinear, alice.Kind)
	assert.Equal(t, testTime, alice.Start)
	assert.Equal(t, testTime.Add(30*24*time.Hour), alice.End)
}

func TestFollowUpWorker_IgnoresPreGradAgent(t *testing.T) {
	f := newFixture(t, raisedPolicy("80000"), "a1")
	migrator := &countingMigrator{}
	w, _ := newWorker(t, f, migrator)

	err := w.Handle(context.Background(), NewEvent("a1", "usd-raised", nil, testTime))
	require.NoError(t, err)
	assert.Zero(t, migrator.calls["a1"])
}

func TestFollowUpWorker_MigratorFailure(t *testing.T) {
	f := newFixture(t, raisedPolicy("80000"), "a1")
	f.position(t, "a1", "alice", "124000000")
	ctx := context.Background()

	_, err := f.service.EvaluateAndMaybeGraduate(ctx, "a1")
	require.NoError(t, err)
	event := <-f.queue.events

	boom := errors.New("rpc down")
	w, store := newWorker(t, f, &countingMigrator{err: boom})
	assert.ErrorIs(t, w.Handle(ctx, event), boom)

	schedules, err := store.GetByAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, schedules, "rewards wait for a successful migration")
}

func TestRewardShares(t *testing.T) {
	balances := []*domain.HolderBalance{
		{HolderID: "a", TokenBalance: dec("3")},
		{HolderID: "b", TokenBalance: dec("0")},
		{HolderID: "c", TokenBalance: dec("1")},
	}

	shares := RewardShares(dec("1000"), 500, balances)
	require.Len(t, shares, 2)
	assert.Equal(t, "a", shares[0].HolderID)
	assert.True(t, shares[0].Amount.Equal(dec("37.5")))
	assert.True(t, shares[1].Amount.Equal(dec("12.5")))

	assert.Nil(t, RewardShares(dec("1000"), 0, balances))
	assert.Nil(t, RewardShares(dec("1000"), 500, nil))
}

func TestChannelQueue_Consume(t *testing.T) {
	q := NewChannelQueue(4, nil)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 2, func(_ context.Context, e *domain.GraduationEvent) error {
			got <- e.AgentID
			return nil
		})
	}()

	require.NoError(t, q.Publish(ctx, NewEvent("a1", "p", nil, testTime)))
	require.NoError(t, q.Publish(ctx, NewEvent("a2", "p", nil, testTime)))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-got:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	assert.True(t, seen["a1"] && seen["a2"])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestChannelQueue_Full(t *testing.T) {
	q := NewChannelQueue(1, nil)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, NewEvent("a1", "p", nil, testTime)))
	assert.ErrorIs(t, q.Publish(ctx, NewEvent("a2", "p", nil, testTime)), ErrQueueFull)
}
