package vesting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-launchpad/internal/clock"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
	"agent-launchpad/internal/storage/memory"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func linear(total string) *domain.VestingSchedule {
	return &domain.VestingSchedule{
		ScheduleID:  "s1",
		Beneficiary: "alice",
		AgentID:     "a1",
		Purpose:     domain.PurposeHolderReward,
		Kind:        domain.VestingLinear,
		TotalAmount: dec(total),
		Start:       start,
		End:         start.Add(100 * time.Hour),
		Claimed:     decimal.Zero,
	}
}

func cliff(total string) *domain.VestingSchedule {
	return &domain.VestingSchedule{
		ScheduleID:  "s2",
		Beneficiary: "team",
		AgentID:     "a1",
		Purpose:     domain.PurposeTeam,
		Kind:        domain.VestingCliff,
		TotalAmount: dec(total),
		Steps: []domain.VestingStep{
			{At: start.Add(30 * 24 * time.Hour), CumulativeBps: 2500},
			{At: start.Add(365 * 24 * time.Hour), CumulativeBps: 10000},
		},
		Claimed: decimal.Zero,
	}
}

func TestVested_Linear(t *testing.T) {
	s := linear("1000")
	tests := []struct {
		at   time.Time
		want string
	}{
		{start.Add(-time.Hour), "0"},
		{start, "0"},
		{start.Add(25 * time.Hour), "250"},
		{start.Add(50 * time.Hour), "500"},
		{start.Add(100 * time.Hour), "1000"},
		{start.Add(1000 * time.Hour), "1000"},
	}
	for _, tt := range tests {
		got := Vested(s, tt.at)
		assert.True(t, got.Equal(dec(tt.want)), "Vested(%s) = %s, want %s", tt.at.Sub(start), got, tt.want)
	}
}

func TestVested_LinearTruncates(t *testing.T) {
	s := linear("1")
	got := Vested(s, start.Add(100*time.Hour/3))
	assert.True(t, got.Equal(dec("0.333333333333333333")), "got %s", got)
}

func TestVested_Cliff(t *testing.T) {
	s := cliff("1000")
	tests := []struct {
		at   time.Time
		want string
	}{
		{start, "0"},
		{start.Add(30*24*time.Hour - time.Second), "0"},
		{start.Add(30 * 24 * time.Hour), "250"},
		{start.Add(200 * 24 * time.Hour), "250"},
		{start.Add(365 * 24 * time.Hour), "1000"},
		{start.Add(3650 * 24 * time.Hour), "1000"},
	}
	for _, tt := range tests {
		got := Vested(s, tt.at)
		assert.True(t, got.Equal(dec(tt.want)), "Vested(%s) = %s, want %s", tt.at.Sub(start), got, tt.want)
	}
}

func TestClaimable_Monotonic(t *testing.T) {
	for _, s := range []*domain.VestingSchedule{linear("123.456789"), cliff("987654.321")} {
		s.Claimed = dec("10")
		prev := decimal.Zero
		for h := -24; h <= 400*24; h += 7 {
			got := Claimable(s, start.Add(time.Duration(h)*time.Hour))
			assert.False(t, got.LessThan(prev), "%s: claimable decreased at %dh", s.Kind, h)
			assert.False(t, got.IsNegative())
			assert.True(t, s.Claimed.Add(got).LessThanOrEqual(s.TotalAmount))
			prev = got
		}
	}
}

func TestValidateSchedule(t *testing.T) {
	mutate := func(base *domain.VestingSchedule, fn func(*domain.VestingSchedule)) *domain.VestingSchedule {
		fn(base)
		return base
	}

	tests := []struct {
		name    string
		s       *domain.VestingSchedule
		wantErr bool
	}{
		{"linear ok", linear("1"), false},
		{"cliff ok", cliff("1"), false},
		{"no beneficiary", mutate(linear("1"), func(s *domain.VestingSchedule) { s.Beneficiary = "" }), true},
		{"zero total", linear("0"), true},
		{"too precise", linear("0.0000000000000000001"), true},
		{"end before start", mutate(linear("1"), func(s *domain.VestingSchedule) { s.End = s.Start }), true},
		{"cliff not reaching 100%", mutate(cliff("1"), func(s *domain.VestingSchedule) { s.Steps[1].CumulativeBps = 9000 }), true},
		{"cliff out of order", mutate(cliff("1"), func(s *domain.VestingSchedule) { s.Steps[1].At = start }), true},
		{"unknown purpose", mutate(linear("1"), func(s *domain.VestingSchedule) { s.Purpose = "airdrop" }), true},
		{"unknown kind", mutate(linear("1"), func(s *domain.VestingSchedule) { s.Kind = "exponential" }), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.s)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

type fixture struct {
	store *memory.VestingStore
	clock *clock.Manual
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewVestingStore(), clock: clock.NewManual(start)}
	svc, err := New(Options{Ledger: f.store, Store: f.store, Clock: f.clock})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) createLinear(t *testing.T, total string) *domain.VestingSchedule {
	t.Helper()
	s, err := f.svc.CreateSchedule(context.Background(), ScheduleRequest{
		AgentID:     "a1",
		Beneficiary: "alice",
		Purpose:     domain.PurposeHolderReward,
		Kind:        domain.VestingLinear,
		TotalAmount: dec(total),
		Start:       start,
		End:         start.Add(100 * time.Hour),
	})
	require.NoError(t, err)
	return s
}

func TestCreateSchedule_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.createLinear(t, "1000")

	_, err := f.svc.CreateSchedule(context.Background(), ScheduleRequest{
		AgentID:     "a1",
		Beneficiary: "alice",
		Purpose:     domain.PurposeHolderReward,
		Kind:        domain.VestingLinear,
		TotalAmount: dec("5"),
		Start:       start,
		End:         start.Add(time.Hour),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestClaim_PaysVestedAndReplays(t *testing.T) {
	f := newFixture(t)
	s := f.createLinear(t, "1000")
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: "c0"})
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	f.clock.Advance(40 * time.Hour)
	preview, err := f.svc.PreviewClaim(ctx, "alice", s.ScheduleID)
	require.NoError(t, err)
	assert.True(t, preview.Amount.Equal(dec("400")))

	first, err := f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: "c1"})
	require.NoError(t, err)
	assert.True(t, first.Amount.Equal(dec("400")))
	assert.True(t, first.ClaimedAfter.Equal(dec("400")))
	assert.True(t, first.Remaining.Equal(dec("600")))
	assert.False(t, first.AlreadyClaimed)

	// Same key later replays the original payout.
	f.clock.Advance(10 * time.Hour)
	again, err := f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: "c1"})
	require.NoError(t, err)
	assert.True(t, again.AlreadyClaimed)
	assert.Equal(t, first.ClaimID, again.ClaimID)
	assert.True(t, again.Amount.Equal(dec("400")))

	claimable, err := f.svc.GetClaimable(ctx, "alice", s.ScheduleID)
	require.NoError(t, err)
	assert.True(t, claimable.Equal(dec("100")))

	// A fresh key right after a claim has nothing left.
	_, err = f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: "c2"})
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: "c3"})
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	stored, err := f.store.GetByID(ctx, s.ScheduleID)
	require.NoError(t, err)
	assert.True(t, stored.Claimed.Equal(dec("500")))
	claims, err := f.store.GetClaims(ctx, s.ScheduleID)
	require.NoError(t, err)
	assert.Len(t, claims, 2)
}

func TestClaim_BeneficiaryMismatch(t *testing.T) {
	f := newFixture(t)
	s := f.createLinear(t, "1000")
	f.clock.Advance(50 * time.Hour)

	_, err := f.svc.Claim(context.Background(), ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "mallory", IdempotencyKey: "c1"})
	assert.ErrorIs(t, err, domain.ErrBeneficiaryMismatch)
	_, err = f.svc.GetClaimable(context.Background(), "mallory", s.ScheduleID)
	assert.ErrorIs(t, err, domain.ErrBeneficiaryMismatch)
}

func TestClaim_RejectsClaimedAboveVested(t *testing.T) {
	f := newFixture(t)
	s := f.createLinear(t, "1000")
	ctx := context.Background()
	f.clock.Advance(10 * time.Hour)

	err := f.store.UpdateSchedule(ctx, s.ScheduleID, func(tx storage.VestingTx) error {
		corrupt := tx.Schedule()
		corrupt.Claimed = dec("900")
		return tx.PutSchedule(ctx, corrupt)
	})
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: "c1"})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	stored, err := f.store.GetByID(ctx, s.ScheduleID)
	require.NoError(t, err)
	assert.True(t, stored.Claimed.Equal(dec("900")), "nothing written")
}

func TestClaim_InvariantViolationHaltsSchedule(t *testing.T) {
	f := newFixture(t)
	s := f.createLinear(t, "1000")
	ctx := context.Background()
	f.clock.Advance(10 * time.Hour)

	err := f.store.UpdateSchedule(ctx, s.ScheduleID, func(tx storage.VestingTx) error {
		corrupt := tx.Schedule()
		corrupt.Claimed = dec("900")
		return tx.PutSchedule(ctx, corrupt)
	})
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: "c1"})
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	stored, err := f.store.GetByID(ctx, s.ScheduleID)
	require.NoError(t, err)
	assert.True(t, stored.Halted)
	assert.NotEmpty(t, stored.HaltReason)

	// Vesting catches up with the corrupted balance; the schedule stays halted.
	f.clock.Advance(200 * time.Hour)
	_, err = f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: "c2"})
	require.ErrorIs(t, err, domain.ErrScheduleHalted)
	assert.Equal(t, domain.KindInvariant, domain.Classify(err))

	_, err = f.svc.PreviewClaim(ctx, "alice", s.ScheduleID)
	assert.ErrorIs(t, err, domain.ErrScheduleHalted)

	claimable, err := f.svc.GetClaimable(ctx, "alice", s.ScheduleID)
	require.NoError(t, err)
	assert.True(t, claimable.IsZero())

	stored, err = f.store.GetByID(ctx, s.ScheduleID)
	require.NoError(t, err)
	assert.True(t, stored.Claimed.Equal(dec("900")))
	claims, err := f.store.GetClaims(ctx, s.ScheduleID)
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestClaim_ConcurrentKeysNeverOverpay(t *testing.T) {
	f := newFixture(t)
	s := f.createLinear(t, "1000")
	f.clock.Advance(60 * time.Hour)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = decimal.Zero
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Claim(ctx, ClaimRequest{ScheduleID: s.ScheduleID, Beneficiary: "alice", IdempotencyKey: fmt.Sprintf("c-%d", i)})
			if errors.Is(err, domain.ErrNothingToClaim) {
				return
			}
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			mu.Lock()
			total = total.Add(res.Amount)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.True(t, total.Equal(dec("600")), "paid %s", total)
}
