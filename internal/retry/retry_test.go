package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

var fastPolicy = Policy{
	MaxAttempts:     4,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	Multiplier:      2,
}

// flakyLedger fails the first n calls with a storage conflict.
type flakyLedger struct {
	failures int
	calls    int
}

func (f *flakyLedger) Update(_ context.Context, _ string, fn func(tx storage.LedgerTx) error) error {
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("commit: %w", domain.ErrStorageConflict)
	}
	return fn(nil)
}

func TestLedger_RetriesConflicts(t *testing.T) {
	next := &flakyLedger{failures: 2}
	l := NewLedger(next, fastPolicy, nil)

	ran := 0
	err := l.Update(context.Background(), "a1", func(storage.LedgerTx) error {
		ran++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, 1, ran)
}

func TestLedger_ExhaustionIsDistinguishable(t *testing.T) {
	next := &flakyLedger{failures: 100}
	l := NewLedger(next, fastPolicy, nil)

	err := l.Update(context.Background(), "a1", func(storage.LedgerTx) error { return nil })
	require.Error(t, err)
	assert.Equal(t, fastPolicy.MaxAttempts, next.calls)
	assert.True(t, errors.Is(err, domain.ErrRetriesExhausted))
	assert.True(t, errors.Is(err, domain.ErrStorageConflict))
	assert.Equal(t, domain.KindExhausted, domain.Classify(err))
	assert.False(t, domain.IsRetryable(err))
}

func TestLedger_BusinessErrorsNotRetried(t *testing.T) {
	next := &flakyLedger{}
	l := NewLedger(next, fastPolicy, nil)

	err := l.Update(context.Background(), "a1", func(storage.LedgerTx) error {
		return domain.ErrSlippageExceeded
	})
	assert.True(t, errors.Is(err, domain.ErrSlippageExceeded))
	assert.False(t, errors.Is(err, domain.ErrRetriesExhausted))
	assert.Equal(t, 1, next.calls)
}

func TestLedger_StopsOnContextCancel(t *testing.T) {
	next := &flakyLedger{failures: 100}
	slow := Policy{MaxAttempts: 10, InitialInterval: time.Second, MaxInterval: time.Second, Multiplier: 1}
	l := NewLedger(next, slow, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Update(ctx, "a1", func(storage.LedgerTx) error { return nil })
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, next.calls, 10)
}

type flakyVesting struct {
	failures int
	calls    int
}

func (f *flakyVesting) UpdateSchedule(_ context.Context, _ string, fn func(tx storage.VestingTx) error) error {
	f.calls++
	if f.calls <= f.failures {
		return domain.ErrStorageConflict
	}
	return fn(nil)
}

func TestVestingLedger_RetriesConflicts(t *testing.T) {
	next := &flakyVesting{failures: 1}
	l := NewVestingLedger(next, fastPolicy, nil)

	err := l.UpdateSchedule(context.Background(), "s1", func(storage.VestingTx) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}
