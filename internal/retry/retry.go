// Package retry wraps the transactional ledger interfaces with bounded
// exponential backoff on storage conflicts.
//
// Only domain.ErrStorageConflict is retried. Business rejections, invariant
// violations and validation errors are returned on the first attempt. When the
// budget runs out the caller receives an error wrapping both
// domain.ErrRetriesExhausted and the last conflict.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{
	MaxAttempts:     5,
	InitialInterval: 10 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
	Multiplier:      2,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultPolicy.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent.
func Do(ctx context.Context, p Policy, logger *zap.Logger, name string, op func() error) error {
	p = p.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		logger.Debug("retrying after storage conflict",
			zap.String("op", name),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err == nil {
		return nil
	}

	if domain.IsRetryable(err) {
		logger.Warn("retries exhausted", zap.String("op", name), zap.Int("attempts", attempts), zap.Error(err))
		return fmt.Errorf("%w: %s after %d attempts: %w", domain.ErrRetriesExhausted, name, attempts, err)
	}
	return err
}

// Ledger decorates a storage.Ledger with retries.
type Ledger struct {
	next   storage.Ledger
	policy Policy
	logger *zap.Logger
}

// NewLedger wraps next.
func NewLedger(next storage.Ledger, p Policy, logger *zap.Logger) *Ledger {
	return &Ledger{next: next, policy: p, logger: logger}
}

// Update retries the whole transaction, fn included, on storage conflicts.
// fn must therefore be free of side effects outside tx.
func (l *Ledger) Update(ctx context.Context, agentID string, fn func(tx storage.LedgerTx) error) error {
	return Do(ctx, l.policy, l.logger, "ledger.update", func() error {
		return l.next.Update(ctx, agentID, fn)
	})
}

// VestingLedger decorates a storage.VestingLedger with retries.
type VestingLedger struct {
	next   storage.VestingLedger
	policy Policy
	logger *zap.Logger
}

// NewVestingLedger wraps next.
func NewVestingLedger(next storage.VestingLedger, p Policy, logger *zap.Logger) *VestingLedger {
	return &VestingLedger{next: next, policy: p, logger: logger}
}

// UpdateSchedule retries the whole transaction on storage conflicts.
func (l *VestingLedger) UpdateSchedule(ctx context.Context, scheduleID string, fn func(tx storage.VestingTx) error) error {
	return Do(ctx, l.policy, l.logger, "vesting.update", func() error {
		return l.next.UpdateSchedule(ctx, scheduleID, fn)
	})
}

var (
	_ storage.Ledger        = (*Ledger)(nil)
	_ storage.VestingLedger = (*VestingLedger)(nil)
)
