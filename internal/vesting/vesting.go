// Package vesting computes vested amounts of time-vested allocations and pays
// out claims exactly once per idempotency key.
package vesting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agent-launchpad/internal/clock"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/idhash"
	"agent-launchpad/internal/observability"
	"agent-launchpad/internal/storage"
)

// ClaimRequest asks to pay out everything claimable on a schedule.
type ClaimRequest struct {
	ScheduleID     string
	Beneficiary    string
	IdempotencyKey string
}

// ClaimResult describes a claim, settled or previewed.
type ClaimResult struct {
	ClaimID      string
	ScheduleID   string
	Beneficiary  string
	Amount       decimal.Decimal
	ClaimedAfter decimal.Decimal
	VestedAt     decimal.Decimal
	Remaining    decimal.Decimal // total - claimed after
	ClaimedAt    time.Time

	// AlreadyClaimed is set when the key was used before and the result was
	// rebuilt from the stored claim.
	AlreadyClaimed bool
}

// ScheduleRequest describes a schedule to create.
type ScheduleRequest struct {
	AgentID     string
	Beneficiary string
	Purpose     string
	Kind        domain.VestingKind
	TotalAmount decimal.Decimal
	Start       time.Time
	End         time.Time
	Steps       []domain.VestingStep
}

// Options configures a Service.
type Options struct {
	Ledger storage.VestingLedger
	Store  storage.VestingStore

	Clock             clock.Clock
	Logger            *zap.Logger
	ValidateAddresses bool
}

// Service manages vesting schedules and claims.
type Service struct {
	ledger            storage.VestingLedger
	store             storage.VestingStore
	clock             clock.Clock
	logger            *zap.Logger
	validateAddresses bool
}

// New creates a vesting service.
func New(opts Options) (*Service, error) {
	if opts.Ledger == nil || opts.Store == nil {
		return nil, errors.New("vesting: ledger and store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger:            opts.Ledger,
		store:             opts.Store,
		clock:             clock.OrSystem(opts.Clock),
		logger:            logger,
		validateAddresses: opts.ValidateAddresses,
	}, nil
}

// CreateSchedule stores a schedule under its deterministic id. Returns an
// error wrapping storage.ErrDuplicateKey if the schedule already exists.
func (s *Service) CreateSchedule(ctx context.Context, req ScheduleRequest) (*domain.VestingSchedule, error) {
	if s.validateAddresses {
		if err := idhash.ValidateAddress(req.Beneficiary); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	schedule := &domain.VestingSchedule{
		ScheduleID:  idhash.ComputeScheduleID(req.AgentID, req.Purpose, req.Beneficiary),
		Beneficiary: req.Beneficiary,
		AgentID:     req.AgentID,
		Purpose:     req.Purpose,
		Kind:        req.Kind,
		TotalAmount: req.TotalAmount,
		Start:       req.Start.UTC(),
		End:         req.End.UTC(),
		Steps:       append([]domain.VestingStep(nil), req.Steps...),
		Claimed:     decimal.Zero,
		CreatedAt:   s.clock.Now(),
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, schedule); err != nil {
		return nil, fmt.Errorf("insert schedule %s: %w", schedule.ScheduleID, err)
	}

	s.logger.Info("vesting schedule created",
		zap.String("schedule_id", schedule.ScheduleID),
		zap.String("agent_id", schedule.AgentID),
		zap.String("purpose", schedule.Purpose),
		zap.String("total", schedule.TotalAmount.String()))
	return schedule, nil
}

// GetSchedule returns a schedule by id.
func (s *Service) GetSchedule(ctx context.Context, scheduleID string) (*domain.VestingSchedule, error) {
	schedule, err := s.store.GetByID(ctx, scheduleID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: schedule %q not found", domain.ErrValidation, scheduleID)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return schedule, nil
}

// GetClaimable returns the amount beneficiary could claim now.
func (s *Service) GetClaimable(ctx context.Context, beneficiary, scheduleID string) (decimal.Decimal, error) {
	schedule, err := s.owned(ctx, beneficiary, scheduleID)
	if err != nil {
		return decimal.Zero, err
	}
	if schedule.Halted {
		return decimal.Zero, nil
	}
	return Claimable(schedule, s.clock.Now()), nil
}

// PreviewClaim computes the claim Claim would make now, without writing.
func (s *Service) PreviewClaim(ctx context.Context, beneficiary, scheduleID string) (*ClaimResult, error) {
	schedule, err := s.owned(ctx, beneficiary, scheduleID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	claim, err := computeClaim(schedule, "", now)
	if err != nil {
		return nil, err
	}
	return resultFromClaim(claim, schedule.TotalAmount), nil
}

// Claim pays out everything claimable on the schedule. Reusing an idempotency
// key returns the earlier claim with AlreadyClaimed set.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	result, err := s.claim(ctx, req)
	switch {
	case err != nil:
		observability.RecordClaim(string(domain.Classify(err)))
	case result.AlreadyClaimed:
		observability.RecordClaim("replay")
	default:
		observability.RecordClaim("paid")
	}
	return result, err
}

func (s *Service) claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if req.ScheduleID == "" || req.Beneficiary == "" || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: schedule id, beneficiary and idempotency key are required", domain.ErrValidation)
	}

	now := s.clock.Now()
	var (
		result  *ClaimResult
		total   decimal.Decimal
		haltErr error
	)
	err := s.ledger.UpdateSchedule(ctx, req.ScheduleID, func(tx storage.VestingTx) error {
		result, haltErr = nil, nil
		schedule := tx.Schedule()
		if schedule.Beneficiary != req.Beneficiary {
			return domain.ErrBeneficiaryMismatch
		}
		total = schedule.TotalAmount

		prior, err := tx.ClaimByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			result = resultFromClaim(prior, total)
			result.AlreadyClaimed = true
			return nil
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		claim, err := computeClaim(schedule, req.IdempotencyKey, now)
		if errors.Is(err, domain.ErrInvariantViolation) {
			// Halt the schedule and commit the halt; the caller still gets the violation.
			schedule.Halted = true
			schedule.HaltReason = err.Error()
			haltErr = err
			return tx.PutSchedule(ctx, schedule)
		}
		if err != nil {
			return err
		}

		schedule.Claimed = claim.ClaimedAfter
		if err := tx.PutSchedule(ctx, schedule); err != nil {
			return fmt.Errorf("put schedule: %w", err)
		}
		if err := tx.AppendClaim(ctx, claim); err != nil {
			return fmt.Errorf("append claim: %w", err)
		}
		result = resultFromClaim(claim, total)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: schedule %q not found", domain.ErrValidation, req.ScheduleID)
	}
	if err == nil && haltErr != nil {
		s.logger.Error("vesting schedule halted on invariant violation",
			zap.String("schedule_id", req.ScheduleID),
			zap.Error(haltErr))
		return nil, haltErr
	}
	if err != nil {
		return nil, err
	}

	if !result.AlreadyClaimed {
		s.logger.Info("vesting claim paid",
			zap.String("schedule_id", req.ScheduleID),
			zap.String("claim_id", result.ClaimID),
			zap.String("amount", result.Amount.String()),
			zap.String("claimed_after", result.ClaimedAfter.String()))
	}
	return result, nil
}

// computeClaim builds the claim of everything claimable at now. The
// claimed <= vested precondition is checked before anything is written.
func computeClaim(s *domain.VestingSchedule, key string, now time.Time) (*domain.ClaimRecord, error) {
	if s.Halted {
		return nil, fmt.Errorf("%w: %s", domain.ErrScheduleHalted, s.HaltReason)
	}
	vested := Vested(s, now)
	if s.Claimed.GreaterThan(vested) || vested.GreaterThan(s.TotalAmount) {
		return nil, fmt.Errorf("%w: schedule %s claimed %s, vested %s, total %s",
			domain.ErrInvariantViolation, s.ScheduleID, s.Claimed, vested, s.TotalAmount)
	}

	amount := vested.Sub(s.Claimed)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: schedule %s", domain.ErrNothingToClaim, s.ScheduleID)
	}

	return &domain.ClaimRecord{
		ClaimID:        idhash.ComputeClaimID(s.ScheduleID, key),
		ScheduleID:     s.ScheduleID,
		Beneficiary:    s.Beneficiary,
		IdempotencyKey: key,
		Amount:         amount,
		ClaimedAfter:   s.Claimed.Add(amount),
		VestedAt:       vested,
		ClaimedAt:      now,
	}, nil
}

func resultFromClaim(c *domain.ClaimRecord, total decimal.Decimal) *ClaimResult {
	return &ClaimResult{
		ClaimID:      c.ClaimID,
		ScheduleID:   c.ScheduleID,
		Beneficiary:  c.Beneficiary,
		Amount:       c.Amount,
		ClaimedAfter: c.ClaimedAfter,
		VestedAt:     c.VestedAt,
		Remaining:    total.Sub(c.ClaimedAfter),
		ClaimedAt:    c.ClaimedAt,
	}
}

func (s *Service) owned(ctx context.Context, beneficiary, scheduleID string) (*domain.VestingSchedule, error) {
	if beneficiary == "" || scheduleID == "" {
		return nil, fmt.Errorf("%w: beneficiary and schedule id are required", domain.ErrValidation)
	}
	schedule, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule.Beneficiary != beneficiary {
		return nil, domain.ErrBeneficiaryMismatch
	}
	return schedule, nil
}
