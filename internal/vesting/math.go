package vesting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fixed"
)

// Vested returns the amount of s unlocked at now, truncated to 18 digits.
//
// Linear: total * clamp((now-start)/(end-start), 0, 1).
// Cliff: total * bps of the last step at or before now, 0 before the first step.
func Vested(s *domain.VestingSchedule, now time.Time) decimal.Decimal {
	switch s.Kind {
	case domain.VestingLinear:
		if !now.After(s.Start) {
			return decimal.Zero
		}
		if !now.Before(s.End) {
			return s.TotalAmount
		}
		elapsed := decimal.NewFromInt(int64(now.Sub(s.Start)))
		duration := decimal.NewFromInt(int64(s.End.Sub(s.Start)))
		return fixed.DivFloor(s.TotalAmount.Mul(elapsed), duration)

	case domain.VestingCliff:
		var bps int64
		for _, step := range s.Steps {
			if now.Before(step.At) {
				break
			}
			bps = step.CumulativeBps
		}
		if bps >= fixed.BpsDenominator {
			return s.TotalAmount
		}
		return fixed.MulBpsFloor(s.TotalAmount, bps)
	}
	return decimal.Zero
}

// Claimable returns max(0, vested - claimed) at now.
func Claimable(s *domain.VestingSchedule, now time.Time) decimal.Decimal {
	return fixed.Max(decimal.Zero, Vested(s, now).Sub(s.Claimed))
}

// ValidateSchedule checks the shape of a schedule before it is stored.
func ValidateSchedule(s *domain.VestingSchedule) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
	}

	switch {
	case s.Beneficiary == "":
		return invalid("beneficiary is required")
	case s.AgentID == "":
		return invalid("agent id is required")
	case s.Purpose != domain.PurposeHolderReward && s.Purpose != domain.PurposeTeam:
		return invalid("unknown purpose %q", s.Purpose)
	case !s.TotalAmount.IsPositive():
		return invalid("total amount must be positive")
	case !s.TotalAmount.Equal(fixed.Trunc(s.TotalAmount)):
		return invalid("total amount has more than %d fractional digits", fixed.Scale)
	case s.Claimed.IsNegative() || s.Claimed.GreaterThan(s.TotalAmount):
		return invalid("claimed %s outside [0, total]", s.Claimed)
	}

	switch s.Kind {
	case domain.VestingLinear:
		if s.Start.IsZero() || !s.End.After(s.Start) {
			return invalid("linear schedule needs start before end")
		}
	case domain.VestingCliff:
		if len(s.Steps) == 0 {
			return invalid("cliff schedule needs at least one step")
		}
		var prev domain.VestingStep
		for i, step := range s.Steps {
			if step.At.IsZero() || step.CumulativeBps <= 0 {
				return invalid("step %d: time and positive bps required", i)
			}
			if i > 0 && (!step.At.After(prev.At) || step.CumulativeBps <= prev.CumulativeBps) {
				return invalid("step %d: steps must strictly increase in time and bps", i)
			}
			prev = step
		}
		if prev.CumulativeBps != fixed.BpsDenominator {
			return invalid("last step must unlock %d bps, got %d", fixed.BpsDenominator, prev.CumulativeBps)
		}
	default:
		return invalid("unknown kind %q", s.Kind)
	}
	return nil
}
