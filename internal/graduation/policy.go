package graduation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
)

// ValidatePolicy checks that p can be evaluated.
func ValidatePolicy(p *domain.GraduationPolicy) error {
	if p == nil {
		return fmt.Errorf("%w: policy is required", domain.ErrValidation)
	}
	if p.PolicyID == "" {
		return fmt.Errorf("%w: policy id is required", domain.ErrValidation)
	}
	if p.Combinator != domain.CombinatorAny && p.Combinator != domain.CombinatorAll {
		return fmt.Errorf("%w: unknown combinator %q", domain.ErrValidation, p.Combinator)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("%w: policy %s has no rules", domain.ErrValidation, p.PolicyID)
	}

	var empty domain.MetricSnapshot
	for i, r := range p.Rules {
		if _, ok := empty.Value(r.Metric); !ok {
			return fmt.Errorf("%w: rule %d: unknown metric %q", domain.ErrValidation, i, r.Metric)
		}
		if _, ok := compare(decimal.Zero, r.Operator, decimal.Zero); !ok {
			return fmt.Errorf("%w: rule %d: unknown operator %q", domain.ErrValidation, i, r.Operator)
		}
	}
	return nil
}

// Matches applies p to snap. An invalid policy never matches.
func Matches(p *domain.GraduationPolicy, snap *domain.MetricSnapshot) bool {
	if ValidatePolicy(p) != nil {
		return false
	}

	for _, r := range p.Rules {
		hit := ruleMatches(r, snap)
		if p.Combinator == domain.CombinatorAny && hit {
			return true
		}
		if p.Combinator == domain.CombinatorAll && !hit {
			return false
		}
	}
	return p.Combinator == domain.CombinatorAll
}

func ruleMatches(r domain.Rule, snap *domain.MetricSnapshot) bool {
	v, ok := snap.Value(r.Metric)
	if !ok {
		return false
	}
	hit, _ := compare(v, r.Operator, r.Threshold)
	return hit
}

func compare(v decimal.Decimal, op domain.Operator, threshold decimal.Decimal) (bool, bool) {
	switch op {
	case domain.OpGTE:
		return v.GreaterThanOrEqual(threshold), true
	case domain.OpGT:
		return v.GreaterThan(threshold), true
	case domain.OpLTE:
		return v.LessThanOrEqual(threshold), true
	case domain.OpLT:
		return v.LessThan(threshold), true
	case domain.OpEQ:
		return v.Equal(threshold), true
	}
	return false, false
}
