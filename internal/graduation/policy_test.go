package graduation

import (
	"errors"
	"testing"

	"agent-launchpad/internal/domain"
)

func TestMatches(t *testing.T) {
	snap := &domain.MetricSnapshot{
		RaisedDisplay: dec("80050"),
		FDVDisplay:    dec("425000"),
		Price:         dec("0.00017"),
	}

	tests := []struct {
		name   string
		policy *domain.GraduationPolicy
		want   bool
	}{
		{
			name:   "single rule met",
			policy: raisedPolicy("80000"),
			want:   true,
		},
		{
			name:   "single rule unmet",
			policy: raisedPolicy("80050.01"),
			want:   false,
		},
		{
			name: "any with one match",
			policy: &domain.GraduationPolicy{PolicyID: "p", Combinator: domain.CombinatorAny, Rules: []domain.Rule{
				{Metric: domain.MetricRaisedDisplay, Operator: domain.OpGTE, Threshold: dec("1000000")},
				{Metric: domain.MetricFDVDisplay, Operator: domain.OpGT, Threshold: dec("400000")},
			}},
			want: true,
		},
		{
			name: "all with one miss",
			policy: &domain.GraduationPolicy{PolicyID: "p", Combinator: domain.CombinatorAll, Rules: []domain.Rule{
				{Metric: domain.MetricRaisedDisplay, Operator: domain.OpGTE, Threshold: dec("80000")},
				{Metric: domain.MetricPrice, Operator: domain.OpLT, Threshold: dec("0.0001")},
			}},
			want: false,
		},
		{
			name: "all met",
			policy: &domain.GraduationPolicy{PolicyID: "p", Combinator: domain.CombinatorAll, Rules: []domain.Rule{
				{Metric: domain.MetricRaisedDisplay, Operator: domain.OpGTE, Threshold: dec("80000")},
				{Metric: domain.MetricPrice, Operator: domain.OpEQ, Threshold: dec("0.00017")},
				{Metric: domain.MetricFDVDisplay, Operator: domain.OpLTE, Threshold: dec("425000")},
			}},
			want: true,
		},
		{
			name:   "invalid policy never matches",
			policy: &domain.GraduationPolicy{PolicyID: "p", Combinator: "MOST", Rules: raisedPolicy("1").Rules},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.policy, snap); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  *domain.GraduationPolicy
		wantErr bool
	}{
		{"valid", raisedPolicy("80000"), false},
		{"nil", nil, true},
		{"no id", &domain.GraduationPolicy{Combinator: domain.CombinatorAny, Rules: raisedPolicy("1").Rules}, true},
		{"no rules", &domain.GraduationPolicy{PolicyID: "p", Combinator: domain.CombinatorAll}, true},
		{"unknown metric", &domain.GraduationPolicy{PolicyID: "p", Combinator: domain.CombinatorAll, Rules: []domain.Rule{
			{Metric: "holders", Operator: domain.OpGTE, Threshold: dec("1")},
		}}, true},
		{"unknown operator", &domain.GraduationPolicy{PolicyID: "p", Combinator: domain.CombinatorAll, Rules: []domain.Rule{
			{Metric: domain.MetricPrice, Operator: "!=", Threshold: dec("1")},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolicy(tt.policy)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("ValidatePolicy() = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidatePolicy() unexpected error: %v", err)
			}
		})
	}
}

func TestValuationBasis(t *testing.T) {
	if got := ValuationBasis(domain.StatusPreGrad); got != BasisTotalSupply {
		t.Errorf("pre_grad basis = %s", got)
	}
	if got := ValuationBasis(domain.StatusGraduated); got != BasisCirculatingSupply {
		t.Errorf("graduated basis = %s", got)
	}
}
