package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// PolicyStore implements storage.PolicyStore using PostgreSQL.
type PolicyStore struct {
	pool *Pool
}

// NewPolicyStore creates a new PolicyStore.
func NewPolicyStore(pool *Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

var _ storage.PolicyStore = (*PolicyStore)(nil)

// Insert adds a policy. Returns ErrDuplicateKey if policy_id exists.
func (s *PolicyStore) Insert(ctx context.Context, p *domain.GraduationPolicy) error {
	if p == nil || p.PolicyID == "" {
		return storage.ErrInvalidInput
	}
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("encode policy rules: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO graduation_policies (policy_id, combinator, rules)
		VALUES ($1, $2, $3)`,
		p.PolicyID, string(p.Combinator), rules,
	)
	return mapError("insert policy", err)
}

// GetByID retrieves a policy. Returns ErrNotFound if not exists.
func (s *PolicyStore) GetByID(ctx context.Context, policyID string) (*domain.GraduationPolicy, error) {
	var (
		p          domain.GraduationPolicy
		combinator string
		rules      []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT policy_id, combinator, rules FROM graduation_policies
		WHERE policy_id = $1`, policyID).Scan(&p.PolicyID, &combinator, &rules)
	if err != nil {
		return nil, mapError("get policy", err)
	}
	p.Combinator = domain.Combinator(combinator)
	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return nil, fmt.Errorf("decode policy rules: %w", err)
	}
	return &p, nil
}
