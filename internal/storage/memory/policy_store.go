package memory

import (
	"context"
	"sync"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// PolicyStore is an in-memory implementation of storage.PolicyStore.
type PolicyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.GraduationPolicy // keyed by policy_id
}

// NewPolicyStore creates a new in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		data: make(map[string]*domain.GraduationPolicy),
	}
}

// Insert adds a policy. Returns ErrDuplicateKey if policy_id exists.
func (s *PolicyStore) Insert(_ context.Context, p *domain.GraduationPolicy) error {
	if p == nil || p.PolicyID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PolicyID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.PolicyID] = copyPolicy(p)
	return nil
}

// GetByID retrieves a policy. Returns ErrNotFound if not exists.
func (s *PolicyStore) GetByID(_ context.Context, policyID string) (*domain.GraduationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[policyID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyPolicy(p), nil
}

func copyPolicy(p *domain.GraduationPolicy) *domain.GraduationPolicy {
	copy := *p
	copy.Rules = append([]domain.Rule(nil), p.Rules...)
	return &copy
}

var _ storage.PolicyStore = (*PolicyStore)(nil)
