package memory

import (
	"context"
	"sort"
	"sync"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// VestingStore is an in-memory implementation of storage.VestingStore and
// storage.VestingLedger. Claims on one schedule are serialized.
type VestingStore struct {
	mu        sync.RWMutex
	schedules map[string]*domain.VestingSchedule // keyed by schedule_id
	claims    map[string][]*domain.ClaimRecord   // schedule_id -> claims in order
	claimKeys map[string]map[string]int          // schedule_id -> idempotency_key -> index
	claimIDs  map[string]struct{}
	locks     map[string]chan struct{}
}

// NewVestingStore creates a new in-memory vesting store.
func NewVestingStore() *VestingStore {
	return &VestingStore{
		schedules: make(map[string]*domain.VestingSchedule),
		claims:    make(map[string][]*domain.ClaimRecord),
		claimKeys: make(map[string]map[string]int),
		claimIDs:  make(map[string]struct{}),
		locks:     make(map[string]chan struct{}),
	}
}

// Insert adds a schedule. Returns ErrDuplicateKey if schedule_id exists.
func (s *VestingStore) Insert(_ context.Context, v *domain.VestingSchedule) error {
	if v == nil || v.ScheduleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[v.ScheduleID]; exists {
		return storage.ErrDuplicateKey
	}

	s.schedules[v.ScheduleID] = copySchedule(v)
	s.claimKeys[v.ScheduleID] = make(map[string]int)
	s.locks[v.ScheduleID] = make(chan struct{}, 1)
	return nil
}

// GetByID retrieves a schedule. Returns ErrNotFound if not exists.
func (s *VestingStore) GetByID(_ context.Context, scheduleID string) (*domain.VestingSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.schedules[scheduleID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copySchedule(v), nil
}

// GetByBeneficiary retrieves all schedules of a beneficiary, ordered by schedule_id ASC.
func (s *VestingStore) GetByBeneficiary(_ context.Context, beneficiary string) ([]*domain.VestingSchedule, error) {
	return s.filter(func(v *domain.VestingSchedule) bool { return v.Beneficiary == beneficiary }), nil
}

// GetByAgent retrieves all schedules funded by an agent, ordered by schedule_id ASC.
func (s *VestingStore) GetByAgent(_ context.Context, agentID string) ([]*domain.VestingSchedule, error) {
	return s.filter(func(v *domain.VestingSchedule) bool { return v.AgentID == agentID }), nil
}

func (s *VestingStore) filter(match func(*domain.VestingSchedule) bool) []*domain.VestingSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VestingSchedule
	for _, v := range s.schedules {
		if match(v) {
			result = append(result, copySchedule(v))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduleID < result[j].ScheduleID
	})

	return result
}

// GetClaims retrieves the claims of a schedule, ordered by claimed_at ASC.
func (s *VestingStore) GetClaims(_ context.Context, scheduleID string) ([]*domain.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ClaimRecord, 0, len(s.claims[scheduleID]))
	for _, c := range s.claims[scheduleID] {
		copy := *c
		result = append(result, &copy)
	}
	return result, nil
}

// UpdateSchedule runs fn inside a serialized transaction on scheduleID.
func (s *VestingStore) UpdateSchedule(ctx context.Context, scheduleID string, fn func(tx storage.VestingTx) error) error {
	s.mu.RLock()
	lock, exists := s.locks[scheduleID]
	s.mu.RUnlock()
	if !exists {
		return storage.ErrNotFound
	}

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	s.mu.RLock()
	tx := &vestingTx{s: s, schedule: copySchedule(s.schedules[scheduleID])}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range tx.claims {
		if _, exists := s.claimIDs[c.ClaimID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := s.claimKeys[scheduleID][c.IdempotencyKey]; exists {
			return storage.ErrDuplicateKey
		}
	}
	if tx.dirty {
		s.schedules[scheduleID] = copySchedule(tx.schedule)
	}
	for _, c := range tx.claims {
		s.claimIDs[c.ClaimID] = struct{}{}
		s.claimKeys[scheduleID][c.IdempotencyKey] = len(s.claims[scheduleID])
		s.claims[scheduleID] = append(s.claims[scheduleID], c)
	}
	return nil
}

type vestingTx struct {
	s        *VestingStore
	schedule *domain.VestingSchedule
	claims   []*domain.ClaimRecord
	dirty    bool
}

func (tx *vestingTx) Schedule() *domain.VestingSchedule {
	return copySchedule(tx.schedule)
}

func (tx *vestingTx) ClaimByIdempotencyKey(_ context.Context, key string) (*domain.ClaimRecord, error) {
	for _, c := range tx.claims {
		if c.IdempotencyKey == key {
			copy := *c
			return &copy, nil
		}
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	idx, exists := tx.s.claimKeys[tx.schedule.ScheduleID][key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *tx.s.claims[tx.schedule.ScheduleID][idx]
	return &copy, nil
}

func (tx *vestingTx) PutSchedule(_ context.Context, v *domain.VestingSchedule) error {
	if v == nil || v.ScheduleID != tx.schedule.ScheduleID {
		return storage.ErrInvalidInput
	}
	tx.schedule = copySchedule(v)
	tx.dirty = true
	return nil
}

func (tx *vestingTx) AppendClaim(_ context.Context, c *domain.ClaimRecord) error {
	if c == nil || c.ClaimID == "" || c.ScheduleID != tx.schedule.ScheduleID {
		return storage.ErrInvalidInput
	}
	for _, p := range tx.claims {
		if p.ClaimID == c.ClaimID || p.IdempotencyKey == c.IdempotencyKey {
			return storage.ErrDuplicateKey
		}
	}
	copy := *c
	tx.claims = append(tx.claims, &copy)
	return nil
}

func copySchedule(v *domain.VestingSchedule) *domain.VestingSchedule {
	copy := *v
	copy.Steps = append([]domain.VestingStep(nil), v.Steps...)
	return &copy
}

var (
	_ storage.VestingStore  = (*VestingStore)(nil)
	_ storage.VestingLedger = (*VestingStore)(nil)
)
