package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// FXSnapshotStore is an in-memory implementation of storage.FXSnapshotStore.
type FXSnapshotStore struct {
	mu   sync.RWMutex
	data map[fxKey]*domain.FXSnapshot
}

type fxKey struct {
	pair   string
	bucket int64 // unix nanos
}

// NewFXSnapshotStore creates a new in-memory fx snapshot store.
func NewFXSnapshotStore() *FXSnapshotStore {
	return &FXSnapshotStore{
		data: make(map[fxKey]*domain.FXSnapshot),
	}
}

// Insert adds a snapshot. Returns ErrDuplicateKey if (pair, bucket) exists.
func (s *FXSnapshotStore) Insert(_ context.Context, snap *domain.FXSnapshot) error {
	if snap == nil || snap.Pair == "" || !snap.Rate.IsPositive() {
		return storage.ErrInvalidInput
	}

	key := fxKey{pair: snap.Pair, bucket: snap.Bucket.UnixNano()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *snap
	s.data[key] = &copy
	return nil
}

// Get retrieves the snapshot of a bucket.
func (s *FXSnapshotStore) Get(_ context.Context, pair string, bucket time.Time) (*domain.FXSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[fxKey{pair: pair, bucket: bucket.UnixNano()}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *snap
	return &copy, nil
}

// GetByTimeRange retrieves snapshots with bucket within [start, end), ordered by bucket ASC.
func (s *FXSnapshotStore) GetByTimeRange(_ context.Context, pair string, start, end time.Time) ([]*domain.FXSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FXSnapshot
	for k, snap := range s.data {
		if k.pair == pair && !snap.Bucket.Before(start) && snap.Bucket.Before(end) {
			copy := *snap
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Bucket.Before(result[j].Bucket)
	})

	return result, nil
}

var _ storage.FXSnapshotStore = (*FXSnapshotStore)(nil)
