package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[candleKey]*domain.Candle
}

type candleKey struct {
	agentID  string
	interval int
	bucket   int64 // unix nanos
}

func keyOf(c *domain.Candle) candleKey {
	return candleKey{agentID: c.AgentID, interval: c.IntervalSeconds, bucket: c.Bucket.UnixNano()}
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[candleKey]*domain.Candle),
	}
}

// InsertBulk adds multiple candles atomically. Fails entire batch on any duplicate.
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[candleKey]struct{}, len(candles))

	// First pass: check for duplicates (existing + intra-batch)
	for _, c := range candles {
		if c == nil || c.AgentID == "" || c.IntervalSeconds <= 0 {
			return storage.ErrInvalidInput
		}
		key := keyOf(c)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, c := range candles {
		copy := *c
		s.data[keyOf(c)] = &copy
	}

	return nil
}

// GetByTimeRange retrieves candles with bucket within [start, end), ordered by bucket ASC.
func (s *CandleStore) GetByTimeRange(_ context.Context, agentID string, intervalSeconds int, start, end time.Time) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for k, c := range s.data {
		if k.agentID == agentID && k.interval == intervalSeconds &&
			!c.Bucket.Before(start) && c.Bucket.Before(end) {
			copy := *c
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Bucket.Before(result[j].Bucket)
	})

	return result, nil
}

// GetLast retrieves the most recent candle. Returns ErrNotFound if none exists.
func (s *CandleStore) GetLast(_ context.Context, agentID string, intervalSeconds int) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *domain.Candle
	for k, c := range s.data {
		if k.agentID != agentID || k.interval != intervalSeconds {
			continue
		}
		if last == nil || c.Bucket.After(last.Bucket) {
			last = c
		}
	}
	if last == nil {
		return nil, storage.ErrNotFound
	}

	copy := *last
	return &copy, nil
}

var _ storage.CandleStore = (*CandleStore)(nil)
