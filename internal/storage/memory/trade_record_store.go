package memory

import (
	"context"
	"time"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// TradeRecordStore is an in-memory implementation of storage.TradeRecordStore.
// Trades are appended only through Ledger transactions.
type TradeRecordStore struct {
	l *Ledger
}

// NewTradeRecordStore creates a trade log reader over l.
func NewTradeRecordStore(l *Ledger) *TradeRecordStore {
	return &TradeRecordStore{l: l}
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(_ context.Context, tradeID string) (*domain.TradeRecord, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	t, exists := s.l.trades[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *t
	return &copy, nil
}

// GetByIdempotencyKey retrieves the trade settled under key.
func (s *TradeRecordStore) GetByIdempotencyKey(_ context.Context, agentID, key string) (*domain.TradeRecord, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	tradeID, exists := s.l.idem[agentID][key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *s.l.trades[tradeID]
	return &copy, nil
}

// GetByAgentID retrieves all trades of an agent, ordered by sequence ASC.
func (s *TradeRecordStore) GetByAgentID(_ context.Context, agentID string) ([]*domain.TradeRecord, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	ids := s.l.byAgent[agentID]
	result := make([]*domain.TradeRecord, 0, len(ids))
	for _, id := range ids {
		copy := *s.l.trades[id]
		result = append(result, &copy)
	}

	return result, nil
}

// GetByTimeRange retrieves trades created within [start, end), ordered by sequence ASC.
func (s *TradeRecordStore) GetByTimeRange(_ context.Context, agentID string, start, end time.Time) ([]*domain.TradeRecord, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, id := range s.l.byAgent[agentID] {
		t := s.l.trades[id]
		if !t.CreatedAt.Before(start) && t.CreatedAt.Before(end) {
			copy := *t
			result = append(result, &copy)
		}
	}

	return result, nil
}

var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)
