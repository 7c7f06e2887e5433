package memory

import (
	"context"
	"sort"
	"sync"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// Ledger is the in-memory committed state of every agent: curve state,
// holder balances, the trade log and the graduation row.
//
// Transactions on one agent are serialized by a per-agent semaphore. Writes
// are buffered in the transaction and applied under the store lock on commit,
// so readers only ever observe committed state.
type Ledger struct {
	mu      sync.RWMutex
	agents  map[string]*domain.Agent
	states  map[string]*domain.CurveState
	grads   map[string]*domain.GraduationState
	holders map[string]map[string]*domain.HolderBalance // agent_id -> holder_id
	trades  map[string]*domain.TradeRecord              // keyed by trade_id
	byAgent map[string][]string                         // agent_id -> trade_ids in sequence order
	idem    map[string]map[string]string                // agent_id -> idempotency_key -> trade_id
	locks   map[string]chan struct{}
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		agents:  make(map[string]*domain.Agent),
		states:  make(map[string]*domain.CurveState),
		grads:   make(map[string]*domain.GraduationState),
		holders: make(map[string]map[string]*domain.HolderBalance),
		trades:  make(map[string]*domain.TradeRecord),
		byAgent: make(map[string][]string),
		idem:    make(map[string]map[string]string),
		locks:   make(map[string]chan struct{}),
	}
}

// Update runs fn inside a serialized transaction on agentID.
func (l *Ledger) Update(ctx context.Context, agentID string, fn func(tx storage.LedgerTx) error) error {
	l.mu.RLock()
	lock, exists := l.locks[agentID]
	l.mu.RUnlock()
	if !exists {
		return storage.ErrNotFound
	}

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	l.mu.RLock()
	tx := &ledgerTx{
		l:       l,
		agent:   copyAgent(l.agents[agentID]),
		state:   copyCurveState(l.states[agentID]),
		grad:    copyGraduation(l.grads[agentID]),
		holders: make(map[string]*domain.HolderBalance),
	}
	l.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.commit(tx)
}

func (l *Ledger) commit(tx *ledgerTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	agentID := tx.agent.AgentID

	// Re-check append-only constraints against committed data
	for _, t := range tx.trades {
		if _, exists := l.trades[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := l.idem[agentID][t.IdempotencyKey]; exists {
			return storage.ErrDuplicateKey
		}
	}

	if tx.stateDirty {
		l.states[agentID] = copyCurveState(tx.state)
	}
	if tx.gradDirty {
		l.grads[agentID] = copyGraduation(tx.grad)
	}
	for holderID, b := range tx.holders {
		copy := *b
		l.holders[agentID][holderID] = &copy
	}
	for _, t := range tx.trades {
		copy := *t
		l.trades[t.TradeID] = &copy
		l.byAgent[agentID] = append(l.byAgent[agentID], t.TradeID)
		l.idem[agentID][t.IdempotencyKey] = t.TradeID
	}
	return nil
}

type ledgerTx struct {
	l       *Ledger
	agent   *domain.Agent
	state   *domain.CurveState
	grad    *domain.GraduationState
	holders map[string]*domain.HolderBalance // pending writes
	trades  []*domain.TradeRecord            // pending appends

	stateDirty bool
	gradDirty  bool
}

func (tx *ledgerTx) Agent() *domain.Agent {
	return copyAgent(tx.agent)
}

func (tx *ledgerTx) CurveState() *domain.CurveState {
	return copyCurveState(tx.state)
}

func (tx *ledgerTx) Graduation() *domain.GraduationState {
	return copyGraduation(tx.grad)
}

func (tx *ledgerTx) HolderBalance(_ context.Context, holderID string) (*domain.HolderBalance, error) {
	if b, ok := tx.holders[holderID]; ok {
		copy := *b
		return &copy, nil
	}

	tx.l.mu.RLock()
	defer tx.l.mu.RUnlock()

	b, exists := tx.l.holders[tx.agent.AgentID][holderID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *b
	return &copy, nil
}

func (tx *ledgerTx) TradeByIdempotencyKey(_ context.Context, key string) (*domain.TradeRecord, error) {
	for _, t := range tx.trades {
		if t.IdempotencyKey == key {
			copy := *t
			return &copy, nil
		}
	}

	tx.l.mu.RLock()
	defer tx.l.mu.RUnlock()

	tradeID, exists := tx.l.idem[tx.agent.AgentID][key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *tx.l.trades[tradeID]
	return &copy, nil
}

func (tx *ledgerTx) PutCurveState(_ context.Context, s *domain.CurveState) error {
	if s == nil || s.AgentID != tx.agent.AgentID {
		return storage.ErrInvalidInput
	}
	tx.state = copyCurveState(s)
	tx.stateDirty = true
	return nil
}

func (tx *ledgerTx) PutHolderBalance(_ context.Context, b *domain.HolderBalance) error {
	if b == nil || b.AgentID != tx.agent.AgentID || b.HolderID == "" {
		return storage.ErrInvalidInput
	}
	copy := *b
	tx.holders[b.HolderID] = &copy
	return nil
}

func (tx *ledgerTx) AppendTrade(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" || t.AgentID != tx.agent.AgentID {
		return storage.ErrInvalidInput
	}
	for _, p := range tx.trades {
		if p.TradeID == t.TradeID || p.IdempotencyKey == t.IdempotencyKey {
			return storage.ErrDuplicateKey
		}
	}

	tx.l.mu.RLock()
	_, idExists := tx.l.trades[t.TradeID]
	_, keyExists := tx.l.idem[tx.agent.AgentID][t.IdempotencyKey]
	tx.l.mu.RUnlock()
	if idExists || keyExists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	tx.trades = append(tx.trades, &copy)
	return nil
}

func (tx *ledgerTx) CompareAndSetGraduation(_ context.Context, expected domain.GraduationStatus, g *domain.GraduationState) (bool, error) {
	if g == nil || g.AgentID != tx.agent.AgentID {
		return false, storage.ErrInvalidInput
	}
	if tx.grad.Status != expected {
		return false, nil
	}
	tx.grad = copyGraduation(g)
	tx.gradDirty = true
	return true, nil
}

// AgentStore is an in-memory implementation of storage.AgentStore backed by a Ledger.
type AgentStore struct {
	l *Ledger
}

// NewAgentStore creates an agent store over l.
func NewAgentStore(l *Ledger) *AgentStore {
	return &AgentStore{l: l}
}

// Create inserts the agent with its zero curve state and pre_grad graduation row.
func (s *AgentStore) Create(_ context.Context, a *domain.Agent) error {
	if a == nil || a.AgentID == "" {
		return storage.ErrInvalidInput
	}

	s.l.mu.Lock()
	defer s.l.mu.Unlock()

	if _, exists := s.l.agents[a.AgentID]; exists {
		return storage.ErrDuplicateKey
	}

	s.l.agents[a.AgentID] = copyAgent(a)
	s.l.states[a.AgentID] = domain.NewCurveState(a.AgentID, a.CreatedAt)
	s.l.grads[a.AgentID] = &domain.GraduationState{
		AgentID:  a.AgentID,
		Status:   domain.StatusPreGrad,
		PolicyID: a.PolicyID,
	}
	s.l.holders[a.AgentID] = make(map[string]*domain.HolderBalance)
	s.l.idem[a.AgentID] = make(map[string]string)
	s.l.locks[a.AgentID] = make(chan struct{}, 1)
	return nil
}

// GetByID retrieves an agent by its ID. Returns ErrNotFound if not exists.
func (s *AgentStore) GetByID(_ context.Context, agentID string) (*domain.Agent, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	a, exists := s.l.agents[agentID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyAgent(a), nil
}

// List retrieves all agents, ordered by created_at ASC, agent_id ASC.
func (s *AgentStore) List(_ context.Context) ([]*domain.Agent, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	result := make([]*domain.Agent, 0, len(s.l.agents))
	for _, a := range s.l.agents {
		result = append(result, copyAgent(a))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].AgentID < result[j].AgentID
	})

	return result, nil
}

// CurveStateStore is an in-memory implementation of storage.CurveStateStore.
type CurveStateStore struct {
	l *Ledger
}

// NewCurveStateStore creates a curve state reader over l.
func NewCurveStateStore(l *Ledger) *CurveStateStore {
	return &CurveStateStore{l: l}
}

// Get retrieves the last committed state.
func (s *CurveStateStore) Get(_ context.Context, agentID string) (*domain.CurveState, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	st, exists := s.l.states[agentID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyCurveState(st), nil
}

// HolderBalanceStore is an in-memory implementation of storage.HolderBalanceStore.
type HolderBalanceStore struct {
	l *Ledger
}

// NewHolderBalanceStore creates a holder balance reader over l.
func NewHolderBalanceStore(l *Ledger) *HolderBalanceStore {
	return &HolderBalanceStore{l: l}
}

// Get retrieves one position.
func (s *HolderBalanceStore) Get(_ context.Context, agentID, holderID string) (*domain.HolderBalance, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	b, exists := s.l.holders[agentID][holderID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *b
	return &copy, nil
}

// GetByAgent retrieves all positions of an agent, ordered by holder_id ASC.
func (s *HolderBalanceStore) GetByAgent(_ context.Context, agentID string) ([]*domain.HolderBalance, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	var result []*domain.HolderBalance
	for _, b := range s.l.holders[agentID] {
		copy := *b
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].HolderID < result[j].HolderID
	})

	return result, nil
}

// GraduationStore is an in-memory implementation of storage.GraduationStore.
type GraduationStore struct {
	l *Ledger
}

// NewGraduationStore creates a graduation reader over l.
func NewGraduationStore(l *Ledger) *GraduationStore {
	return &GraduationStore{l: l}
}

// Get retrieves the graduation row of an agent.
func (s *GraduationStore) Get(_ context.Context, agentID string) (*domain.GraduationState, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	g, exists := s.l.grads[agentID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyGraduation(g), nil
}

// GetByStatus retrieves all rows with status, ordered by agent_id ASC.
func (s *GraduationStore) GetByStatus(_ context.Context, status domain.GraduationStatus) ([]*domain.GraduationState, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	var result []*domain.GraduationState
	for _, g := range s.l.grads {
		if g.Status == status {
			result = append(result, copyGraduation(g))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AgentID < result[j].AgentID
	})

	return result, nil
}

func copyAgent(a *domain.Agent) *domain.Agent {
	if a == nil {
		return nil
	}
	copy := *a
	return &copy
}

func copyCurveState(s *domain.CurveState) *domain.CurveState {
	if s == nil {
		return nil
	}
	copy := *s
	return &copy
}

func copyGraduation(g *domain.GraduationState) *domain.GraduationState {
	if g == nil {
		return nil
	}
	copy := *g
	if g.Snapshot != nil {
		snap := *g.Snapshot
		copy.Snapshot = &snap
	}
	if g.TriggeredAt != nil {
		at := *g.TriggeredAt
		copy.TriggeredAt = &at
	}
	return &copy
}

var (
	_ storage.Ledger             = (*Ledger)(nil)
	_ storage.AgentStore         = (*AgentStore)(nil)
	_ storage.CurveStateStore    = (*CurveStateStore)(nil)
	_ storage.HolderBalanceStore = (*HolderBalanceStore)(nil)
	_ storage.GraduationStore    = (*GraduationStore)(nil)
)
