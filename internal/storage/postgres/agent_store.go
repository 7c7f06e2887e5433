package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

const agentColumns = `
	agent_id, creator_id, symbol, policy_id,
	start_price, end_price, supply_cap, total_supply,
	fee_bps, creator_fee_bps, platform_fee_bps, created_at`

const curveStateColumns = `
	agent_id, tokens_sold, reserve_balance, raised_display,
	trade_count, halted, halt_reason, updated_at`

const holderColumns = `
	agent_id, holder_id, token_balance, total_invested,
	realized_pnl, avg_buy_price, updated_at`

const graduationColumns = `agent_id, status, policy_id, snapshot, triggered_at`

// AgentStore implements storage.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *Pool
}

// NewAgentStore creates a new AgentStore.
func NewAgentStore(pool *Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AgentStore = (*AgentStore)(nil)

// Create inserts the agent, its zero curve state and its pre_grad graduation
// row in one transaction. Returns ErrDuplicateKey if agent_id exists.
func (s *AgentStore) Create(ctx context.Context, a *domain.Agent) (err error) {
	start := time.Now()
	defer func() { observe("create_agent", start, err) }()

	if a == nil || a.AgentID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.AgentID, a.CreatorID, a.Symbol, a.PolicyID,
		a.Curve.StartPrice, a.Curve.EndPrice, a.Curve.SupplyCap, a.Curve.TotalSupply,
		a.Curve.FeeBps, a.Curve.CreatorFeeBps, a.Curve.PlatformFeeBps, a.CreatedAt,
	)
	if err != nil {
		return mapError("insert agent", err)
	}

	state := domain.NewCurveState(a.AgentID, a.CreatedAt)
	if err := updateCurveState(ctx, tx, state, true); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO graduation_states (`+graduationColumns+`)
		VALUES ($1, $2, $3, NULL, NULL)`,
		a.AgentID, string(domain.StatusPreGrad), a.PolicyID,
	)
	if err != nil {
		return mapError("insert graduation state", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("commit agent", err)
	}
	return nil
}

// GetByID retrieves an agent by its ID. Returns ErrNotFound if not exists.
func (s *AgentStore) GetByID(ctx context.Context, agentID string) (a *domain.Agent, err error) {
	start := time.Now()
	defer func() { observe("get_agent", start, err) }()
	return getAgent(ctx, s.pool, agentID)
}

// List retrieves all agents, ordered by created_at ASC, agent_id ASC.
func (s *AgentStore) List(ctx context.Context) ([]*domain.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC, agent_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func getAgent(ctx context.Context, q querier, agentID string) (*domain.Agent, error) {
	a, err := scanAgent(q.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, agentID))
	if err != nil {
		return nil, mapError("get agent", err)
	}
	return a, nil
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var a domain.Agent
	err := row.Scan(
		&a.AgentID, &a.CreatorID, &a.Symbol, &a.PolicyID,
		&a.Curve.StartPrice, &a.Curve.EndPrice, &a.Curve.SupplyCap, &a.Curve.TotalSupply,
		&a.Curve.FeeBps, &a.Curve.CreatorFeeBps, &a.Curve.PlatformFeeBps, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// CurveStateStore implements storage.CurveStateStore using PostgreSQL.
type CurveStateStore struct {
	pool *Pool
}

// NewCurveStateStore creates a new CurveStateStore.
func NewCurveStateStore(pool *Pool) *CurveStateStore {
	return &CurveStateStore{pool: pool}
}

var _ storage.CurveStateStore = (*CurveStateStore)(nil)

// Get retrieves the last committed state. Returns ErrNotFound if the agent does not exist.
func (s *CurveStateStore) Get(ctx context.Context, agentID string) (*domain.CurveState, error) {
	st, err := scanCurveState(s.pool.QueryRow(ctx, `SELECT `+curveStateColumns+` FROM curve_states WHERE agent_id = $1`, agentID))
	if err != nil {
		return nil, mapError("get curve state", err)
	}
	return st, nil
}

func scanCurveState(row pgx.Row) (*domain.CurveState, error) {
	var st domain.CurveState
	err := row.Scan(
		&st.AgentID, &st.TokensSold, &st.ReserveBalance, &st.RaisedDisplay,
		&st.TradeCount, &st.Halted, &st.HaltReason, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

func updateCurveState(ctx context.Context, q querier, st *domain.CurveState, insert bool) error {
	args := []any{
		st.AgentID, st.TokensSold, st.ReserveBalance, st.RaisedDisplay,
		st.TradeCount, st.Halted, st.HaltReason, st.UpdatedAt,
	}
	if insert {
		_, err := q.Exec(ctx, `
			INSERT INTO curve_states (`+curveStateColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, args...)
		return mapError("insert curve state", err)
	}
	tag, err := q.Exec(ctx, `
		UPDATE curve_states SET
			tokens_sold = $2, reserve_balance = $3, raised_display = $4,
			trade_count = $5, halted = $6, halt_reason = $7, updated_at = $8
		WHERE agent_id = $1`, args...)
	if err != nil {
		return mapError("update curve state", err)
	}
	if tag.RowsAffected() != 1 {
		return storage.ErrNotFound
	}
	return nil
}

// HolderBalanceStore implements storage.HolderBalanceStore using PostgreSQL.
type HolderBalanceStore struct {
	pool *Pool
}

// NewHolderBalanceStore creates a new HolderBalanceStore.
func NewHolderBalanceStore(pool *Pool) *HolderBalanceStore {
	return &HolderBalanceStore{pool: pool}
}

var _ storage.HolderBalanceStore = (*HolderBalanceStore)(nil)

// Get retrieves one position. Returns ErrNotFound if the holder never traded.
func (s *HolderBalanceStore) Get(ctx context.Context, agentID, holderID string) (*domain.HolderBalance, error) {
	return getHolder(ctx, s.pool, agentID, holderID, false)
}

// GetByAgent retrieves all positions of an agent, ordered by holder_id ASC.
func (s *HolderBalanceStore) GetByAgent(ctx context.Context, agentID string) ([]*domain.HolderBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+holderColumns+` FROM holder_balances
		WHERE agent_id = $1
		ORDER BY holder_id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("get holders by agent: %w", err)
	}
	defer rows.Close()

	var result []*domain.HolderBalance
	for rows.Next() {
		b, err := scanHolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan holder balance: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func getHolder(ctx context.Context, q querier, agentID, holderID string, forUpdate bool) (*domain.HolderBalance, error) {
	query := `SELECT ` + holderColumns + ` FROM holder_balances WHERE agent_id = $1 AND holder_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanHolder(q.QueryRow(ctx, query, agentID, holderID))
	if err != nil {
		return nil, mapError("get holder balance", err)
	}
	return b, nil
}

func scanHolder(row pgx.Row) (*domain.HolderBalance, error) {
	var b domain.HolderBalance
	err := row.Scan(
		&b.AgentID, &b.HolderID, &b.TokenBalance, &b.TotalInvested,
		&b.RealizedPnL, &b.AvgBuyPrice, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// GraduationStore implements storage.GraduationStore using PostgreSQL.
type GraduationStore struct {
	pool *Pool
}

// NewGraduationStore creates a new GraduationStore.
func NewGraduationStore(pool *Pool) *GraduationStore {
	return &GraduationStore{pool: pool}
}

var _ storage.GraduationStore = (*GraduationStore)(nil)

// Get retrieves the graduation row of an agent. Returns ErrNotFound if not exists.
func (s *GraduationStore) Get(ctx context.Context, agentID string) (*domain.GraduationState, error) {
	return getGraduation(ctx, s.pool, agentID)
}

// GetByStatus retrieves all rows with status, ordered by agent_id ASC.
func (s *GraduationStore) GetByStatus(ctx context.Context, status domain.GraduationStatus) ([]*domain.GraduationState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+graduationColumns+` FROM graduation_states
		WHERE status = $1
		ORDER BY agent_id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("get graduations by status: %w", err)
	}
	defer rows.Close()

	var result []*domain.GraduationState
	for rows.Next() {
		g, err := scanGraduation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan graduation state: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func getGraduation(ctx context.Context, q querier, agentID string) (*domain.GraduationState, error) {
	g, err := scanGraduation(q.QueryRow(ctx, `SELECT `+graduationColumns+` FROM graduation_states WHERE agent_id = $1`, agentID))
	if err != nil {
		return nil, mapError("get graduation state", err)
	}
	return g, nil
}

func scanGraduation(row pgx.Row) (*domain.GraduationState, error) {
	var (
		g        domain.GraduationState
		status   string
		snapshot []byte
	)
	if err := row.Scan(&g.AgentID, &status, &g.PolicyID, &snapshot, &g.TriggeredAt); err != nil {
		return nil, err
	}
	g.Status = domain.GraduationStatus(status)
	if len(snapshot) > 0 {
		g.Snapshot = &domain.MetricSnapshot{}
		if err := json.Unmarshal(snapshot, g.Snapshot); err != nil {
			return nil, fmt.Errorf("decode graduation snapshot: %w", err)
		}
	}
	if g.TriggeredAt != nil {
		t := g.TriggeredAt.UTC()
		g.TriggeredAt = &t
	}
	return &g, nil
}
