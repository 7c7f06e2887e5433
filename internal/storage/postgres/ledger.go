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

// DefaultLockTimeout bounds how long a transaction waits for an agent's row lock.
const DefaultLockTimeout = 5 * time.Second

// Ledger implements storage.Ledger. A transaction locks the agent's
// curve_states row with SELECT ... FOR UPDATE, so transactions on one agent
// serialize while other agents proceed in parallel.
type Ledger struct {
	pool        *Pool
	lockTimeout time.Duration
}

// NewLedger creates a Ledger. A non-positive lockTimeout uses DefaultLockTimeout.
func NewLedger(pool *Pool, lockTimeout time.Duration) *Ledger {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Ledger{pool: pool, lockTimeout: lockTimeout}
}

var _ storage.Ledger = (*Ledger)(nil)

// Update runs fn inside a transaction holding the agent's row lock.
func (l *Ledger) Update(ctx context.Context, agentID string, fn func(tx storage.LedgerTx) error) (err error) {
	start := time.Now()
	defer func() { observe("ledger_update", start, err) }()

	pgTx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError("begin ledger tx", err)
	}
	defer pgTx.Rollback(ctx)

	if _, err := pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", l.lockTimeout.Milliseconds())); err != nil {
		return mapError("set lock timeout", err)
	}

	state, err := scanCurveState(pgTx.QueryRow(ctx,
		`SELECT `+curveStateColumns+` FROM curve_states WHERE agent_id = $1 FOR UPDATE`, agentID))
	if err != nil {
		return mapError("lock curve state", err)
	}
	agent, err := getAgent(ctx, pgTx, agentID)
	if err != nil {
		return err
	}
	grad, err := getGraduation(ctx, pgTx, agentID)
	if err != nil {
		return err
	}

	tx := &ledgerTx{tx: pgTx, agent: agent, state: state, grad: grad}
	if err := fn(tx); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return mapError("commit ledger tx", err)
	}
	return nil
}

// ledgerTx writes through to the open transaction, so reads observe earlier
// writes of the same transaction.
type ledgerTx struct {
	tx    pgx.Tx
	agent *domain.Agent
	state *domain.CurveState
	grad  *domain.GraduationState
}

func (t *ledgerTx) Agent() *domain.Agent {
	a := *t.agent
	return &a
}

func (t *ledgerTx) CurveState() *domain.CurveState {
	s := *t.state
	return &s
}

func (t *ledgerTx) Graduation() *domain.GraduationState {
	g := *t.grad
	if g.Snapshot != nil {
		snap := *g.Snapshot
		g.Snapshot = &snap
	}
	if g.TriggeredAt != nil {
		at := *g.TriggeredAt
		g.TriggeredAt = &at
	}
	return &g
}

func (t *ledgerTx) HolderBalance(ctx context.Context, holderID string) (*domain.HolderBalance, error) {
	return getHolder(ctx, t.tx, t.agent.AgentID, holderID, true)
}

func (t *ledgerTx) TradeByIdempotencyKey(ctx context.Context, key string) (*domain.TradeRecord, error) {
	rec, err := scanTradeRecord(t.tx.QueryRow(ctx, `
		SELECT `+tradeColumns+` FROM trade_records
		WHERE agent_id = $1 AND idempotency_key = $2`, t.agent.AgentID, key))
	if err != nil {
		return nil, mapError("get trade by idempotency key", err)
	}
	return rec, nil
}

func (t *ledgerTx) PutCurveState(ctx context.Context, s *domain.CurveState) error {
	if s == nil || s.AgentID != t.agent.AgentID {
		return storage.ErrInvalidInput
	}
	if err := updateCurveState(ctx, t.tx, s, false); err != nil {
		return err
	}
	copy := *s
	t.state = &copy
	return nil
}

func (t *ledgerTx) PutHolderBalance(ctx context.Context, b *domain.HolderBalance) error {
	if b == nil || b.AgentID != t.agent.AgentID || b.HolderID == "" {
		return storage.ErrInvalidInput
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO holder_balances (`+holderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agent_id, holder_id) DO UPDATE SET
			token_balance = EXCLUDED.token_balance,
			total_invested = EXCLUDED.total_invested,
			realized_pnl = EXCLUDED.realized_pnl,
			avg_buy_price = EXCLUDED.avg_buy_price,
			updated_at = EXCLUDED.updated_at`,
		b.AgentID, b.HolderID, b.TokenBalance, b.TotalInvested,
		b.RealizedPnL, b.AvgBuyPrice, b.UpdatedAt,
	)
	return mapError("upsert holder balance", err)
}

func (t *ledgerTx) AppendTrade(ctx context.Context, rec *domain.TradeRecord) error {
	if rec == nil || rec.TradeID == "" || rec.AgentID != t.agent.AgentID {
		return storage.ErrInvalidInput
	}
	return insertTradeRecord(ctx, t.tx, rec)
}

func (t *ledgerTx) CompareAndSetGraduation(ctx context.Context, expected domain.GraduationStatus, g *domain.GraduationState) (bool, error) {
	if g == nil || g.AgentID != t.agent.AgentID {
		return false, storage.ErrInvalidInput
	}

	var snapshot []byte
	if g.Snapshot != nil {
		var err error
		if snapshot, err = json.Marshal(g.Snapshot); err != nil {
			return false, fmt.Errorf("encode graduation snapshot: %w", err)
		}
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE graduation_states SET
			status = $3, policy_id = $4, snapshot = $5, triggered_at = $6
		WHERE agent_id = $1 AND status = $2`,
		g.AgentID, string(expected), string(g.Status), g.PolicyID, snapshot, g.TriggeredAt,
	)
	if err != nil {
		return false, mapError("compare and set graduation", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	copy := *g
	t.grad = &copy
	return true, nil
}
