package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

const tradeColumns = `
	trade_id, agent_id, holder_id, sequence, direction, idempotency_key,
	gross_amount, net_amount, creator_fee, platform_fee, unspent,
	token_amount, realized_pnl,
	price_after, tokens_sold_after, reserve_after,
	fx_rate, fx_as_of, display_value, created_at`

// TradeRecordStore implements storage.TradeRecordStore using PostgreSQL.
// Rows are appended only through Ledger transactions.
type TradeRecordStore struct {
	pool *Pool
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

func insertTradeRecord(ctx context.Context, q querier, t *domain.TradeRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO trade_records (`+tradeColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13,
			$14, $15, $16,
			$17, $18, $19, $20
		)`,
		t.TradeID, t.AgentID, t.HolderID, t.Sequence, string(t.Direction), t.IdempotencyKey,
		t.GrossAmount, t.NetAmount, t.CreatorFee, t.PlatformFee, t.Unspent,
		t.TokenAmount, t.RealizedPnL,
		t.PriceAfter, t.TokensSoldAfter, t.ReserveAfter,
		t.FXRate, t.FXAsOf, t.DisplayValue, t.CreatedAt,
	)
	return mapError("insert trade record", err)
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	t, err := scanTradeRecord(s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trade_records WHERE trade_id = $1`, tradeID))
	if err != nil {
		return nil, mapError("get trade record by id", err)
	}
	return t, nil
}

// GetByIdempotencyKey retrieves the trade settled under key. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByIdempotencyKey(ctx context.Context, agentID, key string) (*domain.TradeRecord, error) {
	t, err := scanTradeRecord(s.pool.QueryRow(ctx, `
		SELECT `+tradeColumns+` FROM trade_records
		WHERE agent_id = $1 AND idempotency_key = $2`, agentID, key))
	if err != nil {
		return nil, mapError("get trade record by idempotency key", err)
	}
	return t, nil
}

// GetByAgentID retrieves all trades of an agent, ordered by sequence ASC.
func (s *TradeRecordStore) GetByAgentID(ctx context.Context, agentID string) (result []*domain.TradeRecord, err error) {
	start := time.Now()
	defer func() { observe("trades_by_agent", start, err) }()

	return s.query(ctx, `
		SELECT `+tradeColumns+` FROM trade_records
		WHERE agent_id = $1
		ORDER BY sequence ASC`, agentID)
}

// GetByTimeRange retrieves trades of an agent created within [start, end), ordered by sequence ASC.
func (s *TradeRecordStore) GetByTimeRange(ctx context.Context, agentID string, start, end time.Time) ([]*domain.TradeRecord, error) {
	return s.query(ctx, `
		SELECT `+tradeColumns+` FROM trade_records
		WHERE agent_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY sequence ASC`, agentID, start, end)
}

func (s *TradeRecordStore) query(ctx context.Context, sql string, args ...any) ([]*domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query trade records: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeRecord
	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade records: %w", err)
	}
	return result, nil
}

func scanTradeRecord(row pgx.Row) (*domain.TradeRecord, error) {
	var (
		t         domain.TradeRecord
		direction string
	)
	err := row.Scan(
		&t.TradeID, &t.AgentID, &t.HolderID, &t.Sequence, &direction, &t.IdempotencyKey,
		&t.GrossAmount, &t.NetAmount, &t.CreatorFee, &t.PlatformFee, &t.Unspent,
		&t.TokenAmount, &t.RealizedPnL,
		&t.PriceAfter, &t.TokensSoldAfter, &t.ReserveAfter,
		&t.FXRate, &t.FXAsOf, &t.DisplayValue, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Direction = domain.Direction(direction)
	t.FXAsOf = t.FXAsOf.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
