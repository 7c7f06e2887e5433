package clickhouse

import (
	"context"
	"fmt"
	"time"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

const candleColumns = `
	agent_id, interval_seconds, bucket,
	open, high, low, close, volume, trade_count, fx_rate,
	open_display, high_display, low_display, close_display, volume_display`

// CandleStore implements storage.CandleStore using ClickHouse.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles. Fails entire batch on duplicate
// (agent_id, interval_seconds, bucket).
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		agentID  string
		interval int
		bucket   int64
	}
	seen := make(map[key]struct{})
	for _, c := range candles {
		k := key{c.AgentID, c.IntervalSeconds, c.Bucket.UnixMilli()}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, c := range candles {
		exists, err := s.exists(ctx, c.AgentID, c.IntervalSeconds, c.Bucket)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO candles (`+candleColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.AgentID, uint32(c.IntervalSeconds), c.Bucket.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume, uint32(c.TradeCount), c.FXRate,
			c.OpenDisplay, c.HighDisplay, c.LowDisplay, c.CloseDisplay, c.VolumeDisplay,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves candles with bucket within [start, end), ordered by bucket ASC.
func (s *CandleStore) GetByTimeRange(ctx context.Context, agentID string, intervalSeconds int, start, end time.Time) ([]*domain.Candle, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+candleColumns+` FROM candles
		WHERE agent_id = ? AND interval_seconds = ? AND bucket >= ? AND bucket < ?
		ORDER BY bucket ASC
		LIMIT 1 BY bucket`,
		agentID, uint32(intervalSeconds), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLast retrieves the most recent candle. Returns ErrNotFound if none exists.
func (s *CandleStore) GetLast(ctx context.Context, agentID string, intervalSeconds int) (*domain.Candle, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+candleColumns+` FROM candles
		WHERE agent_id = ? AND interval_seconds = ?
		ORDER BY bucket DESC
		LIMIT 1`, agentID, uint32(intervalSeconds))
	if err != nil {
		return nil, fmt.Errorf("query last candle: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, storage.ErrNotFound
	}
	return candles[0], nil
}

func (s *CandleStore) exists(ctx context.Context, agentID string, intervalSeconds int, bucket time.Time) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM candles
		WHERE agent_id = ? AND interval_seconds = ? AND bucket = ?`,
		agentID, uint32(intervalSeconds), bucket.UTC()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanCandles(rows chRows) ([]*domain.Candle, error) {
	var candles []*domain.Candle
	for rows.Next() {
		var (
			c          domain.Candle
			interval   uint32
			tradeCount uint32
		)
		err := rows.Scan(
			&c.AgentID, &interval, &c.Bucket,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &tradeCount, &c.FXRate,
			&c.OpenDisplay, &c.HighDisplay, &c.LowDisplay, &c.CloseDisplay, &c.VolumeDisplay,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.IntervalSeconds = int(interval)
		c.TradeCount = int(tradeCount)
		c.Bucket = c.Bucket.UTC()
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}
