package clickhouse

import (
	"context"
	"fmt"
	"time"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// FXSnapshotStore implements storage.FXSnapshotStore using ClickHouse.
// The duplicate check in Insert is not atomic; it is used as a mirror of
// the postgres store, which owns one rate per bucket.
type FXSnapshotStore struct {
	conn *Conn
}

// NewFXSnapshotStore creates a new FXSnapshotStore.
func NewFXSnapshotStore(conn *Conn) *FXSnapshotStore {
	return &FXSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FXSnapshotStore = (*FXSnapshotStore)(nil)

// Insert adds a snapshot. Returns ErrDuplicateKey if (pair, bucket) exists.
func (s *FXSnapshotStore) Insert(ctx context.Context, snap *domain.FXSnapshot) error {
	if snap == nil || snap.Pair == "" {
		return storage.ErrInvalidInput
	}

	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM fx_snapshots
		WHERE pair = ? AND bucket = ?`, snap.Pair, snap.Bucket.UTC()).Scan(&count)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO fx_snapshots (pair, bucket, rate, as_of)
		VALUES (?, ?, ?, ?)`,
		snap.Pair, snap.Bucket.UTC(), snap.Rate, snap.AsOf.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert fx snapshot: %w", err)
	}
	return nil
}

// Get retrieves the snapshot of a bucket. Returns ErrNotFound if not exists.
func (s *FXSnapshotStore) Get(ctx context.Context, pair string, bucket time.Time) (*domain.FXSnapshot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT pair, bucket, rate, as_of FROM fx_snapshots
		WHERE pair = ? AND bucket = ?
		ORDER BY as_of ASC
		LIMIT 1`, pair, bucket.UTC())
	if err != nil {
		return nil, fmt.Errorf("query fx snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := scanFXSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, storage.ErrNotFound
	}
	return snaps[0], nil
}

// GetByTimeRange retrieves snapshots with bucket within [start, end), ordered by bucket ASC.
func (s *FXSnapshotStore) GetByTimeRange(ctx context.Context, pair string, start, end time.Time) ([]*domain.FXSnapshot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT pair, bucket, rate, as_of FROM fx_snapshots
		WHERE pair = ? AND bucket >= ? AND bucket < ?
		ORDER BY bucket ASC, as_of ASC
		LIMIT 1 BY bucket`, pair, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query fx snapshots by time range: %w", err)
	}
	defer rows.Close()

	return scanFXSnapshots(rows)
}

func scanFXSnapshots(rows chRows) ([]*domain.FXSnapshot, error) {
	var snaps []*domain.FXSnapshot
	for rows.Next() {
		var snap domain.FXSnapshot
		if err := rows.Scan(&snap.Pair, &snap.Bucket, &snap.Rate, &snap.AsOf); err != nil {
			return nil, fmt.Errorf("scan fx snapshot row: %w", err)
		}
		snap.Bucket = snap.Bucket.UTC()
		snap.AsOf = snap.AsOf.UTC()
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fx snapshot rows: %w", err)
	}
	return snaps, nil
}
