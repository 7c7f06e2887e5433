package postgres

import (
	"context"
	"fmt"
	"time"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// FXSnapshotStore implements storage.FXSnapshotStore using PostgreSQL.
type FXSnapshotStore struct {
	pool *Pool
}

// NewFXSnapshotStore creates a new FXSnapshotStore.
func NewFXSnapshotStore(pool *Pool) *FXSnapshotStore {
	return &FXSnapshotStore{pool: pool}
}

var _ storage.FXSnapshotStore = (*FXSnapshotStore)(nil)

// Insert adds a snapshot. Returns ErrDuplicateKey if (pair, bucket) exists.
func (s *FXSnapshotStore) Insert(ctx context.Context, snap *domain.FXSnapshot) error {
	if snap == nil || snap.Pair == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fx_snapshots (pair, bucket, rate, as_of)
		VALUES ($1, $2, $3, $4)`,
		snap.Pair, snap.Bucket, snap.Rate, snap.AsOf,
	)
	return mapError("insert fx snapshot", err)
}

// Get retrieves the snapshot of a bucket. Returns ErrNotFound if not exists.
func (s *FXSnapshotStore) Get(ctx context.Context, pair string, bucket time.Time) (*domain.FXSnapshot, error) {
	var snap domain.FXSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT pair, bucket, rate, as_of FROM fx_snapshots
		WHERE pair = $1 AND bucket = $2`, pair, bucket).
		Scan(&snap.Pair, &snap.Bucket, &snap.Rate, &snap.AsOf)
	if err != nil {
		return nil, mapError("get fx snapshot", err)
	}
	snap.Bucket = snap.Bucket.UTC()
	snap.AsOf = snap.AsOf.UTC()
	return &snap, nil
}

// GetByTimeRange retrieves snapshots with bucket within [start, end), ordered by bucket ASC.
func (s *FXSnapshotStore) GetByTimeRange(ctx context.Context, pair string, start, end time.Time) ([]*domain.FXSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pair, bucket, rate, as_of FROM fx_snapshots
		WHERE pair = $1 AND bucket >= $2 AND bucket < $3
		ORDER BY bucket ASC`, pair, start, end)
	if err != nil {
		return nil, fmt.Errorf("query fx snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.FXSnapshot
	for rows.Next() {
		var snap domain.FXSnapshot
		if err := rows.Scan(&snap.Pair, &snap.Bucket, &snap.Rate, &snap.AsOf); err != nil {
			return nil, fmt.Errorf("scan fx snapshot: %w", err)
		}
		snap.Bucket = snap.Bucket.UTC()
		snap.AsOf = snap.AsOf.UTC()
		result = append(result, &snap)
	}
	return result, rows.Err()
}
