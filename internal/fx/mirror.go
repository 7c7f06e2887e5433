package fx

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// MirrorStore keeps primary as the write-once authority for snapshots and
// copies every snapshot primary accepts into an analytics mirror. Reads
// and conflicts are served by primary only; mirror failures are logged.
type MirrorStore struct {
	primary storage.FXSnapshotStore
	mirror  storage.FXSnapshotStore
	logger  *zap.Logger
}

// NewMirrorStore wraps primary with a best-effort copy into mirror.
func NewMirrorStore(primary, mirror storage.FXSnapshotStore, logger *zap.Logger) *MirrorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorStore{primary: primary, mirror: mirror, logger: logger}
}

var _ storage.FXSnapshotStore = (*MirrorStore)(nil)

// Insert writes to primary and mirrors the snapshot only when primary
// accepted it, so a bucket that lost the insert race is never mirrored.
func (m *MirrorStore) Insert(ctx context.Context, snap *domain.FXSnapshot) error {
	if err := m.primary.Insert(ctx, snap); err != nil {
		return err
	}
	if err := m.mirror.Insert(ctx, snap); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		m.logger.Warn("mirror fx snapshot",
			zap.String("pair", snap.Pair),
			zap.Time("bucket", snap.Bucket),
			zap.Error(err))
	}
	return nil
}

func (m *MirrorStore) Get(ctx context.Context, pair string, bucket time.Time) (*domain.FXSnapshot, error) {
	return m.primary.Get(ctx, pair, bucket)
}

func (m *MirrorStore) GetByTimeRange(ctx context.Context, pair string, start, end time.Time) ([]*domain.FXSnapshot, error) {
	return m.primary.GetByTimeRange(ctx, pair, start, end)
}
