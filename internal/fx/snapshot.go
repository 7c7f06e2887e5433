package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agent-launchpad/internal/cache"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/observability"
	"agent-launchpad/internal/storage"
)

// SnapshotSource resolves the FX snapshot of a time bucket. The first request
// for a bucket fetches the provider and persists the rate; every later request
// for the same bucket reads the stored snapshot, so a rate is never recomputed.
type SnapshotSource struct {
	pair     string
	interval time.Duration
	provider Provider
	store    storage.FXSnapshotStore
	cache    *cache.ReadThrough[domain.FXSnapshot]
	logger   *zap.Logger
}

// SnapshotOptions configures a SnapshotSource.
type SnapshotOptions struct {
	Pair     string
	Interval time.Duration
	Provider Provider
	Store    storage.FXSnapshotStore
	Cache    *cache.ReadThrough[domain.FXSnapshot] // optional
	Logger   *zap.Logger                           // optional
}

// NewSnapshotSource validates opts and builds a source.
func NewSnapshotSource(opts SnapshotOptions) (*SnapshotSource, error) {
	if opts.Pair == "" || opts.Interval <= 0 || opts.Provider == nil || opts.Store == nil {
		return nil, errors.New("fx: pair, interval, provider and store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotSource{
		pair:     opts.Pair,
		interval: opts.Interval,
		provider: opts.Provider,
		store:    opts.Store,
		cache:    opts.Cache,
		logger:   logger,
	}, nil
}

// Pair returns the currency pair of the source.
func (s *SnapshotSource) Pair() string {
	return s.pair
}

// Interval returns the bucket width.
func (s *SnapshotSource) Interval() time.Duration {
	return s.interval
}

// Bucket returns the start of the bucket containing t.
func (s *SnapshotSource) Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(s.interval)
}

// ForTime returns the snapshot of the bucket containing t, creating it from
// the provider if this is the first request for the bucket.
func (s *SnapshotSource) ForTime(ctx context.Context, t time.Time) (*domain.FXSnapshot, error) {
	bucket := s.Bucket(t)
	if s.cache == nil {
		return s.resolve(ctx, bucket)
	}

	snap, err := s.cache.Get(ctx, s.cacheKey(bucket), func(ctx context.Context) (domain.FXSnapshot, error) {
		snap, err := s.resolve(ctx, bucket)
		if err != nil {
			return domain.FXSnapshot{}, err
		}
		return *snap, nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SnapshotSource) cacheKey(bucket time.Time) string {
	return fmt.Sprintf("%s:%d", s.pair, bucket.Unix())
}

func (s *SnapshotSource) resolve(ctx context.Context, bucket time.Time) (*domain.FXSnapshot, error) {
	snap, err := s.store.Get(ctx, s.pair, bucket)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get fx snapshot: %w", err)
	}

	rate, asOf, err := s.provider.Rate(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch fx rate: %w", err)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("fx provider returned non-positive rate %s", rate)
	}

	snap = &domain.FXSnapshot{
		Pair:   s.pair,
		Bucket: bucket,
		Rate:   rate,
		AsOf:   asOf.UTC(),
	}
	err = s.store.Insert(ctx, snap)
	switch {
	case err == nil:
		observability.RecordFXSnapshotCreated()
		s.logger.Debug("fx snapshot created",
			zap.String("pair", s.pair),
			zap.Time("bucket", bucket),
			zap.String("rate", rate.String()))
		return snap, nil
	case errors.Is(err, storage.ErrDuplicateKey):
		// Another writer won the bucket; its rate is authoritative.
		return s.store.Get(ctx, s.pair, bucket)
	default:
		return nil, fmt.Errorf("insert fx snapshot: %w", err)
	}
}
