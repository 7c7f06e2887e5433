package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agent-launchpad/internal/config"
	"agent-launchpad/internal/fx"
	"agent-launchpad/internal/storage"
	chstore "agent-launchpad/internal/storage/clickhouse"
	"agent-launchpad/internal/storage/memory"
	"agent-launchpad/internal/storage/migrations"
	pgstore "agent-launchpad/internal/storage/postgres"
)

// allStores holds all storage implementations.
type allStores struct {
	ledger      storage.Ledger
	agents      storage.AgentStore
	states      storage.CurveStateStore
	holders     storage.HolderBalanceStore
	graduations storage.GraduationStore
	trades      storage.TradeRecordStore
	policies    storage.PolicyStore
	vesting     storage.VestingStore
	vestingTx   storage.VestingLedger
	fxSnapshots storage.FXSnapshotStore
	candles     storage.CandleStore

	// ping reports backend reachability for /readyz; nil for memory.
	ping func(ctx context.Context) error
}

// createStores creates all required stores. The returned cleanup closes
// every opened connection.
func createStores(ctx context.Context, cfg config.StorageConfig, useMemory bool, logger *zap.Logger) (*allStores, func(), error) {
	if useMemory || cfg.Backend == "memory" {
		ledger := memory.NewLedger()
		vesting := memory.NewVestingStore()
		stores := &allStores{
			ledger:      ledger,
			agents:      memory.NewAgentStore(ledger),
			states:      memory.NewCurveStateStore(ledger),
			holders:     memory.NewHolderBalanceStore(ledger),
			graduations: memory.NewGraduationStore(ledger),
			trades:      memory.NewTradeRecordStore(ledger),
			policies:    memory.NewPolicyStore(),
			vesting:     vesting,
			vestingTx:   vesting,
			fxSnapshots: memory.NewFXSnapshotStore(),
			candles:     memory.NewCandleStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	vesting := pgstore.NewVestingStore(pool, pgstore.DefaultLockTimeout)
	stores := &allStores{
		ledger:      pgstore.NewLedger(pool, pgstore.DefaultLockTimeout),
		agents:      pgstore.NewAgentStore(pool),
		states:      pgstore.NewCurveStateStore(pool),
		holders:     pgstore.NewHolderBalanceStore(pool),
		graduations: pgstore.NewGraduationStore(pool),
		trades:      pgstore.NewTradeRecordStore(pool),
		policies:    pgstore.NewPolicyStore(pool),
		vesting:     vesting,
		vestingTx:   vesting,
		fxSnapshots: pgstore.NewFXSnapshotStore(pool),
		candles:     memory.NewCandleStore(),
		ping:        func(ctx context.Context) error { return pool.Ping(ctx) },
	}

	if cfg.ClickHouseDSN == "" {
		logger.Warn("clickhouse dsn not set, candles are kept in memory")
		return stores, pool.Close, nil
	}

	// ClickHouse (analytics: candles and a copy of postgres fx snapshots)
	var chConn *chstore.Conn
	if cfg.Migrate {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN, logger)
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.ClickHouseDSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	stores.fxSnapshots = fx.NewMirrorStore(stores.fxSnapshots, chstore.NewFXSnapshotStore(chConn), logger.Named("fx-mirror"))
	stores.candles = chstore.NewCandleStore(chConn)
	stores.ping = func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		return chConn.Ping(ctx)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}
