package graduation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fixed"
	"agent-launchpad/internal/observability"
	"agent-launchpad/internal/storage"
	"agent-launchpad/internal/vesting"
)

// Migrator seeds open-market liquidity and migrates the token of a graduated
// agent. Implementations must be idempotent per agent.
type Migrator interface {
	Migrate(ctx context.Context, agent *domain.Agent, snap *domain.MetricSnapshot) error
}

// NopMigrator does nothing.
type NopMigrator struct{}

// Migrate implements Migrator.
func (NopMigrator) Migrate(context.Context, *domain.Agent, *domain.MetricSnapshot) error {
	return nil
}

// ScheduleCreator creates vesting schedules.
type ScheduleCreator interface {
	CreateSchedule(ctx context.Context, req vesting.ScheduleRequest) (*domain.VestingSchedule, error)
}

// FollowUpConfig configures the holder reward created on graduation.
type FollowUpConfig struct {
	RewardPoolBps         int64         // share of total supply distributed to holders
	RewardVestingDuration time.Duration // linear vesting from the graduation time
}

// FollowUpWorker handles graduation events. Every step keys off the terminal
// graduated status, so a redelivered or re-dispatched event is harmless.
type FollowUpWorker struct {
	config      FollowUpConfig
	agents      storage.AgentStore
	graduations storage.GraduationStore
	holders     storage.HolderBalanceStore
	schedules   ScheduleCreator
	migrator    Migrator
	logger      *zap.Logger
}

// NewFollowUpWorker creates a worker. A nil migrator is replaced by NopMigrator.
func NewFollowUpWorker(
	config FollowUpConfig,
	agents storage.AgentStore,
	graduations storage.GraduationStore,
	holders storage.HolderBalanceStore,
	schedules ScheduleCreator,
	migrator Migrator,
	logger *zap.Logger,
) *FollowUpWorker {
	if migrator == nil {
		migrator = NopMigrator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FollowUpWorker{
		config:      config,
		agents:      agents,
		graduations: graduations,
		holders:     holders,
		schedules:   schedules,
		migrator:    migrator,
		logger:      logger,
	}
}

// Handle processes one event. It is a Handler.
func (w *FollowUpWorker) Handle(ctx context.Context, e *domain.GraduationEvent) error {
	err := w.handle(ctx, e)
	if err != nil {
		observability.RecordFollowUp("error")
		return err
	}
	observability.RecordFollowUp("done")
	return nil
}

func (w *FollowUpWorker) handle(ctx context.Context, e *domain.GraduationEvent) error {
	grad, err := w.graduations.Get(ctx, e.AgentID)
	if err != nil {
		return fmt.Errorf("get graduation: %w", err)
	}
	// The stored row is authoritative; an event for a pre_grad agent is stale.
	if grad.Status != domain.StatusGraduated || grad.TriggeredAt == nil {
		w.logger.Warn("ignoring graduation event for non-graduated agent",
			zap.String("agent_id", e.AgentID), zap.String("event_id", e.EventID))
		return nil
	}

	agent, err := w.agents.GetByID(ctx, e.AgentID)
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}
	if err := w.migrator.Migrate(ctx, agent, grad.Snapshot); err != nil {
		return fmt.Errorf("migrate agent %s: %w", agent.AgentID, err)
	}

	created, err := w.createRewards(ctx, agent, grad)
	if err != nil {
		return err
	}

	w.logger.Info("graduation follow-up done",
		zap.String("agent_id", agent.AgentID),
		zap.String("event_id", e.EventID),
		zap.Int("reward_schedules_created", created))
	return nil
}

// createRewards gives every holder a linear schedule over its pro-rata share
// of the reward pool. Balances are frozen once graduated, so the split is
// stable across retries. Existing schedules count as done.
func (w *FollowUpWorker) createRewards(ctx context.Context, agent *domain.Agent, grad *domain.GraduationState) (int, error) {
	if w.schedules == nil || w.config.RewardPoolBps <= 0 || w.config.RewardVestingDuration <= 0 {
		return 0, nil
	}

	balances, err := w.holders.GetByAgent(ctx, agent.AgentID)
	if err != nil {
		return 0, fmt.Errorf("get holder balances: %w", err)
	}
	shares := RewardShares(agent.Curve.TotalSupply, w.config.RewardPoolBps, balances)

	start := *grad.TriggeredAt
	created := 0
	for _, share := range shares {
		_, err := w.schedules.CreateSchedule(ctx, vesting.ScheduleRequest{
			AgentID:     agent.AgentID,
			Beneficiary: share.HolderID,
			Purpose:     domain.PurposeHolderReward,
			Kind:        domain.VestingLinear,
			TotalAmount: share.Amount,
			Start:       start,
			End:         start.Add(w.config.RewardVestingDuration),
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create reward schedule for %s: %w", share.HolderID, err)
		}
		created++
	}
	return created, nil
}

// RewardShare is one holder's part of the reward pool.
type RewardShare struct {
	HolderID string
	Amount   decimal.Decimal
}

// RewardShares splits poolBps of totalSupply across holders in proportion to
// their token balance, rounding down. Holders whose share rounds to zero are
// left out.
func RewardShares(totalSupply decimal.Decimal, poolBps int64, balances []*domain.HolderBalance) []RewardShare {
	pool := fixed.MulBpsFloor(totalSupply, poolBps)
	held := decimal.Zero
	for _, b := range balances {
		if b.TokenBalance.IsPositive() {
			held = held.Add(b.TokenBalance)
		}
	}
	if !pool.IsPositive() || !held.IsPositive() {
		return nil
	}

	var shares []RewardShare
	for _, b := range balances {
		if !b.TokenBalance.IsPositive() {
			continue
		}
		amount := fixed.DivFloor(pool.Mul(b.TokenBalance), held)
		if amount.IsPositive() {
			shares = append(shares, RewardShare{HolderID: b.HolderID, Amount: amount})
		}
	}
	return shares
}
