package storage

import (
	"context"
	"time"

	"agent-launchpad/internal/domain"
)

// AgentStore provides access to agents storage.
type AgentStore interface {
	// Create inserts the agent together with its zero curve state and its
	// pre_grad graduation row, atomically. Returns ErrDuplicateKey if agent_id exists.
	Create(ctx context.Context, a *domain.Agent) error

	// GetByID retrieves an agent by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, agentID string) (*domain.Agent, error)

	// List retrieves all agents, ordered by created_at ASC, agent_id ASC.
	List(ctx context.Context) ([]*domain.Agent, error)
}

// CurveStateStore provides read access to committed curve_states.
type CurveStateStore interface {
	// Get retrieves the last committed state. Returns ErrNotFound if the agent does not exist.
	Get(ctx context.Context, agentID string) (*domain.CurveState, error)
}

// HolderBalanceStore provides read access to committed holder_balances.
type HolderBalanceStore interface {
	// Get retrieves one position. Returns ErrNotFound if the holder never traded.
	Get(ctx context.Context, agentID, holderID string) (*domain.HolderBalance, error)

	// GetByAgent retrieves all positions of an agent, ordered by holder_id ASC.
	GetByAgent(ctx context.Context, agentID string) ([]*domain.HolderBalance, error)
}

// TradeRecordStore provides read access to the append-only trade_records log.
type TradeRecordStore interface {
	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error)

	// GetByIdempotencyKey retrieves the trade settled under key. Returns ErrNotFound if not exists.
	GetByIdempotencyKey(ctx context.Context, agentID, key string) (*domain.TradeRecord, error)

	// GetByAgentID retrieves all trades of an agent, ordered by sequence ASC.
	GetByAgentID(ctx context.Context, agentID string) ([]*domain.TradeRecord, error)

	// GetByTimeRange retrieves trades of an agent created within [start, end), ordered by sequence ASC.
	GetByTimeRange(ctx context.Context, agentID string, start, end time.Time) ([]*domain.TradeRecord, error)
}

// GraduationStore provides read access to graduation_states.
type GraduationStore interface {
	// Get retrieves the graduation row of an agent. Returns ErrNotFound if not exists.
	Get(ctx context.Context, agentID string) (*domain.GraduationState, error)

	// GetByStatus retrieves all rows with status, ordered by agent_id ASC.
	GetByStatus(ctx context.Context, status domain.GraduationStatus) ([]*domain.GraduationState, error)
}

// PolicyStore provides access to graduation_policies storage.
type PolicyStore interface {
	// Insert adds a policy. Returns ErrDuplicateKey if policy_id exists.
	Insert(ctx context.Context, p *domain.GraduationPolicy) error

	// GetByID retrieves a policy. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, policyID string) (*domain.GraduationPolicy, error)
}

// LedgerTx is the view of one agent inside a serialized ledger transaction.
// Reads reflect writes made earlier in the same transaction.
type LedgerTx interface {
	Agent() *domain.Agent
	CurveState() *domain.CurveState
	Graduation() *domain.GraduationState

	// HolderBalance returns ErrNotFound if the holder has no position yet.
	HolderBalance(ctx context.Context, holderID string) (*domain.HolderBalance, error)

	// TradeByIdempotencyKey returns ErrNotFound if key was never settled for this agent.
	TradeByIdempotencyKey(ctx context.Context, key string) (*domain.TradeRecord, error)

	PutCurveState(ctx context.Context, s *domain.CurveState) error
	PutHolderBalance(ctx context.Context, b *domain.HolderBalance) error

	// AppendTrade returns ErrDuplicateKey if trade_id or (agent_id, idempotency_key) exists.
	AppendTrade(ctx context.Context, t *domain.TradeRecord) error

	// CompareAndSetGraduation replaces the graduation row only if its status
	// is still expected. Reports whether the swap happened.
	CompareAndSetGraduation(ctx context.Context, expected domain.GraduationStatus, g *domain.GraduationState) (bool, error)
}

// Ledger runs per-agent serialized transactions. Transactions on the same
// agent never interleave; transactions on different agents may run in parallel.
type Ledger interface {
	// Update runs fn and commits its writes atomically if fn returns nil.
	// Returns ErrNotFound if the agent does not exist and
	// domain.ErrStorageConflict if the backend rejected the commit.
	Update(ctx context.Context, agentID string, fn func(tx LedgerTx) error) error
}

// VestingStore provides access to vesting_schedules and vesting_claims storage.
type VestingStore interface {
	// Insert adds a schedule. Returns ErrDuplicateKey if schedule_id exists.
	Insert(ctx context.Context, s *domain.VestingSchedule) error

	// GetByID retrieves a schedule. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, scheduleID string) (*domain.VestingSchedule, error)

	// GetByBeneficiary retrieves all schedules of a beneficiary, ordered by schedule_id ASC.
	GetByBeneficiary(ctx context.Context, beneficiary string) ([]*domain.VestingSchedule, error)

	// GetByAgent retrieves all schedules funded by an agent, ordered by schedule_id ASC.
	GetByAgent(ctx context.Context, agentID string) ([]*domain.VestingSchedule, error)

	// GetClaims retrieves the claims of a schedule, ordered by claimed_at ASC.
	GetClaims(ctx context.Context, scheduleID string) ([]*domain.ClaimRecord, error)
}

// VestingTx is the view of one schedule inside a serialized transaction.
type VestingTx interface {
	Schedule() *domain.VestingSchedule

	// ClaimByIdempotencyKey returns ErrNotFound if key was never used on this schedule.
	ClaimByIdempotencyKey(ctx context.Context, key string) (*domain.ClaimRecord, error)

	PutSchedule(ctx context.Context, s *domain.VestingSchedule) error

	// AppendClaim returns ErrDuplicateKey if claim_id exists.
	AppendClaim(ctx context.Context, c *domain.ClaimRecord) error
}

// VestingLedger runs per-schedule serialized transactions.
type VestingLedger interface {
	// UpdateSchedule runs fn and commits its writes atomically if fn returns nil.
	// Returns ErrNotFound if the schedule does not exist.
	UpdateSchedule(ctx context.Context, scheduleID string, fn func(tx VestingTx) error) error
}

// FXSnapshotStore provides access to write-once fx_snapshots storage.
type FXSnapshotStore interface {
	// Insert adds a snapshot. Returns ErrDuplicateKey if (pair, bucket) exists.
	Insert(ctx context.Context, s *domain.FXSnapshot) error

	// Get retrieves the snapshot of a bucket. Returns ErrNotFound if not exists.
	Get(ctx context.Context, pair string, bucket time.Time) (*domain.FXSnapshot, error)

	// GetByTimeRange retrieves snapshots with bucket within [start, end), ordered by bucket ASC.
	GetByTimeRange(ctx context.Context, pair string, start, end time.Time) ([]*domain.FXSnapshot, error)
}

// CandleStore provides access to write-once candles storage.
type CandleStore interface {
	// InsertBulk adds multiple candles atomically. Fails entire batch on any duplicate
	// (agent_id, interval_seconds, bucket).
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetByTimeRange retrieves candles with bucket within [start, end), ordered by bucket ASC.
	GetByTimeRange(ctx context.Context, agentID string, intervalSeconds int, start, end time.Time) ([]*domain.Candle, error)

	// GetLast retrieves the most recent candle. Returns ErrNotFound if none exists.
	GetLast(ctx context.Context, agentID string, intervalSeconds int) (*domain.Candle, error)
}
