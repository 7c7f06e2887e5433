package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VestingKind selects the unlock curve of a schedule.
type VestingKind string

// Vesting kinds
const (
	VestingLinear VestingKind = "linear"
	VestingCliff  VestingKind = "cliff"
)

// Vesting purposes
const (
	PurposeHolderReward = "holder_reward"
	PurposeTeam         = "team"
)

// VestingStep unlocks CumulativeBps of the total at At.
type VestingStep struct {
	At            time.Time `json:"at"`
	CumulativeBps int64     `json:"cumulative_bps"`
}

// VestingSchedule describes a time-vested allocation.
// Corresponds to vesting_schedules table in PostgreSQL.
type VestingSchedule struct {
	ScheduleID  string
	Beneficiary string
	AgentID     string
	Purpose     string // holder_reward | team
	Kind        VestingKind
	TotalAmount decimal.Decimal
	Start       time.Time     // linear: vesting start
	End         time.Time     // linear: fully vested at End
	Steps       []VestingStep // cliff: ordered unlock steps, last step is 10000 bps
	Claimed     decimal.Decimal
	Halted      bool // set on invariant violation, blocks claims
	HaltReason  string
	CreatedAt   time.Time
}

// ClaimRecord is an append-only record of a vesting claim.
// Corresponds to vesting_claims table in PostgreSQL.
type ClaimRecord struct {
	ClaimID        string
	ScheduleID     string
	Beneficiary    string
	IdempotencyKey string
	Amount         decimal.Decimal // paid out by this claim
	ClaimedAfter   decimal.Decimal // schedule Claimed after this claim
	VestedAt       decimal.Decimal // vested amount at claim time
	ClaimedAt      time.Time
}
