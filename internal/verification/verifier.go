// Package verification audits agent ledgers by replaying the trade log.
// It proves that every committed trade kept the curve solvent and that the
// stored curve state is exactly where the log says it should be.
package verification

import (
	"context"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
)

// Divergence is one failed check, located at a trade sequence. Sequence 0
// refers to the stored curve state rather than a trade.
type Divergence struct {
	Sequence int64  // trade sequence, 0 for the curve state
	TradeID  string // empty for the curve state
	Field    string // checked quantity
	Expected any    // value the replay requires
	Actual   any    // stored value
}

// AgentResult is the audit of one agent.
type AgentResult struct {
	AgentID     string
	Trades      int
	Solvent     bool // no divergences
	Divergences []Divergence

	TokensSold    decimal.Decimal // replayed
	Reserve       decimal.Decimal // replayed
	Deposited     decimal.Decimal // total currency that entered the reserve
	Withdrawn     decimal.Decimal // total currency paid out of the reserve
	FeesCollected decimal.Decimal // creator + platform fees across the log
}

// Report is the audit of many agents.
type Report struct {
	TotalAgents     int
	SolventAgents   int
	InsolventAgents int
	Results         []AgentResult
}

// Verifier audits agent ledgers.
type Verifier interface {
	// VerifyAgent replays one agent's trade log against its curve state.
	VerifyAgent(ctx context.Context, agentID string) (*AgentResult, error)

	// VerifyAll audits every agent.
	VerifyAll(ctx context.Context) (*Report, error)
}

func divergence(t *domain.TradeRecord, field string, expected, actual any) Divergence {
	d := Divergence{Field: field, Expected: expected, Actual: actual}
	if t != nil {
		d.Sequence = t.Sequence
		d.TradeID = t.TradeID
	}
	return d
}
