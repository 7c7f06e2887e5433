package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agent-launchpad/internal/curve"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

// ErrAgentNotFound is returned when the agent id doesn't exist.
var ErrAgentNotFound = errors.New("agent not found")

// SolvencyAuditor implements Verifier over the read stores.
type SolvencyAuditor struct {
	agents storage.AgentStore
	states storage.CurveStateStore
	trades storage.TradeRecordStore
	logger *zap.Logger
}

// SolvencyAuditorOptions contains configuration for creating a SolvencyAuditor.
type SolvencyAuditorOptions struct {
	Agents storage.AgentStore
	States storage.CurveStateStore
	Trades storage.TradeRecordStore
	Logger *zap.Logger
}

// NewSolvencyAuditor creates a new SolvencyAuditor.
func NewSolvencyAuditor(opts SolvencyAuditorOptions) *SolvencyAuditor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SolvencyAuditor{
		agents: opts.Agents,
		states: opts.States,
		trades: opts.Trades,
		logger: logger,
	}
}

// VerifyAgent replays the trade log of agentID in sequence order.
func (a *SolvencyAuditor) VerifyAgent(ctx context.Context, agentID string) (*AgentResult, error) {
	agent, err := a.agents.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	state, err := a.states.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get curve state: %w", err)
	}
	trades, err := a.trades.GetByAgentID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}

	c, err := curve.New(agent.Curve)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}

	result := Replay(c, agentID, trades, state)
	if !result.Solvent {
		a.logger.Error("solvency audit failed",
			zap.String("agent_id", agentID),
			zap.Int("divergences", len(result.Divergences)))
	}
	return result, nil
}

// VerifyAll audits every agent. An agent that cannot be loaded is reported
// as insolvent with the load error.
func (a *SolvencyAuditor) VerifyAll(ctx context.Context) (*Report, error) {
	agents, err := a.agents.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TotalAgents: len(agents),
		Results:     make([]AgentResult, 0, len(agents)),
	}
	for _, agent := range agents {
		result, err := a.VerifyAgent(ctx, agent.AgentID)
		if err != nil {
			report.Results = append(report.Results, AgentResult{
				AgentID:     agent.AgentID,
				Divergences: []Divergence{{Field: "error", Actual: err.Error()}},
			})
			report.InsolventAgents++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Solvent {
			report.SolventAgents++
		} else {
			report.InsolventAgents++
		}
	}
	return report, nil
}

// Replay checks trades (ordered by sequence) against the curve c and the
// final stored state. It is pure.
func Replay(c *curve.Curve, agentID string, trades []*domain.TradeRecord, state *domain.CurveState) *AgentResult {
	r := &AgentResult{
		AgentID:       agentID,
		Trades:        len(trades),
		TokensSold:    decimal.Zero,
		Reserve:       decimal.Zero,
		Deposited:     decimal.Zero,
		Withdrawn:     decimal.Zero,
		FeesCollected: decimal.Zero,
	}
	add := func(d Divergence) { r.Divergences = append(r.Divergences, d) }

	for i, t := range trades {
		if want := int64(i + 1); t.Sequence != want {
			add(divergence(t, "sequence", want, t.Sequence))
		}
		if t.AgentID != agentID {
			add(divergence(t, "agent_id", agentID, t.AgentID))
		}

		if sum := t.CreatorFee.Add(t.PlatformFee).Add(t.NetAmount); !sum.Equal(t.GrossAmount) {
			add(divergence(t, "fee_conservation", t.GrossAmount, sum))
		}
		r.FeesCollected = r.FeesCollected.Add(t.CreatorFee).Add(t.PlatformFee)

		r.TokensSold = r.TokensSold.Add(t.TokenDelta())
		if !t.TokensSoldAfter.Equal(r.TokensSold) {
			add(divergence(t, "tokens_sold_after", r.TokensSold, t.TokensSoldAfter))
		}

		delta := t.ReserveDelta()
		if delta.IsPositive() {
			r.Deposited = r.Deposited.Add(delta)
		} else {
			r.Withdrawn = r.Withdrawn.Sub(delta)
		}
		r.Reserve = r.Reserve.Add(delta)
		if want := c.ReserveAt(t.TokensSoldAfter); !t.ReserveAfter.Equal(want) {
			add(divergence(t, "reserve_after", want, t.ReserveAfter))
		}
		if !t.ReserveAfter.Equal(r.Reserve) {
			add(divergence(t, "reserve_continuity", r.Reserve, t.ReserveAfter))
		}
		if r.Reserve.IsNegative() {
			add(divergence(t, "reserve_negative", "non-negative", r.Reserve))
		}
		if want := c.PriceAt(t.TokensSoldAfter); !t.PriceAfter.Equal(want) {
			add(divergence(t, "price_after", want, t.PriceAfter))
		}
	}

	if state != nil {
		if state.TradeCount != int64(len(trades)) {
			add(divergence(nil, "trade_count", int64(len(trades)), state.TradeCount))
		}
		if !state.TokensSold.Equal(r.TokensSold) {
			add(divergence(nil, "tokens_sold", r.TokensSold, state.TokensSold))
		}
		if !state.ReserveBalance.Equal(r.Reserve) {
			add(divergence(nil, "reserve_balance", r.Reserve, state.ReserveBalance))
		}
	}

	r.Solvent = len(r.Divergences) == 0
	return r
}
