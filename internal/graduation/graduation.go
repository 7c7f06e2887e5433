// Package graduation evaluates graduation policies against ledger-derived
// metrics and performs the one-way pre_grad -> graduated transition.
//
// The transition is a compare-and-set on the graduation row inside the
// agent's serialized ledger transaction, so concurrent evaluations produce
// exactly one winner. Follow-up work (liquidity migration, holder rewards) is
// dispatched after the transition commits and keys off the terminal status.
package graduation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agent-launchpad/internal/cache"
	"agent-launchpad/internal/clock"
	"agent-launchpad/internal/curve"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fixed"
	"agent-launchpad/internal/fx"
	"agent-launchpad/internal/idhash"
	"agent-launchpad/internal/observability"
	"agent-launchpad/internal/storage"
)

// FXSource resolves the FX snapshot valid at a point in time.
type FXSource interface {
	ForTime(ctx context.Context, t time.Time) (*domain.FXSnapshot, error)
}

// Outcome is the result of EvaluateAndMaybeGraduate.
type Outcome struct {
	AgentID      string
	Status       domain.GraduationStatus
	PolicyID     string
	Matched      bool // policy held at evaluation time
	Transitioned bool // this call performed the transition
	Snapshot     *domain.MetricSnapshot
}

// StatusView is the externally visible graduation status of an agent.
type StatusView struct {
	AgentID     string
	Status      domain.GraduationStatus
	Policy      *domain.GraduationPolicy
	Snapshot    *domain.MetricSnapshot // triggering metrics, nil while pre_grad
	TriggeredAt *time.Time
	Current     *domain.MetricSnapshot // metrics at request time
	Valuation   Valuation
}

// Options configures a Service.
type Options struct {
	Ledger      storage.Ledger
	Agents      storage.AgentStore
	States      storage.CurveStateStore
	Graduations storage.GraduationStore
	Policies    storage.PolicyStore
	FX          FXSource

	PolicyCache *cache.ReadThrough[domain.GraduationPolicy] // optional, keyed by agent id
	Publisher   Publisher                                   // optional

	Clock  clock.Clock
	Logger *zap.Logger
}

// Service evaluates and transitions agents.
type Service struct {
	ledger      storage.Ledger
	agents      storage.AgentStore
	states      storage.CurveStateStore
	graduations storage.GraduationStore
	policies    storage.PolicyStore
	fx          FXSource
	policyCache *cache.ReadThrough[domain.GraduationPolicy]
	publisher   Publisher
	clock       clock.Clock
	logger      *zap.Logger
}

// New creates a graduation service.
func New(opts Options) (*Service, error) {
	if opts.Ledger == nil || opts.Agents == nil || opts.States == nil ||
		opts.Graduations == nil || opts.Policies == nil || opts.FX == nil {
		return nil, errors.New("graduation: ledger, stores and fx source are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger:      opts.Ledger,
		agents:      opts.Agents,
		states:      opts.States,
		graduations: opts.Graduations,
		policies:    opts.Policies,
		fx:          opts.FX,
		policyCache: opts.PolicyCache,
		publisher:   opts.Publisher,
		clock:       clock.OrSystem(opts.Clock),
		logger:      logger,
	}, nil
}

// TakeSnapshot derives the graduation metrics of a curve position at rate.
func TakeSnapshot(agent *domain.Agent, state *domain.CurveState, rate decimal.Decimal, at time.Time) (*domain.MetricSnapshot, error) {
	c, err := curve.New(agent.Curve)
	if err != nil {
		return nil, err
	}
	cfg := c.Config()
	price := c.PriceAt(state.TokensSold)

	return &domain.MetricSnapshot{
		TokensSold:       state.TokensSold,
		Reserve:          state.ReserveBalance,
		Price:            price,
		RaisedDisplay:    fx.ToDisplay(state.ReserveBalance, rate),
		FDVDisplay:       fx.ToDisplay(fixed.MulTrunc(price, cfg.TotalSupply), rate),
		MarketCapDisplay: fx.ToDisplay(fixed.MulTrunc(price, state.TokensSold), rate),
		SupplySoldBps:    fixed.DivFloor(state.TokensSold.Mul(decimal.NewFromInt(fixed.BpsDenominator)), cfg.SupplyCap),
		FXRate:           rate,
		TradeCount:       state.TradeCount,
		TakenAt:          at,
	}, nil
}

// Evaluate applies the agent's policy to its last committed state without
// writing anything.
func (s *Service) Evaluate(ctx context.Context, agentID string) (bool, *domain.MetricSnapshot, error) {
	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return false, nil, err
	}
	state, err := s.states.Get(ctx, agentID)
	if err != nil {
		return false, nil, fmt.Errorf("get curve state: %w", err)
	}
	policy, err := s.policyFor(ctx, agent)
	if err != nil {
		return false, nil, err
	}

	now := s.clock.Now()
	snap, err := s.fx.ForTime(ctx, now)
	if err != nil {
		return false, nil, fmt.Errorf("resolve fx snapshot: %w", err)
	}
	metrics, err := TakeSnapshot(agent, state, snap.Rate, now)
	if err != nil {
		return false, nil, err
	}
	return Matches(policy, metrics), metrics, nil
}

// EvaluateAndMaybeGraduate graduates the agent if it is still pre_grad and
// its policy holds against the state inside the transaction. Transitioned is
// set only on the single call that performed the transition.
func (s *Service) EvaluateAndMaybeGraduate(ctx context.Context, agentID string) (*Outcome, error) {
	outcome, err := s.evaluateAndMaybeGraduate(ctx, agentID)
	switch {
	case err != nil:
		observability.RecordGraduationEvaluation("error")
	case outcome.Transitioned:
		observability.RecordGraduationEvaluation("graduated")
	case outcome.Matched:
		observability.RecordGraduationEvaluation("met")
	default:
		observability.RecordGraduationEvaluation("unmet")
	}
	return outcome, err
}

func (s *Service) evaluateAndMaybeGraduate(ctx context.Context, agentID string) (*Outcome, error) {
	current, err := s.graduations.Get(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: agent %q not found", domain.ErrValidation, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get graduation: %w", err)
	}
	if current.Status == domain.StatusGraduated {
		return &Outcome{
			AgentID:  agentID,
			Status:   domain.StatusGraduated,
			PolicyID: current.PolicyID,
			Matched:  true,
			Snapshot: current.Snapshot,
		}, nil
	}

	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policyFor(ctx, agent)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	rate, err := s.fx.ForTime(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("resolve fx snapshot: %w", err)
	}

	var outcome *Outcome
	err = s.ledger.Update(ctx, agentID, func(tx storage.LedgerTx) error {
		grad := tx.Graduation()
		outcome = &Outcome{AgentID: agentID, Status: grad.Status, PolicyID: policy.PolicyID, Snapshot: grad.Snapshot}
		if grad.Status == domain.StatusGraduated {
			outcome.Matched = true
			return nil
		}

		state := tx.CurveState()
		if state.Halted {
			return fmt.Errorf("%w: %s", domain.ErrAgentHalted, state.HaltReason)
		}
		metrics, err := TakeSnapshot(tx.Agent(), state, rate.Rate, now)
		if err != nil {
			return err
		}
		outcome.Snapshot = metrics
		if !Matches(policy, metrics) {
			return nil
		}
		outcome.Matched = true

		triggeredAt := now
		swapped, err := tx.CompareAndSetGraduation(ctx, domain.StatusPreGrad, &domain.GraduationState{
			AgentID:     agentID,
			Status:      domain.StatusGraduated,
			PolicyID:    policy.PolicyID,
			Snapshot:    metrics,
			TriggeredAt: &triggeredAt,
		})
		if err != nil {
			return fmt.Errorf("compare and set graduation: %w", err)
		}
		if swapped {
			outcome.Status = domain.StatusGraduated
			outcome.Transitioned = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.Transitioned {
		s.logger.Info("agent graduated",
			zap.String("agent_id", agentID),
			zap.String("policy_id", policy.PolicyID),
			zap.String("raised_display", outcome.Snapshot.RaisedDisplay.String()),
			zap.String("fdv_display", outcome.Snapshot.FDVDisplay.String()),
			zap.Int64("trade_count", outcome.Snapshot.TradeCount))
		s.dispatch(ctx, NewEvent(agentID, policy.PolicyID, outcome.Snapshot, now))
	}
	return outcome, nil
}

// GetGraduationStatus returns the graduation row of an agent with its policy,
// current metrics and the valuation derived from the status.
func (s *Service) GetGraduationStatus(ctx context.Context, agentID string) (*StatusView, error) {
	grad, err := s.graduations.Get(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: agent %q not found", domain.ErrValidation, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get graduation: %w", err)
	}
	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policyFor(ctx, agent)
	if err != nil {
		return nil, err
	}
	state, err := s.states.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get curve state: %w", err)
	}

	now := s.clock.Now()
	rate, err := s.fx.ForTime(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("resolve fx snapshot: %w", err)
	}
	current, err := TakeSnapshot(agent, state, rate.Rate, now)
	if err != nil {
		return nil, err
	}

	return &StatusView{
		AgentID:     agentID,
		Status:      grad.Status,
		Policy:      policy,
		Snapshot:    grad.Snapshot,
		TriggeredAt: grad.TriggeredAt,
		Current:     current,
		Valuation:   ValuationOf(grad.Status, current),
	}, nil
}

// Redispatch republishes the follow-up event of an already graduated agent.
// Reports false if the agent is not graduated.
func (s *Service) Redispatch(ctx context.Context, grad *domain.GraduationState) bool {
	if grad.Status != domain.StatusGraduated || grad.TriggeredAt == nil {
		return false
	}
	s.dispatch(ctx, NewEvent(grad.AgentID, grad.PolicyID, grad.Snapshot, *grad.TriggeredAt))
	return true
}

// dispatch publishes e. A failed publish is logged only; the reconciler
// re-dispatches graduated agents.
func (s *Service) dispatch(ctx context.Context, e *domain.GraduationEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("publish graduation event failed",
			zap.String("agent_id", e.AgentID),
			zap.String("event_id", e.EventID),
			zap.Error(err))
	}
}

// NewEvent builds the graduation event of an agent.
func NewEvent(agentID, policyID string, snap *domain.MetricSnapshot, triggeredAt time.Time) *domain.GraduationEvent {
	return &domain.GraduationEvent{
		EventID:     idhash.ComputeEventID(agentID, policyID),
		AgentID:     agentID,
		PolicyID:    policyID,
		Snapshot:    snap,
		TriggeredAt: triggeredAt,
	}
}

func (s *Service) getAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: agent %q not found", domain.ErrValidation, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// policyFor resolves the policy of agent, through the cache when configured.
func (s *Service) policyFor(ctx context.Context, agent *domain.Agent) (*domain.GraduationPolicy, error) {
	load := func(ctx context.Context) (domain.GraduationPolicy, error) {
		p, err := s.policies.GetByID(ctx, agent.PolicyID)
		if err != nil {
			return domain.GraduationPolicy{}, fmt.Errorf("get policy %q: %w", agent.PolicyID, err)
		}
		return *p, nil
	}

	var (
		p   domain.GraduationPolicy
		err error
	)
	if s.policyCache != nil {
		p, err = s.policyCache.Get(ctx, agent.AgentID, load)
	} else {
		p, err = load(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
