// Package settlement prices and atomically commits curve trades.
//
// Every settlement runs inside a per-agent serialized ledger transaction:
// idempotency lookup, state checks, quote, slippage and balance checks, then
// the curve state, holder balance and trade record are written together or
// not at all.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agent-launchpad/internal/clock"
	"agent-launchpad/internal/curve"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fixed"
	"agent-launchpad/internal/idhash"
	"agent-launchpad/internal/observability"
	"agent-launchpad/internal/storage"
)

// Options configures a Service.
type Options struct {
	Ledger      storage.Ledger
	Agents      storage.AgentStore
	States      storage.CurveStateStore
	Holders     storage.HolderBalanceStore
	Graduations storage.GraduationStore
	FX          FXSource

	Graduation GraduationChecker // optional post-commit check
	Notifier   TradeNotifier     // optional

	Clock             clock.Clock
	Logger            *zap.Logger
	ValidateAddresses bool
}

// Service settles trades.
type Service struct {
	ledger      storage.Ledger
	agents      storage.AgentStore
	states      storage.CurveStateStore
	holders     storage.HolderBalanceStore
	graduations storage.GraduationStore
	fx          FXSource
	graduation  GraduationChecker
	notifier    TradeNotifier
	clock       clock.Clock
	logger      *zap.Logger

	validateAddresses bool
}

// New creates a settlement service.
func New(opts Options) (*Service, error) {
	if opts.Ledger == nil || opts.Agents == nil || opts.States == nil ||
		opts.Holders == nil || opts.Graduations == nil || opts.FX == nil {
		return nil, errors.New("settlement: ledger, stores and fx source are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger:            opts.Ledger,
		agents:            opts.Agents,
		states:            opts.States,
		holders:           opts.Holders,
		graduations:       opts.Graduations,
		fx:                opts.FX,
		graduation:        opts.Graduation,
		notifier:          opts.Notifier,
		clock:             clock.OrSystem(opts.Clock),
		logger:            logger,
		validateAddresses: opts.ValidateAddresses,
	}, nil
}

// GetQuote prices a trade against the last committed state without side
// effects. A buy crossing the cap returns a partial quote flagged ExceedsCap.
func (s *Service) GetQuote(ctx context.Context, agentID string, direction domain.Direction, amount decimal.Decimal) (*curve.Quote, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", domain.ErrValidation, direction)
	}

	agent, state, grad, err := s.loadCommitted(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if state.Halted {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentHalted, state.HaltReason)
	}
	if grad.Status == domain.StatusGraduated {
		return nil, domain.ErrAlreadyGraduated
	}

	c, err := curve.New(agent.Curve)
	if err != nil {
		return nil, err
	}
	if direction == domain.DirectionBuy {
		return c.QuoteBuy(amount, state.TokensSold)
	}
	return c.QuoteSell(amount, state.TokensSold)
}

// PreviewTrade computes the result SettleTrade would produce against the last
// committed state, without writing to the ledger.
func (s *Service) PreviewTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	agent, state, grad, err := s.loadCommitted(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	holder, err := s.holders.Get(ctx, req.AgentID, req.HolderID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get holder balance: %w", err)
	}

	now := s.clock.Now()
	snap, err := s.fx.ForTime(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("resolve fx snapshot: %w", err)
	}

	out, err := computeTrade(tradeInput{
		req:    req,
		agent:  agent,
		state:  state,
		grad:   grad,
		holder: holder,
		fx:     snap,
		now:    now,
	})
	if err != nil {
		return nil, err
	}
	return resultFromRecord(out.record), nil
}

// SettleTrade commits req exactly once per (agent, idempotency key).
func (s *Service) SettleTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	start := time.Now()
	result, err := s.settle(ctx, req)
	if err != nil {
		observability.RecordTradeRejected(string(req.Direction), string(domain.Classify(err)))
		return nil, err
	}
	if result.AlreadySettled {
		observability.RecordIdempotentReplay()
		return result, nil
	}
	gross, _ := result.GrossAmount.Float64()
	observability.RecordTradeSettled(string(result.Direction), gross, time.Since(start).Seconds())
	return result, nil
}

func (s *Service) settle(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	// One FX snapshot per settlement, captured before the transaction so a
	// retried transaction reuses it.
	now := s.clock.Now()
	snap, err := s.fx.ForTime(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("resolve fx snapshot: %w", err)
	}

	var (
		out      *tradeOutput
		replay   *domain.TradeRecord
		haltErr  error
		haltedAt *domain.CurveState
	)
	err = s.ledger.Update(ctx, req.AgentID, func(tx storage.LedgerTx) error {
		out, replay, haltErr, haltedAt = nil, nil, nil, nil

		prior, err := tx.TradeByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			if !sameRequest(prior, req) {
				return fmt.Errorf("%w: key %q", domain.ErrIdempotencyConflict, req.IdempotencyKey)
			}
			replay = prior
			return nil
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		holder, err := tx.HolderBalance(ctx, req.HolderID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("get holder balance: %w", err)
		}

		state := tx.CurveState()
		out, err = computeTrade(tradeInput{
			req:    req,
			agent:  tx.Agent(),
			state:  state,
			grad:   tx.Graduation(),
			holder: holder,
			fx:     snap,
			now:    now,
		})
		if errors.Is(err, domain.ErrInvariantViolation) {
			// Halt the agent and commit the halt; the caller still gets the violation.
			state.Halted = true
			state.HaltReason = err.Error()
			state.UpdatedAt = now
			haltErr, haltedAt = err, state
			return tx.PutCurveState(ctx, state)
		}
		if err != nil {
			return err
		}

		if err := tx.PutCurveState(ctx, out.state); err != nil {
			return fmt.Errorf("put curve state: %w", err)
		}
		if err := tx.PutHolderBalance(ctx, out.holder); err != nil {
			return fmt.Errorf("put holder balance: %w", err)
		}
		if err := tx.AppendTrade(ctx, out.record); err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: agent %q not found", domain.ErrValidation, req.AgentID)
		}
		return nil, err
	}

	if haltErr != nil {
		s.logger.Error("agent halted on invariant violation",
			zap.String("agent_id", req.AgentID),
			zap.String("tokens_sold", haltedAt.TokensSold.String()),
			zap.String("reserve", haltedAt.ReserveBalance.String()),
			zap.Error(haltErr))
		observability.RecordAgentHalted()
		return nil, haltErr
	}

	if replay != nil {
		s.logger.Debug("idempotent replay",
			zap.String("agent_id", req.AgentID),
			zap.String("trade_id", replay.TradeID))
		result := resultFromRecord(replay)
		result.AlreadySettled = true
		return result, nil
	}

	rec := out.record
	s.logger.Info("trade settled",
		zap.String("agent_id", rec.AgentID),
		zap.String("trade_id", rec.TradeID),
		zap.Int64("sequence", rec.Sequence),
		zap.String("direction", string(rec.Direction)),
		zap.String("gross", rec.GrossAmount.String()),
		zap.String("tokens", rec.TokenAmount.String()),
		zap.String("tokens_sold_after", rec.TokensSoldAfter.String()))

	result := resultFromRecord(rec)
	s.afterCommit(ctx, rec, result)
	return result, nil
}

// afterCommit runs the graduation check and notifications. Failures here never
// undo or fail the committed trade.
func (s *Service) afterCommit(ctx context.Context, rec *domain.TradeRecord, result *TradeResult) {
	sold, _ := rec.TokensSoldAfter.Float64()
	reserve, _ := rec.ReserveAfter.Float64()
	observability.UpdateCurve(rec.AgentID, sold, reserve)

	if s.notifier != nil {
		s.notifier.PublishTrade(ctx, rec)
	}

	if s.graduation == nil {
		return
	}
	outcome, err := s.graduation.EvaluateAndMaybeGraduate(ctx, rec.AgentID)
	if err != nil {
		s.logger.Warn("post-commit graduation check failed",
			zap.String("agent_id", rec.AgentID),
			zap.String("trade_id", rec.TradeID),
			zap.Error(err))
		return
	}
	result.GraduationTriggered = outcome.Transitioned
}

func (s *Service) validate(req TradeRequest) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
	}
	switch {
	case req.AgentID == "":
		return invalid("agent id is required")
	case req.HolderID == "":
		return invalid("holder id is required")
	case req.IdempotencyKey == "":
		return invalid("idempotency key is required")
	case !req.Direction.Valid():
		return invalid("unknown direction %q", req.Direction)
	case !req.Amount.IsPositive():
		return invalid("amount must be positive")
	case !req.Amount.Equal(fixed.Trunc(req.Amount)):
		return invalid("amount has more than %d fractional digits", fixed.Scale)
	case req.ExpectedOut.IsNegative():
		return invalid("expected output must not be negative")
	case !fixed.ValidBps(req.MaxSlippageBps):
		return invalid("max slippage bps %d out of range", req.MaxSlippageBps)
	}
	if s.validateAddresses {
		if err := idhash.ValidateAddress(req.HolderID); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}
	return nil
}

func (s *Service) loadCommitted(ctx context.Context, agentID string) (*domain.Agent, *domain.CurveState, *domain.GraduationState, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("%w: agent %q not found", domain.ErrValidation, agentID)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get agent: %w", err)
	}
	state, err := s.states.Get(ctx, agentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get curve state: %w", err)
	}
	grad, err := s.graduations.Get(ctx, agentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get graduation: %w", err)
	}
	return agent, state, grad, nil
}
