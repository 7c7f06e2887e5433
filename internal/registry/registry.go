// Package registry creates agents and graduation policies.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agent-launchpad/internal/clock"
	"agent-launchpad/internal/curve"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/graduation"
	"agent-launchpad/internal/idhash"
	"agent-launchpad/internal/storage"
	"agent-launchpad/internal/vesting"
)

// TeamAllocation is a cliff-vested allocation created with the agent.
type TeamAllocation struct {
	Beneficiary string
	Amount      decimal.Decimal
	Steps       []domain.VestingStep
}

// CreateAgentRequest describes a new agent token.
type CreateAgentRequest struct {
	AgentID   string // generated when empty
	CreatorID string
	Symbol    string
	Curve     domain.CurveConfig
	PolicyID  string
	Team      *TeamAllocation // optional
}

// Options configures a Registry.
type Options struct {
	Agents   storage.AgentStore
	Policies storage.PolicyStore
	Vesting  *vesting.Service // required only for team allocations

	Clock             clock.Clock
	Logger            *zap.Logger
	ValidateAddresses bool
}

// Registry creates agents and policies.
type Registry struct {
	agents            storage.AgentStore
	policies          storage.PolicyStore
	vesting           *vesting.Service
	clock             clock.Clock
	logger            *zap.Logger
	validateAddresses bool
}

// New creates a registry.
func New(opts Options) (*Registry, error) {
	if opts.Agents == nil || opts.Policies == nil {
		return nil, errors.New("registry: agent and policy stores are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents:            opts.Agents,
		policies:          opts.Policies,
		vesting:           opts.Vesting,
		clock:             clock.OrSystem(opts.Clock),
		logger:            logger,
		validateAddresses: opts.ValidateAddresses,
	}, nil
}

// CreatePolicy validates and stores p, generating its id when empty.
func (r *Registry) CreatePolicy(ctx context.Context, p domain.GraduationPolicy) (*domain.GraduationPolicy, error) {
	if p.PolicyID == "" {
		p.PolicyID = uuid.NewString()
	}
	if err := graduation.ValidatePolicy(&p); err != nil {
		return nil, err
	}
	if err := r.policies.Insert(ctx, &p); err != nil {
		return nil, fmt.Errorf("insert policy %s: %w", p.PolicyID, err)
	}
	r.logger.Info("graduation policy created",
		zap.String("policy_id", p.PolicyID),
		zap.String("combinator", string(p.Combinator)),
		zap.Int("rules", len(p.Rules)))
	return &p, nil
}

// CreateAgent validates req and stores the agent with its zero curve state
// and pre_grad graduation row. A team allocation becomes a cliff schedule.
func (r *Registry) CreateAgent(ctx context.Context, req CreateAgentRequest) (*domain.Agent, error) {
	if err := r.validate(ctx, req); err != nil {
		return nil, err
	}

	agent := &domain.Agent{
		AgentID:   req.AgentID,
		CreatorID: req.CreatorID,
		Symbol:    req.Symbol,
		Curve:     req.Curve,
		PolicyID:  req.PolicyID,
		CreatedAt: r.clock.Now(),
	}
	if agent.AgentID == "" {
		agent.AgentID = uuid.NewString()
	}

	if err := r.agents.Create(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent %s: %w", agent.AgentID, err)
	}
	r.logger.Info("agent created",
		zap.String("agent_id", agent.AgentID),
		zap.String("symbol", agent.Symbol),
		zap.String("policy_id", agent.PolicyID))

	if req.Team != nil {
		_, err := r.vesting.CreateSchedule(ctx, vesting.ScheduleRequest{
			AgentID:     agent.AgentID,
			Beneficiary: req.Team.Beneficiary,
			Purpose:     domain.PurposeTeam,
			Kind:        domain.VestingCliff,
			TotalAmount: req.Team.Amount,
			Steps:       req.Team.Steps,
		})
		if err != nil {
			return agent, fmt.Errorf("create team schedule: %w", err)
		}
	}
	return agent, nil
}

func (r *Registry) validate(ctx context.Context, req CreateAgentRequest) error {
	if req.CreatorID == "" {
		return fmt.Errorf("%w: creator id is required", domain.ErrValidation)
	}
	if req.PolicyID == "" {
		return fmt.Errorf("%w: policy id is required", domain.ErrValidation)
	}
	if err := curve.ValidateConfig(req.Curve); err != nil {
		return err
	}
	if r.validateAddresses {
		if err := idhash.ValidateAddress(req.CreatorID); err != nil {
			return fmt.Errorf("%w: creator: %v", domain.ErrValidation, err)
		}
	}

	if _, err := r.policies.GetByID(ctx, req.PolicyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: policy %q not found", domain.ErrValidation, req.PolicyID)
		}
		return fmt.Errorf("get policy: %w", err)
	}

	if req.Team != nil {
		if r.vesting == nil {
			return errors.New("registry: team allocation needs a vesting service")
		}
		if req.Team.Amount.GreaterThan(req.Curve.TotalSupply.Sub(req.Curve.SupplyCap)) {
			return fmt.Errorf("%w: team allocation exceeds supply outside the curve", domain.ErrValidation)
		}
	}
	return nil
}
