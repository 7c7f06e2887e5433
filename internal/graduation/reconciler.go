package graduation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/observability"
)

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Evaluated    int
	Graduated    int
	Redispatched int
	Failed       int
}

// Reconciler re-evaluates every pre_grad agent and re-dispatches follow-ups
// of graduated agents. It catches post-commit checks and publishes that
// failed after the trade committed.
type Reconciler struct {
	service *Service
	logger  *zap.Logger
}

// NewReconciler creates a reconciler over service.
func NewReconciler(service *Service, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{service: service, logger: logger}
}

// Run performs one pass. A failing agent does not stop the pass; the joined
// errors are returned at the end.
func (r *Reconciler) Run(ctx context.Context) error {
	stats, err := r.Reconcile(ctx)
	r.logger.Info("graduation reconcile finished",
		zap.Int("evaluated", stats.Evaluated),
		zap.Int("graduated", stats.Graduated),
		zap.Int("redispatched", stats.Redispatched),
		zap.Int("failed", stats.Failed))
	if err == nil {
		observability.RecordReconcileSuccess(float64(time.Now().Unix()))
	}
	return err
}

// Reconcile performs one pass and returns its stats.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	pending, err := r.service.graduations.GetByStatus(ctx, domain.StatusPreGrad)
	if err != nil {
		return stats, fmt.Errorf("list pre_grad agents: %w", err)
	}

	var errs []error
	for _, g := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := r.service.EvaluateAndMaybeGraduate(ctx, g.AgentID)
		stats.Evaluated++
		if errors.Is(err, domain.ErrAgentHalted) {
			// Halted agents wait for manual reconciliation.
			continue
		}
		if err != nil {
			stats.Failed++
			errs = append(errs, fmt.Errorf("agent %s: %w", g.AgentID, err))
			continue
		}
		if outcome.Transitioned {
			stats.Graduated++
		}
	}

	graduated, err := r.service.graduations.GetByStatus(ctx, domain.StatusGraduated)
	if err != nil {
		return stats, fmt.Errorf("list graduated agents: %w", err)
	}
	for _, g := range graduated {
		if r.service.Redispatch(ctx, g) {
			stats.Redispatched++
		}
	}

	return stats, errors.Join(errs...)
}
