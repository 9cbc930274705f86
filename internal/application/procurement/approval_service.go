package procurement

import (
	"context"
	"fmt"
	"strconv"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PolicyProvider supplies the approval policy of an order (cost center, value thresholds)
type PolicyProvider interface {
	PolicyFor(ctx context.Context, o *procurement.Order) (procurement.ApprovalPolicy, error)
}

// ApprovalService sequences and evaluates approval steps
type ApprovalService struct {
	*executor
	policies PolicyProvider
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(store Store, policies PolicyProvider, clock shared.Clock, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		executor: newExecutor(store, clock, logger),
		policies: policies,
	}
}

// SetMetrics sets the metrics recorder
func (s *ApprovalService) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetConflictRetries sets the bounded retry count for concurrency conflicts
func (s *ApprovalService) SetConflictRetries(n int) {
	if n > 0 {
		s.conflicts = n
	}
}

func (s *ApprovalService) policyFor(ctx context.Context, o *procurement.Order, override *procurement.ApprovalPolicy) (procurement.ApprovalPolicy, error) {
	if override != nil {
		return *override, nil
	}
	if s.policies == nil {
		return procurement.ApprovalPolicy{}, procurement.ErrPolicyEmpty.With("order_id", o.ID.String())
	}
	return s.policies.PolicyFor(ctx, o)
}

// requestApproval materializes the plan into cs and asks level one to act
func (s *ApprovalService) requestApproval(o *procurement.Order, policy procurement.ApprovalPolicy, actor string, cs *procurement.Changeset) error {
	now := s.clock.Now()
	plan, err := procurement.MaterializePlan(o.ID, policy, now)
	if err != nil {
		return err
	}
	cs.Steps = append(cs.Steps, plan.Steps...)
	o.TouchApprovalProgress(now)
	activated := plan.Activated()
	o.AddDomainEvent(procurement.NewApprovalRequestedEvent(o.ID, activated, now))
	cs.AddAudit(procurement.NewAuditEvent(o.ID, procurement.AuditApprovalRequested, actor, procurement.OriginSystem, now).
		WithStatus(o.Status, o.Status).
		WithDetail("levels", strconv.Itoa(len(policy.Levels))).
		WithDetail("steps", strconv.Itoa(len(plan.Steps))).
		WithDetail("level", strconv.Itoa(activated[0].Level)))
	return nil
}

// RequestApproval materializes the approval steps of an order already awaiting
// approval that has none yet. Submit does this as part of the transition.
func (s *ApprovalService) RequestApproval(ctx context.Context, orderID uuid.UUID, policy *procurement.ApprovalPolicy, actor string) ([]ApprovalStepResponse, error) {
	var steps []*procurement.ApprovalStep
	scope := auditScope{OrderID: orderID, Event: procurement.AuditApprovalRequested, Actor: actor, Origin: procurement.OriginUser}
	err := s.mutate(ctx, scope, func(ctx context.Context) error {
		o, err := s.store.Orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != procurement.StatusAwaitingApproval {
			return &procurement.InvalidTransitionError{OrderID: o.ID.String(), From: o.Status, Trigger: "request_approval", Reason: "order is not awaiting approval"}
		}
		existing, err := s.store.Steps.FindByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return procurement.ErrApprovalClosed.With("order_id", orderID.String()).With("reason", "approval steps already exist")
		}
		p, err := s.policyFor(ctx, o, policy)
		if err != nil {
			return err
		}
		cs := &procurement.Changeset{Order: o}
		if err := s.requestApproval(o, p, actor, cs); err != nil {
			return err
		}
		if err := s.commit(ctx, cs); err != nil {
			return err
		}
		steps = cs.Steps
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]ApprovalStepResponse, 0, len(steps))
	for _, st := range steps {
		out = append(out, ToApprovalStepResponse(st))
	}
	return out, nil
}

// stepContext is an order with its approval plan, loaded for one step operation
type stepContext struct {
	order *procurement.Order
	plan  *procurement.ApprovalPlan
}

func (s *ApprovalService) loadStep(ctx context.Context, stepID uuid.UUID) (*stepContext, error) {
	step, err := s.store.Steps.FindByID(ctx, stepID)
	if err != nil {
		return nil, err
	}
	o, err := s.store.Orders.FindByID(ctx, step.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != procurement.StatusAwaitingApproval {
		return nil, procurement.ErrApprovalClosed.
			With("order_id", o.ID.String()).
			With("step_id", stepID.String()).
			With("status", string(o.Status))
	}
	steps, err := s.store.Steps.FindByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return &stepContext{order: o, plan: procurement.NewApprovalPlan(o.ID, steps)}, nil
}

func (s *ApprovalService) scopeFor(ctx context.Context, stepID uuid.UUID, event, actor, origin string) (auditScope, error) {
	step, err := s.store.Steps.FindByID(ctx, stepID)
	if err != nil {
		return auditScope{}, err
	}
	return auditScope{OrderID: step.OrderID, Event: event, Actor: actor, Origin: origin}, nil
}

// ResolveStep applies an approve or reject decision. Completing the last level
// approves the order; any rejection rejects it at once.
func (s *ApprovalService) ResolveStep(ctx context.Context, stepID uuid.UUID, decision procurement.ApprovalDecision, actor, comments, reason string) (*StepDecisionResponse, error) {
	event := procurement.AuditApprovalApproved
	if decision == procurement.DecisionReject {
		event = procurement.AuditApprovalRejected
	}
	scope, err := s.scopeFor(ctx, stepID, event, actor, procurement.OriginUser)
	if err != nil {
		return nil, err
	}

	var (
		result  *stepContext
		outcome procurement.ApprovalOutcome
	)
	err = s.mutate(ctx, scope, func(ctx context.Context) error {
		sc, err := s.loadStep(ctx, stepID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		o := sc.order
		outcome, err = sc.plan.Resolve(stepID, decision, actor, comments, reason, now)
		if err != nil {
			return err
		}

		cs := &procurement.Changeset{Order: o, Steps: append([]*procurement.ApprovalStep{outcome.Step}, outcome.Activated...)}
		o.TouchApprovalProgress(now)
		o.AddDomainEvent(procurement.NewApprovalStepResolvedEvent(outcome.Step, now))
		cs.AddAudit(procurement.NewAuditEvent(o.ID, event, actor, procurement.OriginUser, now).
			WithStatus(o.Status, o.Status).
			WithFields("approval_steps").
			WithDetail("step_id", stepID.String()).
			WithDetail("level", strconv.Itoa(outcome.Step.Level)).
			WithDetail("original_approver", outcome.Step.OriginalApprover).
			WithDetail("comments", comments).
			WithDetail("reason", reason).
			WithDetail("outcome", string(outcome.Kind)))

		switch outcome.Kind {
		case procurement.OutcomeLevelAdvanced:
			o.AddDomainEvent(procurement.NewApprovalRequestedEvent(o.ID, outcome.Activated, now))
		case procurement.OutcomeAllApproved:
			audit, err := o.Fire(procurement.TransitionRequest{
				Trigger:   procurement.TriggerApprove,
				Actor:     actor,
				Origin:    procurement.OriginSystem,
				Approvals: sc.plan,
			}, now)
			if err != nil {
				return err
			}
			cs.AddAudit(audit)
		case procurement.OutcomeRejected:
			why := reason
			if why == "" {
				why = fmt.Sprintf("rejected by %s at level %d", actor, outcome.Step.Level)
			}
			audit, err := o.Fire(procurement.TransitionRequest{
				Trigger: procurement.TriggerReject,
				Actor:   actor,
				Origin:  procurement.OriginSystem,
				Reason:  why,
			}, now)
			if err != nil {
				return err
			}
			cs.AddAudit(audit)
		}
		if err := s.commit(ctx, cs); err != nil {
			return err
		}
		result = sc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordApprovalDecision(ctx, string(decision), outcome.Step.Level)
	return &StepDecisionResponse{
		Step:         ToApprovalStepResponse(outcome.Step),
		Outcome:      string(outcome.Kind),
		OrderStatus:  string(result.order.Status),
		OrderVersion: result.order.Version,
	}, nil
}

// ExpireStep marks an overdue step expired and raises an escalation.
// It never rejects or approves the order.
func (s *ApprovalService) ExpireStep(ctx context.Context, stepID uuid.UUID) (*ApprovalStepResponse, error) {
	scope, err := s.scopeFor(ctx, stepID, procurement.AuditApprovalExpired, "approval-sweeper", procurement.OriginScheduler)
	if err != nil {
		return nil, err
	}
	var expired *procurement.ApprovalStep
	err = s.mutate(ctx, scope, func(ctx context.Context) error {
		sc, err := s.loadStep(ctx, stepID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		changed, err := sc.plan.Expire(stepID, now)
		if err != nil {
			return err
		}
		step, _ := sc.plan.Step(stepID)
		expired = step
		if !changed {
			return nil
		}
		o := sc.order
		o.TouchApprovalProgress(now)
		o.AddDomainEvent(procurement.NewApprovalEscalatedEvent(step, now))
		cs := &procurement.Changeset{Order: o, Steps: []*procurement.ApprovalStep{step}}
		cs.AddAudit(procurement.NewAuditEvent(o.ID, procurement.AuditApprovalExpired, scope.Actor, procurement.OriginScheduler, now).
			WithStatus(o.Status, o.Status).
			WithFields("approval_steps").
			WithDetail("step_id", stepID.String()).
			WithDetail("level", strconv.Itoa(step.Level)).
			WithDetail("approver", step.Approver))
		return s.commit(ctx, cs)
	})
	if err != nil {
		return nil, err
	}
	resp := ToApprovalStepResponse(expired)
	return &resp, nil
}

// Delegate reassigns a pending or expired step to another approver
func (s *ApprovalService) Delegate(ctx context.Context, stepID uuid.UUID, actor, toActor, reason string) (*ApprovalStepResponse, error) {
	scope, err := s.scopeFor(ctx, stepID, procurement.AuditApprovalDelegated, actor, procurement.OriginUser)
	if err != nil {
		return nil, err
	}
	var delegated *procurement.ApprovalStep
	err = s.mutate(ctx, scope, func(ctx context.Context) error {
		sc, err := s.loadStep(ctx, stepID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		step, err := sc.plan.Delegate(stepID, actor, toActor, reason, now)
		if err != nil {
			return err
		}
		o := sc.order
		o.TouchApprovalProgress(now)
		cs := &procurement.Changeset{Order: o, Steps: []*procurement.ApprovalStep{step}}
		if step.IsActive() {
			o.AddDomainEvent(procurement.NewApprovalRequestedEvent(o.ID, []*procurement.ApprovalStep{step}, now))
		}
		cs.AddAudit(procurement.NewAuditEvent(o.ID, procurement.AuditApprovalDelegated, actor, procurement.OriginUser, now).
			WithStatus(o.Status, o.Status).
			WithFields("approval_steps").
			WithDetail("step_id", stepID.String()).
			WithDetail("from", step.DelegatedFrom).
			WithDetail("to", toActor).
			WithDetail("original_approver", step.OriginalApprover).
			WithDetail("reason", reason))
		if err := s.commit(ctx, cs); err != nil {
			return err
		}
		delegated = step
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp := ToApprovalStepResponse(delegated)
	return &resp, nil
}

// ExpireDueSteps expires every overdue step and returns how many changed.
// Failures on one step are logged and do not stop the sweep.
func (s *ApprovalService) ExpireDueSteps(ctx context.Context, limit int) (int, error) {
	due, err := s.store.Steps.FindDueForExpiry(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, step := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		resp, err := s.ExpireStep(ctx, step.ID)
		if err != nil {
			s.logger.Warn("failed to expire approval step",
				zap.String("step_id", step.ID.String()),
				zap.String("order_id", step.OrderID.String()),
				zap.Error(err),
			)
			continue
		}
		if resp.Status == string(procurement.StepExpired) {
			expired++
		}
	}
	return expired, nil
}
