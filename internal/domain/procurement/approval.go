package procurement

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/erp/procurement/internal/domain/shared"
)

// ApprovalMode describes how the approvers of one level resolve it
type ApprovalMode string

const (
	ApprovalIndividual ApprovalMode = "individual"
	ApprovalCommittee  ApprovalMode = "committee"
	ApprovalParallel   ApprovalMode = "parallel"
)

// IsValid reports whether m is a known mode
func (m ApprovalMode) IsValid() bool {
	return m == ApprovalIndividual || m == ApprovalCommittee || m == ApprovalParallel
}

// ApprovalStepStatus is the state of one approver's step
type ApprovalStepStatus string

const (
	StepPending  ApprovalStepStatus = "pending"
	StepApproved ApprovalStepStatus = "approved"
	StepRejected ApprovalStepStatus = "rejected"
	StepExpired  ApprovalStepStatus = "expired"
)

// IsResolved reports whether the step is immutable
func (s ApprovalStepStatus) IsResolved() bool {
	return s == StepApproved || s == StepRejected
}

// ApprovalDecision is an approver's answer
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// ApprovalStep is one approver's slot at one level of an order's approval sequence.
// A step with nil RequestedAt is latent: its level has not been reached yet.
type ApprovalStep struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	Level            int
	Mode             ApprovalMode
	Approver         string
	OriginalApprover string
	Status           ApprovalStepStatus
	RequestedAt      *time.Time
	RespondedAt      *time.Time
	ExpiresIn        time.Duration
	ExpiresAt        *time.Time
	Comments         string
	RejectionReason  string
	DelegatedFrom    string
	DelegationReason string
	DelegatedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsActive reports whether approval has been requested from this step
func (s *ApprovalStep) IsActive() bool {
	return s.RequestedAt != nil
}

func (s *ApprovalStep) request(now time.Time) {
	s.RequestedAt = &now
	if s.ExpiresIn > 0 {
		expires := now.Add(s.ExpiresIn)
		s.ExpiresAt = &expires
	}
	s.UpdatedAt = now
}

// PolicyLevel is one level of an externally supplied approval policy
type PolicyLevel struct {
	Level     int
	Mode      ApprovalMode
	Approvers []string
	ExpiresIn time.Duration
}

// ApprovalPolicy lists the levels an order must clear
type ApprovalPolicy struct {
	Levels []PolicyLevel
}

// Validate fails with PolicyEmpty when no approver exists at any level,
// and with a ValidationError for malformed levels.
func (p ApprovalPolicy) Validate() error {
	approvers := 0
	for _, l := range p.Levels {
		approvers += len(l.Approvers)
	}
	if approvers == 0 {
		return ErrPolicyEmpty
	}

	errs := FieldErrors{}
	seenLevels := make(map[int]bool, len(p.Levels))
	for i, l := range p.Levels {
		field := fmt.Sprintf("policy.levels[%d]", i)
		if l.Level < 1 {
			errs.Add(field+".level", "must be at least 1")
		}
		if seenLevels[l.Level] {
			errs.Add(field+".level", "duplicate level %d", l.Level)
		}
		seenLevels[l.Level] = true
		if !l.Mode.IsValid() {
			errs.Add(field+".mode", "must be one of individual, committee, parallel")
		}
		if len(l.Approvers) == 0 {
			errs.Add(field+".approvers", "at least one approver is required")
		}
		if l.Mode == ApprovalIndividual && len(l.Approvers) > 1 {
			errs.Add(field+".approvers", "individual levels take exactly one approver")
		}
		seen := make(map[string]bool, len(l.Approvers))
		for _, a := range l.Approvers {
			if a == "" || seen[a] {
				errs.Add(field+".approvers", "approvers must be unique and non-empty")
			}
			seen[a] = true
		}
		if l.ExpiresIn < 0 {
			errs.Add(field+".expires_in", "must not be negative")
		}
	}
	return errs.Err()
}

// ApprovalOutcomeKind summarizes the effect of a resolution
type ApprovalOutcomeKind string

const (
	OutcomeLevelPending  ApprovalOutcomeKind = "level_pending"
	OutcomeLevelAdvanced ApprovalOutcomeKind = "level_advanced"
	OutcomeAllApproved   ApprovalOutcomeKind = "all_approved"
	OutcomeRejected      ApprovalOutcomeKind = "rejected"
)

// ApprovalOutcome is returned by ApprovalPlan.Resolve
type ApprovalOutcome struct {
	Kind      ApprovalOutcomeKind
	Step      *ApprovalStep
	Activated []*ApprovalStep
}

// ApprovalPlan is the ordered set of steps owned by one order
type ApprovalPlan struct {
	OrderID uuid.UUID
	Steps   []*ApprovalStep
}

// MaterializePlan creates one step per approver per level and requests level one
func MaterializePlan(orderID uuid.UUID, policy ApprovalPolicy, now time.Time) (*ApprovalPlan, error) {
	if err := policy.Validate(); err != nil {
		var de *shared.DomainError
		if errors.As(err, &de) {
			return nil, de.With("order_id", orderID.String())
		}
		return nil, err
	}
	steps := make([]*ApprovalStep, 0)
	for _, l := range policy.Levels {
		for _, approver := range l.Approvers {
			steps = append(steps, &ApprovalStep{
				ID:               uuid.New(),
				OrderID:          orderID,
				Level:            l.Level,
				Mode:             l.Mode,
				Approver:         approver,
				OriginalApprover: approver,
				Status:           StepPending,
				ExpiresIn:        l.ExpiresIn,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
		}
	}
	plan := NewApprovalPlan(orderID, steps)
	first, _ := plan.ActiveLevel()
	plan.activate(first, now)
	return plan, nil
}

// NewApprovalPlan wraps persisted steps, ordered by level
func NewApprovalPlan(orderID uuid.UUID, steps []*ApprovalStep) *ApprovalPlan {
	sorted := append([]*ApprovalStep(nil), steps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })
	return &ApprovalPlan{OrderID: orderID, Steps: sorted}
}

// Step finds a step by ID
func (p *ApprovalPlan) Step(id uuid.UUID) (*ApprovalStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// StepsAt returns the steps of one level
func (p *ApprovalPlan) StepsAt(level int) []*ApprovalStep {
	var out []*ApprovalStep
	for _, s := range p.Steps {
		if s.Level == level {
			out = append(out, s)
		}
	}
	return out
}

// ActiveLevel returns the lowest level not fully approved; false when every level is approved
func (p *ApprovalPlan) ActiveLevel() (int, bool) {
	for _, s := range p.Steps {
		if s.Status != StepApproved {
			return s.Level, true
		}
	}
	return 0, false
}

// AllApproved reports whether every step of every level is approved
func (p *ApprovalPlan) AllApproved() bool {
	if len(p.Steps) == 0 {
		return false
	}
	_, pending := p.ActiveLevel()
	return !pending
}

// IsRejected reports whether any step rejected the order
func (p *ApprovalPlan) IsRejected() bool {
	for _, s := range p.Steps {
		if s.Status == StepRejected {
			return true
		}
	}
	return false
}

// Activated returns the steps currently awaiting action
func (p *ApprovalPlan) Activated() []*ApprovalStep {
	var out []*ApprovalStep
	for _, s := range p.Steps {
		if s.IsActive() && !s.Status.IsResolved() {
			out = append(out, s)
		}
	}
	return out
}

func (p *ApprovalPlan) activate(level int, now time.Time) []*ApprovalStep {
	var activated []*ApprovalStep
	for _, s := range p.StepsAt(level) {
		if !s.IsActive() {
			s.request(now)
			activated = append(activated, s)
		}
	}
	return activated
}

func (p *ApprovalPlan) lookup(stepID uuid.UUID) (*ApprovalStep, error) {
	step, ok := p.Step(stepID)
	if !ok {
		return nil, ErrStepNotFound.With("step_id", stepID.String()).With("order_id", p.OrderID.String())
	}
	return step, nil
}

// Resolve applies an approver's decision. A rejection closes the whole sequence;
// an approval that completes its level activates the next one.
func (p *ApprovalPlan) Resolve(stepID uuid.UUID, decision ApprovalDecision, actor, comments, reason string, now time.Time) (ApprovalOutcome, error) {
	step, err := p.lookup(stepID)
	if err != nil {
		return ApprovalOutcome{}, err
	}
	ids := func(e *shared.DomainError) *shared.DomainError {
		return e.With("step_id", step.ID.String()).With("order_id", p.OrderID.String())
	}
	if p.IsRejected() {
		return ApprovalOutcome{}, ids(ErrApprovalClosed)
	}
	if step.Status.IsResolved() {
		return ApprovalOutcome{}, ids(ErrStepAlreadyResolved).With("status", string(step.Status))
	}
	if active, ok := p.ActiveLevel(); !ok || active != step.Level {
		return ApprovalOutcome{}, ids(ErrStepNotActive).
			With("step_level", strconv.Itoa(step.Level)).
			With("active_level", strconv.Itoa(active))
	}
	if actor != step.Approver {
		return ApprovalOutcome{}, ids(ErrApproverMismatch).With("actor", actor)
	}

	step.RespondedAt = &now
	step.Comments = comments
	step.UpdatedAt = now

	switch decision {
	case DecisionReject:
		step.Status = StepRejected
		step.RejectionReason = reason
		return ApprovalOutcome{Kind: OutcomeRejected, Step: step}, nil
	case DecisionApprove:
		step.Status = StepApproved
	default:
		return ApprovalOutcome{}, FieldErrors{"decision": "must be approve or reject"}.Err()
	}

	for _, s := range p.StepsAt(step.Level) {
		if s.Status != StepApproved {
			return ApprovalOutcome{Kind: OutcomeLevelPending, Step: step}, nil
		}
	}
	next, ok := p.ActiveLevel()
	if !ok {
		return ApprovalOutcome{Kind: OutcomeAllApproved, Step: step}, nil
	}
	return ApprovalOutcome{Kind: OutcomeLevelAdvanced, Step: step, Activated: p.activate(next, now)}, nil
}

// Expire marks an active, unresolved step whose deadline passed as expired.
// It returns false when the step was already expired. Expiry never rejects.
func (p *ApprovalPlan) Expire(stepID uuid.UUID, now time.Time) (bool, error) {
	step, err := p.lookup(stepID)
	if err != nil {
		return false, err
	}
	switch {
	case p.IsRejected():
		return false, ErrApprovalClosed.With("step_id", step.ID.String())
	case step.Status.IsResolved():
		return false, ErrStepAlreadyResolved.With("step_id", step.ID.String())
	case step.Status == StepExpired:
		return false, nil
	case !step.IsActive():
		return false, ErrStepNotActive.With("step_id", step.ID.String())
	case step.ExpiresAt == nil || now.Before(*step.ExpiresAt):
		return false, FieldErrors{"expires_at": "step is not past its expiration"}.Err()
	}
	step.Status = StepExpired
	step.UpdatedAt = now
	return true, nil
}

// Delegate reassigns an unresolved step. The original approver stays on the step.
// An expired step becomes pending again with a fresh deadline.
func (p *ApprovalPlan) Delegate(stepID uuid.UUID, actor, toActor, reason string, now time.Time) (*ApprovalStep, error) {
	step, err := p.lookup(stepID)
	if err != nil {
		return nil, err
	}
	fail := func(msg string) *shared.DomainError {
		return ErrDelegation.With("step_id", step.ID.String()).With("order_id", p.OrderID.String()).With("reason", msg)
	}
	switch {
	case p.IsRejected():
		return nil, fail("approval sequence already rejected")
	case step.Status.IsResolved():
		return nil, fail("step already " + string(step.Status))
	case actor != step.Approver:
		return nil, fail("only the assigned approver may delegate")
	case toActor == "":
		return nil, fail("delegation target is required")
	case toActor == step.Approver:
		return nil, fail("cannot delegate to the current approver")
	case reason == "":
		return nil, fail("delegation reason is required")
	}
	for _, s := range p.StepsAt(step.Level) {
		if s.ID != step.ID && s.Approver == toActor {
			return nil, fail("target already approves this level")
		}
	}

	step.DelegatedFrom = step.Approver
	step.Approver = toActor
	step.DelegationReason = reason
	step.DelegatedAt = &now
	step.UpdatedAt = now
	if step.Status == StepExpired {
		step.Status = StepPending
		step.ExpiresAt = nil
		step.request(now)
	}
	return step, nil
}
