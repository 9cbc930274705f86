package procurement

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoLevelPolicy() ApprovalPolicy {
	return ApprovalPolicy{Levels: []PolicyLevel{
		{Level: 1, Mode: ApprovalIndividual, Approvers: []string{"manager"}, ExpiresIn: 24 * time.Hour},
		{Level: 2, Mode: ApprovalCommittee, Approvers: []string{"cfo", "controller"}},
	}}
}

func TestApprovalPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		policy ApprovalPolicy
		want   error
	}{
		{"valid", twoLevelPolicy(), nil},
		{"no levels", ApprovalPolicy{}, ErrPolicyEmpty},
		{"levels without approvers", ApprovalPolicy{Levels: []PolicyLevel{{Level: 1, Mode: ApprovalParallel}}}, ErrPolicyEmpty},
		{"individual with two approvers", ApprovalPolicy{Levels: []PolicyLevel{{Level: 1, Mode: ApprovalIndividual, Approvers: []string{"a", "b"}}}}, ErrValidation},
		{"duplicate level", ApprovalPolicy{Levels: []PolicyLevel{
			{Level: 1, Mode: ApprovalIndividual, Approvers: []string{"a"}},
			{Level: 1, Mode: ApprovalIndividual, Approvers: []string{"b"}},
		}}, ErrValidation},
		{"unknown mode", ApprovalPolicy{Levels: []PolicyLevel{{Level: 1, Mode: "vote", Approvers: []string{"a"}}}}, ErrValidation},
		{"duplicate approver", ApprovalPolicy{Levels: []PolicyLevel{{Level: 1, Mode: ApprovalCommittee, Approvers: []string{"a", "a"}}}}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestMaterializePlan(t *testing.T) {
	orderID := uuid.New()
	plan, err := MaterializePlan(orderID, twoLevelPolicy(), testNow)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	level1 := plan.StepsAt(1)
	require.Len(t, level1, 1)
	assert.True(t, level1[0].IsActive())
	assert.Equal(t, StepPending, level1[0].Status)
	require.NotNil(t, level1[0].ExpiresAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *level1[0].ExpiresAt)
	assert.Equal(t, "manager", level1[0].OriginalApprover)

	for _, s := range plan.StepsAt(2) {
		assert.False(t, s.IsActive(), "level 2 must stay latent")
		assert.Equal(t, StepPending, s.Status)
		assert.Nil(t, s.ExpiresAt)
	}

	level, ok := plan.ActiveLevel()
	assert.True(t, ok)
	assert.Equal(t, 1, level)
	assert.Len(t, plan.Activated(), 1)

	_, err = MaterializePlan(orderID, ApprovalPolicy{}, testNow)
	assert.True(t, errors.Is(err, ErrPolicyEmpty))
}

func TestApprovalPlan_Resolve(t *testing.T) {
	t.Run("level one approved, level two rejected", func(t *testing.T) {
		plan, err := MaterializePlan(uuid.New(), twoLevelPolicy(), testNow)
		require.NoError(t, err)
		manager := plan.StepsAt(1)[0]

		outcome, err := plan.Resolve(manager.ID, DecisionApprove, "manager", "ok", "", testNow)
		require.NoError(t, err)
		assert.Equal(t, OutcomeLevelAdvanced, outcome.Kind)
		assert.Len(t, outcome.Activated, 2)

		cfo := plan.StepsAt(2)[0]
		outcome, err = plan.Resolve(cfo.ID, DecisionReject, cfo.Approver, "", "over budget", testNow)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, outcome.Kind)
		assert.Equal(t, "over budget", cfo.RejectionReason)

		assert.True(t, plan.IsRejected())
		assert.False(t, plan.AllApproved())
		assert.Equal(t, StepApproved, manager.Status)

		other := plan.StepsAt(2)[1]
		_, err = plan.Resolve(other.ID, DecisionApprove, other.Approver, "", "", testNow)
		assert.True(t, errors.Is(err, ErrApprovalClosed))
		assert.Equal(t, StepPending, other.Status)
	})

	t.Run("committee level needs every approver", func(t *testing.T) {
		plan, err := MaterializePlan(uuid.New(), twoLevelPolicy(), testNow)
		require.NoError(t, err)
		_, err = plan.Resolve(plan.StepsAt(1)[0].ID, DecisionApprove, "manager", "", "", testNow)
		require.NoError(t, err)

		committee := plan.StepsAt(2)
		outcome, err := plan.Resolve(committee[0].ID, DecisionApprove, committee[0].Approver, "", "", testNow)
		require.NoError(t, err)
		assert.Equal(t, OutcomeLevelPending, outcome.Kind)
		assert.False(t, plan.AllApproved())

		outcome, err = plan.Resolve(committee[1].ID, DecisionApprove, committee[1].Approver, "", "", testNow)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAllApproved, outcome.Kind)
		assert.True(t, plan.AllApproved())
	})

	t.Run("latent level cannot resolve", func(t *testing.T) {
		plan, err := MaterializePlan(uuid.New(), twoLevelPolicy(), testNow)
		require.NoError(t, err)
		cfo := plan.StepsAt(2)[0]
		_, err = plan.Resolve(cfo.ID, DecisionApprove, cfo.Approver, "", "", testNow)
		assert.True(t, errors.Is(err, ErrStepNotActive))
	})

	t.Run("only the assigned approver", func(t *testing.T) {
		plan, err := MaterializePlan(uuid.New(), twoLevelPolicy(), testNow)
		require.NoError(t, err)
		_, err = plan.Resolve(plan.StepsAt(1)[0].ID, DecisionApprove, "intern", "", "", testNow)
		assert.True(t, errors.Is(err, ErrApproverMismatch))
	})

	t.Run("resolved steps are immutable", func(t *testing.T) {
		plan, err := MaterializePlan(uuid.New(), singleApproverPolicy("boss"), testNow)
		require.NoError(t, err)
		step := plan.Steps[0]
		_, err = plan.Resolve(step.ID, DecisionApprove, "boss", "", "", testNow)
		require.NoError(t, err)
		_, err = plan.Resolve(step.ID, DecisionReject, "boss", "", "changed my mind", testNow)
		assert.True(t, errors.Is(err, ErrStepAlreadyResolved))
	})

	t.Run("unknown step", func(t *testing.T) {
		plan, err := MaterializePlan(uuid.New(), singleApproverPolicy("boss"), testNow)
		require.NoError(t, err)
		_, err = plan.Resolve(newStepID(), DecisionApprove, "boss", "", "", testNow)
		assert.True(t, errors.Is(err, ErrStepNotFound))
	})
}

func TestApprovalPlan_Expire(t *testing.T) {
	plan, err := MaterializePlan(uuid.New(), twoLevelPolicy(), testNow)
	require.NoError(t, err)
	step := plan.StepsAt(1)[0]

	_, err = plan.Expire(step.ID, testNow.Add(time.Hour))
	assert.True(t, errors.Is(err, ErrValidation))

	changed, err := plan.Expire(step.ID, testNow.Add(25*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StepExpired, step.Status)
	assert.False(t, plan.IsRejected())

	changed, err = plan.Expire(step.ID, testNow.Add(26*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	// an expired step can still be acted on
	outcome, err := plan.Resolve(step.ID, DecisionApprove, "manager", "late", "", testNow.Add(27*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLevelAdvanced, outcome.Kind)
}

func TestApprovalPlan_Delegate(t *testing.T) {
	newPlan := func(t *testing.T) (*ApprovalPlan, *ApprovalStep) {
		plan, err := MaterializePlan(uuid.New(), twoLevelPolicy(), testNow)
		require.NoError(t, err)
		return plan, plan.StepsAt(1)[0]
	}

	t.Run("reassigns and keeps the original approver", func(t *testing.T) {
		plan, step := newPlan(t)
		later := testNow.Add(2 * time.Hour)
		_, err := plan.Delegate(step.ID, "manager", "deputy", "vacation", later)
		require.NoError(t, err)

		assert.Equal(t, "deputy", step.Approver)
		assert.Equal(t, "manager", step.DelegatedFrom)
		assert.Equal(t, "manager", step.OriginalApprover)
		assert.Equal(t, "vacation", step.DelegationReason)

		_, err = plan.Resolve(step.ID, DecisionApprove, "manager", "", "", later)
		assert.True(t, errors.Is(err, ErrApproverMismatch))
		_, err = plan.Resolve(step.ID, DecisionApprove, "deputy", "", "", later)
		assert.NoError(t, err)
	})

	t.Run("expired step gets a fresh deadline", func(t *testing.T) {
		plan, step := newPlan(t)
		expiredAt := testNow.Add(25 * time.Hour)
		_, err := plan.Expire(step.ID, expiredAt)
		require.NoError(t, err)

		_, err = plan.Delegate(step.ID, "manager", "deputy", "escalated", expiredAt)
		require.NoError(t, err)
		assert.Equal(t, StepPending, step.Status)
		require.NotNil(t, step.ExpiresAt)
		assert.Equal(t, expiredAt.Add(24*time.Hour), *step.ExpiresAt)
	})

	failures := []struct {
		name           string
		actor, to, why string
	}{
		{"empty target", "manager", "", "reason"},
		{"same approver", "manager", "manager", "reason"},
		{"missing reason", "manager", "deputy", ""},
		{"not the approver", "intern", "deputy", "reason"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			plan, step := newPlan(t)
			_, err := plan.Delegate(step.ID, tt.actor, tt.to, tt.why, testNow)
			assert.True(t, errors.Is(err, ErrDelegation), "got %v", err)
			assert.Equal(t, "manager", step.Approver)
		})
	}

	t.Run("resolved step", func(t *testing.T) {
		plan, step := newPlan(t)
		_, err := plan.Resolve(step.ID, DecisionApprove, "manager", "", "", testNow)
		require.NoError(t, err)
		_, err = plan.Delegate(step.ID, "manager", "deputy", "reason", testNow)
		assert.True(t, errors.Is(err, ErrDelegation))
	})
}
