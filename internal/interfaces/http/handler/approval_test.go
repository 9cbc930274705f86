package handler

import (
	"net/http"
	"testing"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func approvalRouter(svc *MockApprovalService) http.Handler {
	r := newTestRouter()
	r.POST("/approval-steps/:id/decision", NewApprovalHandler(svc).Decide)
	return r
}

func TestApprovalHandler_Decide(t *testing.T) {
	stepID := uuid.New()
	path := "/approval-steps/" + stepID.String() + "/decision"

	t.Run("approve resolves the step", func(t *testing.T) {
		svc := new(MockApprovalService)
		svc.On("ResolveStep", mock.Anything, stepID, procurement.DecisionApprove, testActor, "looks fine", "").
			Return(&appprocurement.StepDecisionResponse{Outcome: "approved", OrderStatus: "approved", OrderVersion: 3}, nil)

		w := doJSON(approvalRouter(svc), http.MethodPost, path, map[string]any{"decision": "approve", "comments": "looks fine"})

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeResponse(t, w).Data.(map[string]any)
		assert.Equal(t, "approved", data["order_status"])
		svc.AssertNotCalled(t, "Delegate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reject passes the reason", func(t *testing.T) {
		svc := new(MockApprovalService)
		svc.On("ResolveStep", mock.Anything, stepID, procurement.DecisionReject, testActor, "", "over budget").
			Return(&appprocurement.StepDecisionResponse{Outcome: "rejected", OrderStatus: "rejected"}, nil)

		w := doJSON(approvalRouter(svc), http.MethodPost, path, map[string]any{"decision": "reject", "reason": "over budget"})
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("delegate hands the step over", func(t *testing.T) {
		svc := new(MockApprovalService)
		svc.On("Delegate", mock.Anything, stepID, testActor, "carol", "on leave").
			Return(&appprocurement.ApprovalStepResponse{ID: stepID, Approver: "carol", DelegatedFrom: testActor}, nil)

		w := doJSON(approvalRouter(svc), http.MethodPost, path,
			map[string]any{"decision": "delegate", "delegate_to": "carol", "reason": "on leave"})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "carol", decodeResponse(t, w).Data.(map[string]any)["approver"])
		svc.AssertNotCalled(t, "ResolveStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("delegate needs a target", func(t *testing.T) {
		svc := new(MockApprovalService)
		w := doJSON(approvalRouter(svc), http.MethodPost, path, map[string]any{"decision": "delegate"})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, decodeResponse(t, w).Error.Details, "delegate_to")
	})

	t.Run("unknown decision", func(t *testing.T) {
		svc := new(MockApprovalService)
		w := doJSON(approvalRouter(svc), http.MethodPost, path, map[string]any{"decision": "maybe"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("wrong approver is forbidden", func(t *testing.T) {
		svc := new(MockApprovalService)
		svc.On("ResolveStep", mock.Anything, stepID, procurement.DecisionApprove, testActor, "", "").
			Return(nil, procurement.ErrApproverMismatch.With("actor", testActor))

		w := doJSON(approvalRouter(svc), http.MethodPost, path, map[string]any{"decision": "approve"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, procurement.CodeApproverMismatch, decodeResponse(t, w).Error.Code)
	})

	t.Run("inactive level is a conflict", func(t *testing.T) {
		svc := new(MockApprovalService)
		svc.On("ResolveStep", mock.Anything, stepID, procurement.DecisionApprove, testActor, "", "").
			Return(nil, procurement.ErrStepNotActive)

		w := doJSON(approvalRouter(svc), http.MethodPost, path, map[string]any{"decision": "approve"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
