package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{procurement.CodeValidation, http.StatusUnprocessableEntity},
		{procurement.CodePolicyEmpty, http.StatusUnprocessableEntity},
		{procurement.CodeInvalidTransition, http.StatusConflict},
		{procurement.CodeConcurrencyConflict, http.StatusConflict},
		{procurement.CodeDispatchInProgress, http.StatusConflict},
		{procurement.CodeIntegrationExhausted, http.StatusConflict},
		{procurement.CodeDelegation, http.StatusConflict},
		{procurement.CodeApproverMismatch, http.StatusForbidden},
		{procurement.CodeInvalidSignature, http.StatusUnauthorized},
		{procurement.CodeStaleMessage, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeInvalidJSON, http.StatusBadRequest},
		{ErrCodeTokenExpired, http.StatusUnauthorized},
		{ErrCodeBodyTooLarge, http.StatusRequestEntityTooLarge},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNotFoundSentinelsShareTheMappedCode(t *testing.T) {
	for _, err := range []error{
		procurement.ErrOrderNotFound,
		procurement.ErrStepNotFound,
		procurement.ErrAttemptNotFound,
	} {
		assert.Equal(t, ErrCodeNotFound, shared.CodeOf(err))
	}
}

func TestNewErrorResponseWithDetails_JSON(t *testing.T) {
	resp := NewErrorResponseWithDetails(procurement.CodeInvalidTransition, "Requested status change is not allowed", "req-1",
		map[string]string{"from": "draft", "trigger": "finalize"})

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, false, decoded["success"])
	errObj := decoded["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_TRANSITION", errObj["code"])
	assert.Equal(t, "req-1", errObj["request_id"])
	assert.Equal(t, map[string]interface{}{"from": "draft", "trigger": "finalize"}, errObj["details"])
	assert.NotContains(t, decoded, "data")
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]int{1, 2}, 41, 2, 20)
	require.NotNil(t, resp.Meta)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Meta.TotalPages)

	empty := NewSuccessResponseWithMeta(nil, 0, 1, 0)
	assert.Equal(t, 0, empty.Meta.TotalPages)
}
