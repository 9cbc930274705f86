package main

import (
	"context"
	"testing"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalPolicies(t *testing.T) {
	t.Run("maps default and cost-center levels", func(t *testing.T) {
		provider, err := approvalPolicies(config.ApprovalConfig{
			Levels: []config.ApprovalLevelConfig{
				{Level: 1, Mode: "individual", Approvers: []string{"bob"}, ExpiresIn: time.Hour},
			},
			ByCostCenter: map[string][]config.ApprovalLevelConfig{
				"RND": {
					{Level: 1, Mode: "committee", Approvers: []string{"carol", "dave"}},
				},
			},
		})
		require.NoError(t, err)

		policy, err := provider.PolicyFor(context.Background(), &procurement.Order{CostCenter: "RND"})
		require.NoError(t, err)
		require.Len(t, policy.Levels, 1)
		assert.Equal(t, procurement.ApprovalCommittee, policy.Levels[0].Mode)

		policy, err = provider.PolicyFor(context.Background(), &procurement.Order{CostCenter: "OPS"})
		require.NoError(t, err)
		assert.Equal(t, time.Hour, policy.Levels[0].ExpiresIn)
	})

	t.Run("empty default is allowed", func(t *testing.T) {
		provider, err := approvalPolicies(config.ApprovalConfig{})
		require.NoError(t, err)

		_, err = provider.PolicyFor(context.Background(), &procurement.Order{})
		assert.ErrorIs(t, err, procurement.ErrPolicyEmpty)
	})

	t.Run("malformed level is rejected", func(t *testing.T) {
		_, err := approvalPolicies(config.ApprovalConfig{
			Levels: []config.ApprovalLevelConfig{{Level: 1, Mode: "dictator", Approvers: []string{"bob"}}},
		})
		assert.Error(t, err)
	})
}
