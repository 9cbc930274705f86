package main

import (
	"fmt"
	"strings"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/infrastructure/config"
)

// approvalPolicies turns the [approval] section into a policy provider.
// An empty default is allowed; submitting without a cost-center or inline
// policy then fails with POLICY_EMPTY.
func approvalPolicies(cfg config.ApprovalConfig) (*appprocurement.StaticPolicyProvider, error) {
	provider := &appprocurement.StaticPolicyProvider{
		Default:      policyFromLevels(cfg.Levels),
		ByCostCenter: make(map[string]procurement.ApprovalPolicy, len(cfg.ByCostCenter)),
	}
	if len(provider.Default.Levels) > 0 {
		if err := provider.Default.Validate(); err != nil {
			return nil, fmt.Errorf("approval.levels: %w", err)
		}
	}
	for costCenter, levels := range cfg.ByCostCenter {
		policy := policyFromLevels(levels)
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("approval.by_cost_center.%s: %w", costCenter, err)
		}
		provider.ByCostCenter[strings.ToLower(costCenter)] = policy
	}
	return provider, nil
}

func policyFromLevels(levels []config.ApprovalLevelConfig) procurement.ApprovalPolicy {
	policy := procurement.ApprovalPolicy{Levels: make([]procurement.PolicyLevel, 0, len(levels))}
	for _, l := range levels {
		policy.Levels = append(policy.Levels, procurement.PolicyLevel{
			Level:     l.Level,
			Mode:      procurement.ApprovalMode(l.Mode),
			Approvers: l.Approvers,
			ExpiresIn: l.ExpiresIn,
		})
	}
	return policy
}
