package procurement

import (
	"context"
	"strings"

	"github.com/erp/procurement/internal/domain/procurement"
)

// StaticPolicyProvider serves configured policies, optionally per cost center
type StaticPolicyProvider struct {
	Default      procurement.ApprovalPolicy
	ByCostCenter map[string]procurement.ApprovalPolicy
}

// PolicyFor returns the cost-center policy of the order, or the default
func (p *StaticPolicyProvider) PolicyFor(_ context.Context, o *procurement.Order) (procurement.ApprovalPolicy, error) {
	if policy, ok := p.ByCostCenter[o.CostCenter]; ok {
		return policy, nil
	}
	// configuration keys arrive lowercased
	if policy, ok := p.ByCostCenter[strings.ToLower(o.CostCenter)]; ok {
		return policy, nil
	}
	if len(p.Default.Levels) == 0 {
		return procurement.ApprovalPolicy{}, procurement.ErrPolicyEmpty.
			With("order_id", o.ID.String()).
			With("cost_center", o.CostCenter)
	}
	return p.Default, nil
}
