package security

import (
	"github.com/bosworks/bos/core/pkg/reject"
)

const isolationPolicy = "tenant_isolation_policy"

// BranchAllowance is an actor's branch authorization for one business:
// either all branches or a concrete set.
type BranchAllowance struct {
	All      bool
	Branches map[string]struct{}
}

// AllBranches authorizes every branch of a business.
func AllBranches() BranchAllowance { return BranchAllowance{All: true} }

// OnlyBranches authorizes a concrete branch set.
func OnlyBranches(ids ...string) BranchAllowance {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return BranchAllowance{Branches: set}
}

func (a BranchAllowance) allows(branchID string) bool {
	if a.All {
		return true
	}
	_, ok := a.Branches[branchID]
	return ok
}

// TenantScope is an actor's authorization snapshot: which tenants it may
// touch and which branches within each.
type TenantScope struct {
	ActorID    string
	Businesses map[string]BranchAllowance
}

// NewTenantScope builds a scope over the given business allowances.
func NewTenantScope(actorID string, businesses map[string]BranchAllowance) TenantScope {
	if businesses == nil {
		businesses = make(map[string]BranchAllowance)
	}
	return TenantScope{ActorID: actorID, Businesses: businesses}
}

// CheckAccess verifies the scope covers the target business and, when
// given, the branch. Denial messages are deliberately generic and never
// echo identifiers outside the actor's scope.
func (s TenantScope) CheckAccess(businessID, branchID string) *reject.Rejection {
	allowance, ok := s.Businesses[businessID]
	if !ok {
		r := reject.New(reject.CodePermissionDenied, "access to the requested business is not permitted", isolationPolicy)
		return &r
	}
	if branchID != "" && !allowance.allows(branchID) {
		r := reject.New(reject.CodePermissionDenied, "access to the requested branch is not permitted", isolationPolicy)
		return &r
	}
	return nil
}
