package permission

import (
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

const policyName = "permission_policy"

// Request is one permission question.
type Request struct {
	ActorID          string
	TenantID         string
	CommandType      string
	BranchID         string
	ScopeRequirement tenancy.ScopeRequirement
}

// Evaluate answers a permission request deny-by-default:
//
//  1. The intent must map to a required permission.
//  2. The actor must hold a role granting that permission.
//  3. BRANCH_REQUIRED commands need a branch-scope grant matching the
//     command's branch; holding only business-scope or other-branch grants
//     narrows the denial to PERMISSION_SCOPE_REQUIRED_BRANCH.
//  4. BUSINESS_ALLOWED commands are covered by a business-scope grant, or,
//     when they carry a branch, by a matching branch-scope grant.
//
// Provider failures deny with a generic message.
func Evaluate(p Provider, req Request) *reject.Rejection {
	perm, mapped := p.PermissionForIntent(req.CommandType)
	if !mapped {
		r := reject.Newf(reject.CodePermissionMappingMissing, policyName,
			"no permission mapped for %s", req.CommandType)
		return &r
	}

	roles, err := p.RolesForActor(req.ActorID, req.TenantID)
	if err != nil {
		r := reject.New(reject.CodePermissionDenied, "permission lookup failed", policyName)
		return &r
	}
	if !anyRoleGrants(roles, perm) {
		r := reject.Newf(reject.CodePermissionDenied, policyName,
			"actor lacks permission %s", perm)
		return &r
	}

	grants, err := p.GrantsForActor(req.ActorID, req.TenantID)
	if err != nil {
		r := reject.New(reject.CodePermissionDenied, "permission lookup failed", policyName)
		return &r
	}

	hasBusiness := hasBusinessGrant(grants)
	hasMatchingBranch := req.BranchID != "" && hasBranchGrant(grants, req.BranchID)
	hasOtherBranch := hasOtherBranchGrant(grants, req.BranchID)

	if req.ScopeRequirement == tenancy.BranchRequired {
		if req.BranchID == "" {
			r := reject.New(reject.CodePermissionScopeRequiredBranch,
				"branch scope permission is required for this command", policyName)
			return &r
		}
		if hasMatchingBranch {
			return nil
		}
		if hasBusiness || hasOtherBranch {
			r := reject.Newf(reject.CodePermissionScopeRequiredBranch, policyName,
				"a branch-scoped grant is required for branch %s", req.BranchID)
			return &r
		}
		r := reject.Newf(reject.CodePermissionDenied, policyName,
			"actor is missing permission %s for branch scope", perm)
		return &r
	}

	if req.BranchID == "" {
		if hasBusiness {
			return nil
		}
		r := reject.New(reject.CodePermissionDenied, "actor holds no business-scope grant", policyName)
		return &r
	}
	if hasBusiness || hasMatchingBranch {
		return nil
	}
	r := reject.Newf(reject.CodePermissionDenied, policyName,
		"actor is missing permission %s for branch %s", perm, req.BranchID)
	return &r
}

func anyRoleGrants(roles []Role, perm Permission) bool {
	for _, role := range roles {
		if role.Grants(perm) {
			return true
		}
	}
	return false
}

func hasBranchGrant(grants []ScopeGrant, branchID string) bool {
	for _, g := range grants {
		if g.Scope == GrantBranch && g.BranchID == branchID {
			return true
		}
	}
	return false
}

func hasOtherBranchGrant(grants []ScopeGrant, branchID string) bool {
	for _, g := range grants {
		if g.Scope == GrantBranch && g.BranchID != branchID {
			return true
		}
	}
	return false
}

func hasBusinessGrant(grants []ScopeGrant) bool {
	for _, g := range grants {
		if g.Scope == GrantBusiness {
			return true
		}
	}
	return false
}
