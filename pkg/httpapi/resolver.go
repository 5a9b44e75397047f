package httpapi

import (
	"context"
	"net/http"

	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// Request headers the resolver reads.
const (
	HeaderAPIKey     = "X-API-KEY"
	HeaderBusinessID = "X-BUSINESS-ID"
	HeaderBranchID   = "X-BRANCH-ID"
)

const resolverPolicy = "context_resolver"

// ResolvedContext is what the resolver hands the dispatch path: the
// authenticated actor and the business context its commands run under.
type ResolvedContext struct {
	Actor      tenancy.ActorContext
	BusinessID string
	BranchID   string
	Business   *tenancy.BusinessContext
}

// Resolver derives the tenancy context for one request from its headers
// and, where present, the body mirror fields.
type Resolver struct {
	auth AuthProvider
}

func NewResolver(auth AuthProvider) *Resolver {
	return &Resolver{auth: auth}
}

// Resolve authenticates the API key, validates the tenant headers against
// any body mirrors, and builds a BusinessContext whose authorization hooks
// close over the principal's allowed sets. The actor-scope check runs once
// here as a final gate; the policy stack repeats it per command.
func (r *Resolver) Resolve(ctx context.Context, headers http.Header, body map[string]any) (ResolvedContext, *reject.Rejection) {
	key := headers.Get(HeaderAPIKey)
	if key == "" {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeInvalidContext,
			"missing "+HeaderAPIKey+" header", resolverPolicy))
	}
	if r.auth == nil {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeActorInvalid,
			"authentication is not configured", resolverPolicy))
	}
	principal, err := r.auth.ResolveAPIKey(ctx, key)
	if err != nil {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeActorInvalid,
			"api key did not resolve to a principal", resolverPolicy))
	}

	kind, err := tenancy.ParseActorKind(principal.ActorType)
	if err != nil {
		return ResolvedContext{}, rejectPtr(reject.Newf(reject.CodeActorInvalid, resolverPolicy,
			"unknown actor type %q", principal.ActorType))
	}

	businessID := headers.Get(HeaderBusinessID)
	if businessID == "" || !kernel.IsUUID(businessID) {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeInvalidContext,
			HeaderBusinessID+" must be a UUID", resolverPolicy))
	}
	branchID := headers.Get(HeaderBranchID)
	if branchID != "" && !kernel.IsUUID(branchID) {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeInvalidContext,
			HeaderBranchID+" must be a UUID when present", resolverPolicy))
	}

	if rej := checkBodyMirror(body, "business_id", businessID); rej != nil {
		return ResolvedContext{}, rej
	}
	if rej := checkBodyMirror(body, "branch_id", branchID); rej != nil {
		return ResolvedContext{}, rej
	}

	opts := []tenancy.Option{
		tenancy.WithActorBusinessChecker(businessChecker(principal)),
		tenancy.WithActorBranchChecker(branchChecker(principal, businessID)),
	}
	if branchID != "" {
		opts = append(opts, tenancy.WithBranch(branchID))
	}
	bctx, err := tenancy.NewBusinessContext(businessID, opts...)
	if err != nil {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeInvalidContext,
			"could not build business context", resolverPolicy))
	}

	if ok, err := bctx.AuthorizeActorForBusiness(principal.ActorID); err != nil {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeActorAuthorizationFailed,
			"actor authorization failed", resolverPolicy))
	} else if !ok {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeActorUnauthorizedBusiness,
			"actor is not authorized for the business", resolverPolicy))
	}
	if branchID != "" {
		if ok, err := bctx.AuthorizeActorForBranch(principal.ActorID, branchID); err != nil {
			return ResolvedContext{}, rejectPtr(reject.New(reject.CodeActorAuthorizationFailed,
				"actor authorization failed", resolverPolicy))
		} else if !ok {
			return ResolvedContext{}, rejectPtr(reject.New(reject.CodeActorUnauthorizedBranch,
				"actor is not authorized for the branch", resolverPolicy))
		}
	}

	actor, err := tenancy.NewActorContext(kind, principal.ActorID)
	if err != nil {
		return ResolvedContext{}, rejectPtr(reject.New(reject.CodeActorInvalid,
			"principal does not form a valid actor context", resolverPolicy))
	}

	return ResolvedContext{
		Actor:      actor,
		BusinessID: businessID,
		BranchID:   branchID,
		Business:   bctx,
	}, nil
}

// checkBodyMirror enforces the match law: a body field mirroring a header
// must equal it exactly.
func checkBodyMirror(body map[string]any, field, headerValue string) *reject.Rejection {
	if body == nil {
		return nil
	}
	v, ok := body[field]
	if !ok {
		return nil
	}
	s, isStr := v.(string)
	if !isStr || s != headerValue {
		return rejectPtr(reject.Newf(reject.CodeInvalidContext, resolverPolicy,
			"body %s does not match header", field))
	}
	return nil
}

func businessChecker(p Principal) tenancy.ActorChecker {
	allowed := make(map[string]struct{}, len(p.AllowedBusinessIDs))
	for _, id := range p.AllowedBusinessIDs {
		allowed[id] = struct{}{}
	}
	return func(_, targetID string) (bool, error) {
		_, ok := allowed[targetID]
		return ok, nil
	}
}

// branchChecker grants every branch of a business the principal has no
// explicit branch list for.
func branchChecker(p Principal, businessID string) tenancy.ActorChecker {
	branches, restricted := p.AllowedBranchIDs[businessID]
	return func(_, branchID string) (bool, error) {
		if !restricted {
			return true, nil
		}
		for _, id := range branches {
			if id == branchID {
				return true, nil
			}
		}
		return false, nil
	}
}

func rejectPtr(r reject.Rejection) *reject.Rejection { return &r }
