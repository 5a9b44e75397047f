package tenancy

import "fmt"

// ActorChecker answers whether an actor is authorized for a business or
// branch. Hooks are optional; absent hooks are permissive, hook errors are
// treated as denial by callers.
type ActorChecker func(actorID, targetID string) (bool, error)

// BranchChecker answers whether a branch belongs to the active business.
type BranchChecker func(branchID string) bool

// BusinessContext is the resolved tenancy a command executes under: the
// active business, the optional active branch, lifecycle state, and the
// per-principal authorization hooks the guards consult. Immutable after
// construction.
type BusinessContext struct {
	businessID string
	branchID   string
	lifecycle  Lifecycle

	branchInBusiness BranchChecker
	actorForBusiness ActorChecker
	actorForBranch   ActorChecker
	providerHook     func(name string) any
}

// Option configures a BusinessContext during construction.
type Option func(*BusinessContext)

// WithBranch sets the active branch.
func WithBranch(branchID string) Option {
	return func(c *BusinessContext) { c.branchID = branchID }
}

// WithLifecycle overrides the default ACTIVE lifecycle.
func WithLifecycle(l Lifecycle) Option {
	return func(c *BusinessContext) { c.lifecycle = l }
}

// WithBranchChecker installs the branch-in-business hook.
func WithBranchChecker(fn BranchChecker) Option {
	return func(c *BusinessContext) { c.branchInBusiness = fn }
}

// WithActorBusinessChecker installs the per-business actor authorization hook.
func WithActorBusinessChecker(fn ActorChecker) Option {
	return func(c *BusinessContext) { c.actorForBusiness = fn }
}

// WithActorBranchChecker installs the per-branch actor authorization hook.
func WithActorBranchChecker(fn ActorChecker) Option {
	return func(c *BusinessContext) { c.actorForBranch = fn }
}

// WithProviderHook installs the late-bound provider resolver guards fall
// back to when no explicit provider was injected. Names are the guard's
// provider keys ("feature_flag", "permission", "compliance", "document").
func WithProviderHook(fn func(name string) any) Option {
	return func(c *BusinessContext) { c.providerHook = fn }
}

// NewBusinessContext builds an active context for the given business.
func NewBusinessContext(businessID string, opts ...Option) (*BusinessContext, error) {
	if businessID == "" {
		return nil, fmt.Errorf("tenancy: business id must not be empty")
	}
	c := &BusinessContext{
		businessID: businessID,
		lifecycle:  LifecycleActive,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.lifecycle.Valid() {
		return nil, fmt.Errorf("tenancy: invalid lifecycle %q", c.lifecycle)
	}
	return c, nil
}

// HasActiveContext reports whether a business is resolved. Nil receivers
// answer false so callers can treat an absent context uniformly.
func (c *BusinessContext) HasActiveContext() bool {
	return c != nil && c.businessID != ""
}

func (c *BusinessContext) ActiveBusinessID() string {
	if c == nil {
		return ""
	}
	return c.businessID
}

func (c *BusinessContext) ActiveBranchID() string {
	if c == nil {
		return ""
	}
	return c.branchID
}

func (c *BusinessContext) Lifecycle() Lifecycle {
	if c == nil {
		return ""
	}
	return c.lifecycle
}

// IsBranchInBusiness consults the branch hook. Absent hook is permissive.
func (c *BusinessContext) IsBranchInBusiness(branchID string) bool {
	if c == nil {
		return false
	}
	if c.branchInBusiness == nil {
		return true
	}
	return c.branchInBusiness(branchID)
}

// AuthorizeActorForBusiness consults the per-business hook. Absent hook is
// permissive.
func (c *BusinessContext) AuthorizeActorForBusiness(actorID string) (bool, error) {
	if c == nil || c.actorForBusiness == nil {
		return true, nil
	}
	return c.actorForBusiness(actorID, c.businessID)
}

// AuthorizeActorForBranch consults the per-branch hook. Absent hook is
// permissive.
func (c *BusinessContext) AuthorizeActorForBranch(actorID, branchID string) (bool, error) {
	if c == nil || c.actorForBranch == nil {
		return true, nil
	}
	return c.actorForBranch(actorID, branchID)
}

// Provider resolves a late-bound provider by name, or nil.
func (c *BusinessContext) Provider(name string) any {
	if c == nil || c.providerHook == nil {
		return nil
	}
	return c.providerHook(name)
}
