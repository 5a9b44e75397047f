// Package permission implements deny-by-default role and scope-grant
// evaluation for command intents.
package permission

import (
	"sort"
	"sync"
)

// Permission names one grantable capability, e.g. "inventory.stock.receive".
type Permission string

// Role bundles permissions under a name.
type Role struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// Grants reports whether the role carries p.
func (r Role) Grants(p Permission) bool {
	for _, held := range r.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// GrantScope is the level a scope grant authorizes.
type GrantScope string

const (
	GrantBusiness GrantScope = "BUSINESS"
	GrantBranch   GrantScope = "BRANCH"
)

// ScopeGrant authorizes an actor at business level or for one branch.
type ScopeGrant struct {
	Scope    GrantScope `json:"scope"`
	BranchID string     `json:"branch_id,omitempty"`
}

// Provider is the read contract the guard consumes. No side effects.
type Provider interface {
	RolesForActor(actorID, tenantID string) ([]Role, error)
	GrantsForActor(actorID, tenantID string) ([]ScopeGrant, error)
	PermissionForIntent(commandType string) (Permission, bool)
}

type actorKey struct{ actor, tenant string }

// MemoryProvider is the in-memory Provider double.
type MemoryProvider struct {
	mu      sync.RWMutex
	roles   map[actorKey][]Role
	grants  map[actorKey][]ScopeGrant
	intents map[string]Permission
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		roles:   make(map[actorKey][]Role),
		grants:  make(map[actorKey][]ScopeGrant),
		intents: make(map[string]Permission),
	}
}

func (p *MemoryProvider) SetRoles(actorID, tenantID string, roles ...Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles[actorKey{actorID, tenantID}] = roles
}

func (p *MemoryProvider) SetGrants(actorID, tenantID string, grants ...ScopeGrant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[actorKey{actorID, tenantID}] = grants
}

func (p *MemoryProvider) MapIntent(commandType string, perm Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[commandType] = perm
}

func (p *MemoryProvider) RolesForActor(actorID, tenantID string) ([]Role, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Role, len(p.roles[actorKey{actorID, tenantID}]))
	copy(out, p.roles[actorKey{actorID, tenantID}])
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *MemoryProvider) GrantsForActor(actorID, tenantID string) ([]ScopeGrant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ScopeGrant, len(p.grants[actorKey{actorID, tenantID}]))
	copy(out, p.grants[actorKey{actorID, tenantID}])
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].BranchID < out[j].BranchID
	})
	return out, nil
}

func (p *MemoryProvider) PermissionForIntent(commandType string) (Permission, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	perm, ok := p.intents[commandType]
	return perm, ok
}
