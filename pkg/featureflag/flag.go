// Package featureflag provides per-tenant feature gating with branch-level
// overrides and a deterministic duplicate-resolution policy.
package featureflag

import (
	"sync"
	"time"
)

// Status of a flag entry.
type Status string

const (
	Enabled  Status = "ENABLED"
	Disabled Status = "DISABLED"
)

// Flag is one provider entry. BranchID empty means business-wide.
type Flag struct {
	FlagKey   string    `json:"flag_key"`
	TenantID  string    `json:"tenant_id"`
	BranchID  string    `json:"branch_id,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider is the read contract the guard consumes. No side effects.
type Provider interface {
	FlagsForTenant(tenantID string) ([]Flag, error)
}

// MemoryProvider is the in-memory Provider double.
type MemoryProvider struct {
	mu    sync.RWMutex
	flags map[string][]Flag
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{flags: make(map[string][]Flag)}
}

// Put appends a flag entry for its tenant.
func (p *MemoryProvider) Put(f Flag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags[f.TenantID] = append(p.flags[f.TenantID], f)
}

func (p *MemoryProvider) FlagsForTenant(tenantID string) ([]Flag, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Flag, len(p.flags[tenantID]))
	copy(out, p.flags[tenantID])
	return out, nil
}
