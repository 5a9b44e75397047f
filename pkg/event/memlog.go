package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/bosworks/bos/core/pkg/canonicalize"
	"github.com/bosworks/bos/core/pkg/reject"
)

// MemoryLog is an append-only in-memory sink with a per-tenant hash chain.
// Duplicate event ids are refused with DUPLICATE_REQUEST. Safe for
// concurrent use; appends are linearised under one mutex.
type MemoryLog struct {
	mu       sync.RWMutex
	byTenant map[string][]Envelope
	chains   map[string]string
	seen     map[string]struct{}
	seq      uint64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byTenant: make(map[string][]Envelope),
		chains:   make(map[string]string),
		seen:     make(map[string]struct{}),
	}
}

// Persist appends the envelope to the tenant's stream.
func (l *MemoryLog) Persist(ctx context.Context, env Envelope) (PersistResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seen[env.EventID]; dup {
		r := reject.New(reject.CodeDuplicateRequest, "event id already persisted", "event_sink")
		return PersistResult{Accepted: false, Rejection: &r}, nil
	}

	eventHash, err := canonicalize.CanonicalHash(env)
	if err != nil {
		return PersistResult{}, fmt.Errorf("memlog: hash envelope: %w", err)
	}
	chained := canonicalize.ChainHash(l.chains[env.TenantID], eventHash)

	l.seq++
	l.seen[env.EventID] = struct{}{}
	l.chains[env.TenantID] = chained
	l.byTenant[env.TenantID] = append(l.byTenant[env.TenantID], env)

	return PersistResult{Accepted: true, Sequence: l.seq, ChainHash: chained}, nil
}

// EventsForTenant returns the tenant's stream in append order.
func (l *MemoryLog) EventsForTenant(tenantID string) []Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Envelope, len(l.byTenant[tenantID]))
	copy(out, l.byTenant[tenantID])
	return out
}

// ChainHead returns the current chain hash for a tenant, empty if none.
func (l *MemoryLog) ChainHead(tenantID string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chains[tenantID]
}

// VerifyChain recomputes the tenant's hash chain from the stream and
// compares it to the stored head.
func (l *MemoryLog) VerifyChain(tenantID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	head := ""
	for _, env := range l.byTenant[tenantID] {
		h, err := canonicalize.CanonicalHash(env)
		if err != nil {
			return false, err
		}
		head = canonicalize.ChainHash(head, h)
	}
	return head == l.chains[tenantID], nil
}

// Len reports the total number of persisted events.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, evs := range l.byTenant {
		n += len(evs)
	}
	return n
}
