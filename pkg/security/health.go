// Package security implements the pipeline's security subsystem: the
// sliding-window rate limiter, the rule-based anomaly detector, tenant
// isolation, AI guardrails, and the resilience state machine.
package security

import "sync"

// HealthMode is the resilience state of the system.
type HealthMode string

const (
	ModeNormal   HealthMode = "NORMAL"
	ModeDegraded HealthMode = "DEGRADED"
	ModeReadOnly HealthMode = "READ_ONLY"
)

// SystemHealth gates writes behind the resilience mode. Transitions are
// explicit operational calls, never implicit. Safe for concurrent use.
type SystemHealth struct {
	mu     sync.RWMutex
	mode   HealthMode
	reason string
}

func NewSystemHealth() *SystemHealth {
	return &SystemHealth{mode: ModeNormal}
}

func (h *SystemHealth) Mode() HealthMode {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mode
}

func (h *SystemHealth) Reason() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reason
}

// AllowsWrite reports whether write commands may proceed. Reads are always
// permitted regardless of mode.
func (h *SystemHealth) AllowsWrite() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mode == ModeNormal
}

func (h *SystemHealth) SetDegraded(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = ModeDegraded
	h.reason = reason
}

func (h *SystemHealth) SetReadOnly(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = ModeReadOnly
	h.reason = reason
}

func (h *SystemHealth) Recover() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = ModeNormal
	h.reason = ""
}
