// Package compliance evaluates tenant compliance rules against commands.
// Rules are CEL expressions with semver-tracked metadata; a rule evaluating
// to false records a violation.
package compliance

import (
	"strings"
	"sync"

	"github.com/bosworks/bos/core/pkg/tenancy"
)

// Input is the command snapshot a rule sees.
type Input struct {
	CommandType string
	TenantID    string
	BranchID    string
	ActorID     string
	ActorKind   tenancy.ActorKind
	Payload     map[string]any
}

// asActivation flattens the input into the single "input" map rules bind.
func (in Input) asActivation() map[string]any {
	return map[string]any{
		"input": map[string]any{
			"command_type": in.CommandType,
			"tenant_id":    in.TenantID,
			"branch_id":    in.BranchID,
			"actor_id":     in.ActorID,
			"actor_kind":   string(in.ActorKind),
			"payload":      in.Payload,
		},
	}
}

// Violation is one failed rule.
type Violation struct {
	RuleName string `json:"rule_name"`
	Message  string `json:"message"`
}

// Evaluation is the provider's verdict.
type Evaluation struct {
	Allowed    bool
	Violations []Violation
}

// Provider is the read contract the guard consumes.
type Provider interface {
	Evaluate(in Input) (Evaluation, error)
}

// MemoryProvider returns canned violations per command type. Test double.
type MemoryProvider struct {
	mu         sync.RWMutex
	violations map[string][]Violation
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{violations: make(map[string][]Violation)}
}

// Flag registers violations for a command type or prefix.
func (p *MemoryProvider) Flag(commandTypePrefix string, v ...Violation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.violations[commandTypePrefix] = append(p.violations[commandTypePrefix], v...)
}

func (p *MemoryProvider) Evaluate(in Input) (Evaluation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Violation
	for prefix, vs := range p.violations {
		if strings.HasPrefix(in.CommandType, prefix) {
			out = append(out, vs...)
		}
	}
	return Evaluation{Allowed: len(out) == 0, Violations: out}, nil
}
