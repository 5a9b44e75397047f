// Package tenancy defines the context primitives commands are validated
// against: the acting principal, the active business and branch, tenant
// lifecycle, and the scope and actor requirement constants.
package tenancy

import "fmt"

// ActorKind classifies the principal issuing a command.
type ActorKind string

const (
	ActorHuman  ActorKind = "HUMAN"
	ActorSystem ActorKind = "SYSTEM"
	ActorDevice ActorKind = "DEVICE"
	ActorAI     ActorKind = "AI"
)

// ParseActorKind maps a wire string to an ActorKind. "USER" is a legacy
// alias for HUMAN.
func ParseActorKind(s string) (ActorKind, error) {
	switch s {
	case "HUMAN", "USER":
		return ActorHuman, nil
	case "SYSTEM":
		return ActorSystem, nil
	case "DEVICE":
		return ActorDevice, nil
	case "AI":
		return ActorAI, nil
	}
	return "", fmt.Errorf("tenancy: unknown actor kind %q", s)
}

func (k ActorKind) Valid() bool {
	switch k {
	case ActorHuman, ActorSystem, ActorDevice, ActorAI:
		return true
	}
	return false
}

func (k ActorKind) String() string { return string(k) }

// ScopeRequirement states whether a command must target a branch.
type ScopeRequirement string

const (
	BusinessAllowed ScopeRequirement = "BUSINESS_ALLOWED"
	BranchRequired  ScopeRequirement = "BRANCH_REQUIRED"
)

func (s ScopeRequirement) Valid() bool {
	return s == BusinessAllowed || s == BranchRequired
}

// ActorRequirement states whether a command needs a human-attributable actor
// or may be issued autonomously by the system.
type ActorRequirement string

const (
	ActorRequired ActorRequirement = "ACTOR_REQUIRED"
	SystemAllowed ActorRequirement = "SYSTEM_ALLOWED"
)

func (a ActorRequirement) Valid() bool {
	return a == ActorRequired || a == SystemAllowed
}

// Lifecycle is the tenant lifecycle state.
type Lifecycle string

const (
	LifecycleActive    Lifecycle = "ACTIVE"
	LifecycleSuspended Lifecycle = "SUSPENDED"
	LifecycleClosed    Lifecycle = "CLOSED"
	LifecycleLegalHold Lifecycle = "LEGAL_HOLD"
)

func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleActive, LifecycleSuspended, LifecycleClosed, LifecycleLegalHold:
		return true
	}
	return false
}
