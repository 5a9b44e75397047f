package tenancy

import "fmt"

// ActorContext identifies the principal a command runs as. Immutable.
type ActorContext struct {
	kind ActorKind
	id   string
}

// NewActorContext validates and builds an actor context.
func NewActorContext(kind ActorKind, id string) (ActorContext, error) {
	if !kind.Valid() {
		return ActorContext{}, fmt.Errorf("tenancy: invalid actor kind %q", kind)
	}
	if id == "" {
		return ActorContext{}, fmt.Errorf("tenancy: actor id must not be empty")
	}
	return ActorContext{kind: kind, id: id}, nil
}

func (a ActorContext) Kind() ActorKind { return a.kind }
func (a ActorContext) ID() string      { return a.id }

// IsZero reports whether the context was never constructed.
func (a ActorContext) IsZero() bool { return a.id == "" }

// SystemActor is the principal subscriptions and internal automation run as.
func SystemActor(id string) ActorContext {
	if id == "" {
		id = "system"
	}
	return ActorContext{kind: ActorSystem, id: id}
}
