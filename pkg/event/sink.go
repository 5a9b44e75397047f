package event

import (
	"context"
	"fmt"

	"github.com/bosworks/bos/core/pkg/reject"
)

// PersistResult reports what the sink did with an envelope.
type PersistResult struct {
	Accepted  bool
	Sequence  uint64
	ChainHash string

	// Rejection is set when the sink refused the envelope for a policy
	// reason (duplicate event id) rather than an infrastructure failure.
	Rejection *reject.Rejection
}

// Sink is the injected destination for accepted events. The core owns no
// storage; any sink honouring this contract works.
type Sink interface {
	Persist(ctx context.Context, env Envelope) (PersistResult, error)
}

// Emitter binds a type registry to a sink. Emission of an unregistered
// event type is a programmer error and returns a Go error, not a rejection.
type Emitter struct {
	registry *TypeRegistry
	sink     Sink
}

func NewEmitter(registry *TypeRegistry, sink Sink) *Emitter {
	return &Emitter{registry: registry, sink: sink}
}

// Emit verifies registry membership and persists the envelope.
func (e *Emitter) Emit(ctx context.Context, env Envelope) (PersistResult, error) {
	if !e.registry.Contains(env.EventType) {
		return PersistResult{}, fmt.Errorf("event: type %q not registered", env.EventType)
	}
	return e.sink.Persist(ctx, env)
}

// Registry exposes the bound type registry.
func (e *Emitter) Registry() *TypeRegistry { return e.registry }
