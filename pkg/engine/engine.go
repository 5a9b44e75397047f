// Package engine holds the contract and the shared execution path every
// business engine builds on. Engines own schemas and handlers; this
// package owns the emit-then-fold choreography so all engines persist and
// project the same way.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/featureflag"
	"github.com/bosworks/bos/core/pkg/projection"
)

// Descriptor declares what an engine owns. Command types are the intents
// the engine handles, event types the facts it emits, and the flag key
// gates the whole engine per tenant.
type Descriptor struct {
	Name         string
	FlagKey      string
	CommandTypes []string
	EventTypes   []string
}

// Engine is the registration contract. An engine exposes its descriptor
// and binds its handlers onto the bus.
type Engine interface {
	Describe() Descriptor
	Register(reg *Registration) error
}

// Registration bundles the shared infrastructure an engine wires into.
type Registration struct {
	Bus      *command.Bus
	Registry *event.TypeRegistry
	FlagKeys *featureflag.KeyRegistry
	Subs     *event.SubscriberRegistry
}

// Install registers an engine: its event types, its flag bindings, then
// its handlers. Any failure is a programmer error surfaced at startup.
func Install(reg *Registration, engines ...Engine) error {
	for _, e := range engines {
		desc := e.Describe()
		for _, et := range desc.EventTypes {
			if err := reg.Registry.Register(et); err != nil {
				return fmt.Errorf("engine %s: %w", desc.Name, err)
			}
		}
		if reg.FlagKeys != nil && desc.FlagKey != "" {
			for _, ct := range desc.CommandTypes {
				reg.FlagKeys.Bind(ct, desc.FlagKey)
			}
		}
		if err := e.Register(reg); err != nil {
			return fmt.Errorf("engine %s: %w", desc.Name, err)
		}
	}
	return nil
}

// Service is the execution base engines embed. It turns a validated
// command into a persisted event and folds it into the engine's read
// model, in that order.
type Service struct {
	factory *event.Factory
	emitter *event.Emitter
	logger  *slog.Logger
}

func NewService(name string, factory *event.Factory, emitter *event.Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		factory: factory,
		emitter: emitter,
		logger:  logger.With("component", name+"_engine"),
	}
}

// Emit persists one event for the command and, when the sink accepts it,
// folds it into the projection. A sink refusal (duplicate command replay)
// comes back inside the HandlerResult, not as an error.
func (s *Service) Emit(ctx context.Context, cmd *command.Command, eventType string, payload map[string]any, proj projection.Applier, result any) (command.HandlerResult, error) {
	env, err := s.factory.Build(eventType, cmd.Info(), payload)
	if err != nil {
		return command.HandlerResult{}, fmt.Errorf("engine: build %s: %w", eventType, err)
	}
	pr, err := s.emitter.Emit(ctx, env)
	if err != nil {
		return command.HandlerResult{}, fmt.Errorf("engine: persist %s: %w", eventType, err)
	}
	if !pr.Accepted {
		return command.HandlerResult{EventType: eventType, Persist: pr}, nil
	}

	hr := command.HandlerResult{
		EventType: eventType,
		Event:     &env,
		Persist:   pr,
		Result:    result,
	}
	if proj != nil {
		proj.Apply(env.EventType, env.ClonePayload())
		hr.ProjectionApplied = true
	}
	s.logger.DebugContext(ctx, "event persisted",
		"event_type", eventType, "sequence", pr.Sequence)
	return hr, nil
}
