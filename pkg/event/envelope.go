// Package event defines the event envelope, the event type and subscriber
// registries, the persistence sink contract, and an in-memory append-only
// log with a per-tenant hash chain.
package event

import (
	"fmt"
	"time"

	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// Envelope is the immutable record emitted for an accepted command. The
// payload is deep-copied at construction; never modify an envelope after
// it is built.
type Envelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	TenantID      string            `json:"tenant_id"`
	BranchID      string            `json:"branch_id,omitempty"`
	Payload       map[string]any    `json:"payload"`
	CorrelationID string            `json:"correlation_id"`
	CommandID     string            `json:"command_id"`
	ActorID       string            `json:"actor_id"`
	ActorKind     tenancy.ActorKind `json:"actor_kind"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// CommandInfo carries the command fields the factory stamps onto every
// envelope. The factory never inspects business content.
type CommandInfo struct {
	CommandID     string
	TenantID      string
	BranchID      string
	CorrelationID string
	ActorID       string
	ActorKind     tenancy.ActorKind
}

// Factory builds envelopes. Clock and id provider are injected so emission
// is deterministic under test.
type Factory struct {
	clock kernel.Clock
	ids   kernel.IDProvider
}

func NewFactory(clock kernel.Clock, ids kernel.IDProvider) *Factory {
	return &Factory{clock: clock, ids: ids}
}

// Build constructs the envelope for an accepted command.
func (f *Factory) Build(eventType string, cmd CommandInfo, payload map[string]any) (Envelope, error) {
	if err := ValidateEventType(eventType); err != nil {
		return Envelope{}, err
	}
	if cmd.CommandID == "" || cmd.TenantID == "" {
		return Envelope{}, fmt.Errorf("event: command info missing identity")
	}
	return Envelope{
		EventID:       f.ids.NewID(),
		EventType:     eventType,
		TenantID:      cmd.TenantID,
		BranchID:      cmd.BranchID,
		Payload:       copyPayload(payload),
		CorrelationID: cmd.CorrelationID,
		CommandID:     cmd.CommandID,
		ActorID:       cmd.ActorID,
		ActorKind:     cmd.ActorKind,
		OccurredAt:    f.clock.Now(),
	}, nil
}

// ClonePayload returns a deep copy of the payload safe to mutate.
func (e Envelope) ClonePayload() map[string]any {
	return copyPayload(e.Payload)
}

func copyPayload(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyPayload(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = copyValue(e)
		}
		return cp
	default:
		return v
	}
}
