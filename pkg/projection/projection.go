// Package projection holds the read-model fold contract. A projection is a
// pure function of the event stream: folding the same events in the same
// order always yields the same state, which is what makes replay and
// rebuild safe.
package projection

import (
	"sync"

	"github.com/bosworks/bos/core/pkg/event"
)

// Applier folds one event into a read model. Event types the model does
// not recognise are ignored, so projections stay forward compatible with
// streams written by newer engines.
type Applier interface {
	Apply(eventType string, payload map[string]any)
}

// Handler folds one event type. Callers pass a payload the handler may
// mutate freely; Replay clones envelope payloads before dispatch.
type Handler func(payload map[string]any)

// Base is the shared fold dispatcher engines embed in their read models.
// It routes events to registered handlers under a mutex so a projection
// can be fed from the subscriber fan-out and queried concurrently.
type Base struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewBase() *Base {
	return &Base{handlers: make(map[string]Handler)}
}

// Register binds a handler to an event type. Later registrations replace
// earlier ones.
func (b *Base) Register(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = h
}

// Apply routes the event to its handler. Unknown event types are a no-op.
func (b *Base) Apply(eventType string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.handlers[eventType]; ok {
		h(payload)
	}
}

// Read runs fn under the read lock. Engines use it to expose consistent
// snapshots of their projection state.
func (b *Base) Read(fn func()) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn()
}

// Replay folds a stream of envelopes in order. Used to rebuild a read
// model from the persisted log.
func Replay(a Applier, events []event.Envelope) {
	for _, e := range events {
		a.Apply(e.EventType, e.ClonePayload())
	}
}
