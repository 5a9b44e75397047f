package event

import (
	"context"
	"fmt"
	"sync"
)

// SubscriberFunc reacts to an accepted foreign event. Handlers typically
// construct commands of their own engine; they never mutate state directly.
type SubscriberFunc func(ctx context.Context, env Envelope) error

// SubscriberRegistry maps foreign event types to the handlers engines
// registered for them. Notification happens only for accepted events.
type SubscriberRegistry struct {
	mu       sync.RWMutex
	handlers map[string][]SubscriberFunc
}

func NewSubscriberRegistry() *SubscriberRegistry {
	return &SubscriberRegistry{handlers: make(map[string][]SubscriberFunc)}
}

// Subscribe registers a handler for an event type.
func (r *SubscriberRegistry) Subscribe(eventType string, fn SubscriberFunc) error {
	if err := ValidateEventType(eventType); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("event: nil subscriber for %q", eventType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], fn)
	return nil
}

// Notify invokes every handler registered for the envelope's type, in
// registration order. The first handler error stops the fan-out.
func (r *SubscriberRegistry) Notify(ctx context.Context, env Envelope) error {
	r.mu.RLock()
	fns := r.handlers[env.EventType]
	r.mu.RUnlock()

	for _, fn := range fns {
		if err := fn(ctx, env); err != nil {
			return fmt.Errorf("event: subscriber for %s: %w", env.EventType, err)
		}
	}
	return nil
}
