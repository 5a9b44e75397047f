package event

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var versionSuffix = regexp.MustCompile(`^v[1-9][0-9]*$`)

// ValidateEventType checks the event type grammar: lowercase dot-separated
// segments, at least four, ending in a version suffix `.vN` or the literal
// `rejected` for auto-derived rejection events.
func ValidateEventType(t string) error {
	segs := strings.Split(t, ".")
	if len(segs) < 4 {
		return fmt.Errorf("event: type %q needs at least four segments", t)
	}
	for _, s := range segs {
		if s == "" || s != strings.ToLower(s) {
			return fmt.Errorf("event: type %q must be lowercase with non-empty segments", t)
		}
	}
	last := segs[len(segs)-1]
	if last != "rejected" && !versionSuffix.MatchString(last) {
		return fmt.Errorf("event: type %q must end in a version suffix or 'rejected'", t)
	}
	return nil
}

// RejectedEventType derives the rejection event name for a command intent:
// strip the `.request` suffix and append `.rejected`.
func RejectedEventType(commandType string) string {
	return strings.TrimSuffix(commandType, ".request") + ".rejected"
}

// TypeRegistry is the declared set of valid event types. Engines register
// their types on startup; emission verifies membership.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]struct{}
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]struct{})}
}

// Register declares event types. Invalid names error; re-registration is
// a no-op.
func (r *TypeRegistry) Register(types ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		if err := ValidateEventType(t); err != nil {
			return err
		}
		r.types[t] = struct{}{}
	}
	return nil
}

// Contains reports membership.
func (r *TypeRegistry) Contains(t string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[t]
	return ok
}

// All returns the registered types in unspecified order.
func (r *TypeRegistry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	return out
}
