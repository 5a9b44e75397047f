package httpapi

import (
	"fmt"
	"sync"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// IntentBinding records the scope and actor requirements a command type
// carries when built at the HTTP edge.
type IntentBinding struct {
	Scope tenancy.ScopeRequirement
	Actor tenancy.ActorRequirement
}

// Catalog maps the command types the server accepts to their bindings.
// Intents absent from the catalog are refused before dispatch.
type Catalog struct {
	mu       sync.RWMutex
	bindings map[string]IntentBinding
}

func NewCatalog() *Catalog {
	return &Catalog{bindings: make(map[string]IntentBinding)}
}

// Bind registers one intent. Malformed types and invalid requirements are
// programmer errors surfaced at startup.
func (c *Catalog) Bind(commandType string, scope tenancy.ScopeRequirement, actor tenancy.ActorRequirement) error {
	if err := command.ValidateCommandType(commandType); err != nil {
		return err
	}
	if !scope.Valid() || !actor.Valid() {
		return fmt.Errorf("httpapi: invalid binding for %s", commandType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.bindings[commandType]; dup {
		return fmt.Errorf("httpapi: intent %s already bound", commandType)
	}
	c.bindings[commandType] = IntentBinding{Scope: scope, Actor: actor}
	return nil
}

// Lookup resolves the binding for an intent.
func (c *Catalog) Lookup(commandType string) (IntentBinding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[commandType]
	return b, ok
}
