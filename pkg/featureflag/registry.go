package featureflag

import "sync"

// KeyRegistry maps command intents to the flag key that gates them.
// Unmapped intents are not gated.
type KeyRegistry struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[string]string)}
}

// Bind gates an intent behind a flag key. Later binds overwrite.
func (r *KeyRegistry) Bind(commandType, flagKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[commandType] = flagKey
}

// BindAll gates every listed intent behind one key; engines call this
// once at startup for their own key.
func (r *KeyRegistry) BindAll(flagKey string, commandTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ct := range commandTypes {
		r.keys[ct] = flagKey
	}
}

// KeyFor resolves the flag key for an intent.
func (r *KeyRegistry) KeyFor(commandType string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[commandType]
	return k, ok
}
