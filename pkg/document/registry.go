package document

import "sync"

// TypeRegistry maps command intents to the document type they produce.
// Intents without a mapping bypass document validation.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]DocType
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]DocType)}
}

func (r *TypeRegistry) Bind(commandType string, docType DocType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[commandType] = docType
}

func (r *TypeRegistry) DocTypeFor(commandType string) (DocType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[commandType]
	return dt, ok
}
