package kernel

import "github.com/google/uuid"

// IDProvider mints unique identifiers. Injectable so tests can produce
// stable sequences.
type IDProvider interface {
	NewID() string
}

// UUIDProvider mints random v4 UUIDs.
type UUIDProvider struct{}

func (UUIDProvider) NewID() string { return uuid.NewString() }

// SequenceIDProvider mints deterministic identifiers for tests. Each call
// returns the next id from the configured list, wrapping when exhausted.
type SequenceIDProvider struct {
	ids  []string
	next int
}

func NewSequenceIDProvider(ids ...string) *SequenceIDProvider {
	if len(ids) == 0 {
		ids = []string{uuid.NewString()}
	}
	return &SequenceIDProvider{ids: ids}
}

func (p *SequenceIDProvider) NewID() string {
	id := p.ids[p.next%len(p.ids)]
	p.next++
	return id
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
