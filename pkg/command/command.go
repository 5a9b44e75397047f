// Package command defines the immutable Command value, structural and
// context validation, the dispatch Outcome, and the CommandBus that routes
// accepted commands to engine handlers.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

const requestSuffix = ".request"

// Command is an immutable declaration of business intent. Build one with
// New; the constructor rejects every malformed combination.
type Command struct {
	id            string
	commandType   string
	businessID    string
	branchID      string
	actorKind     tenancy.ActorKind
	actorID       string
	payload       map[string]any
	issuedAt      time.Time
	correlationID string
	sourceEngine  string
	scopeReq      tenancy.ScopeRequirement
	actorReq      tenancy.ActorRequirement
}

// Params carries the fields New validates into a Command.
type Params struct {
	ID            string
	CommandType   string
	BusinessID    string
	BranchID      string
	ActorKind     tenancy.ActorKind
	ActorID       string
	Payload       map[string]any
	IssuedAt      time.Time
	CorrelationID string
	SourceEngine  string
	ScopeReq      tenancy.ScopeRequirement
	ActorReq      tenancy.ActorRequirement
}

// New validates p and builds the command. The payload is deep-copied; the
// returned value never changes.
func New(p Params) (*Command, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("command: id must not be empty")
	}
	if err := ValidateCommandType(p.CommandType); err != nil {
		return nil, err
	}
	if p.SourceEngine == "" {
		return nil, fmt.Errorf("command: source engine must not be empty")
	}
	if first := strings.SplitN(p.CommandType, ".", 2)[0]; first != p.SourceEngine {
		return nil, fmt.Errorf("command: source engine %q does not own intent %q", p.SourceEngine, p.CommandType)
	}
	if p.BusinessID == "" {
		return nil, fmt.Errorf("command: business id must not be empty")
	}
	if !p.ActorKind.Valid() {
		return nil, fmt.Errorf("command: invalid actor kind %q", p.ActorKind)
	}
	if p.ActorID == "" {
		return nil, fmt.Errorf("command: actor id must not be empty")
	}
	if !p.ScopeReq.Valid() {
		return nil, fmt.Errorf("command: invalid scope requirement %q", p.ScopeReq)
	}
	if !p.ActorReq.Valid() {
		return nil, fmt.Errorf("command: invalid actor requirement %q", p.ActorReq)
	}
	if p.ScopeReq == tenancy.BranchRequired && p.BranchID == "" {
		return nil, fmt.Errorf("command: %s requires a branch id", tenancy.BranchRequired)
	}
	if p.IssuedAt.IsZero() {
		return nil, fmt.Errorf("command: issued-at must be set")
	}
	if p.CorrelationID == "" {
		return nil, fmt.Errorf("command: correlation id must not be empty")
	}
	payload, err := validatePayload(p.Payload)
	if err != nil {
		return nil, err
	}

	return &Command{
		id:            p.ID,
		commandType:   p.CommandType,
		businessID:    p.BusinessID,
		branchID:      p.BranchID,
		actorKind:     p.ActorKind,
		actorID:       p.ActorID,
		payload:       payload,
		issuedAt:      p.IssuedAt.UTC(),
		correlationID: p.CorrelationID,
		sourceEngine:  p.SourceEngine,
		scopeReq:      p.ScopeReq,
		actorReq:      p.ActorReq,
	}, nil
}

// ValidateCommandType checks the intent grammar: lowercase, dot-separated,
// at least four segments, last segment literally "request".
func ValidateCommandType(t string) error {
	segs := strings.Split(t, ".")
	if len(segs) < 4 {
		return fmt.Errorf("command: intent %q needs at least four segments", t)
	}
	for _, s := range segs {
		if s == "" || s != strings.ToLower(s) {
			return fmt.Errorf("command: intent %q must be lowercase with non-empty segments", t)
		}
	}
	if segs[len(segs)-1] != "request" {
		return fmt.Errorf("command: intent %q must end in %q", t, requestSuffix)
	}
	return nil
}

// validatePayload deep-copies the payload, rejecting values that are not
// scalars, lists, or string-keyed maps.
func validatePayload(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		cv, err := copyPayloadValue(v)
		if err != nil {
			return nil, fmt.Errorf("command: payload field %q: %w", k, err)
		}
		out[k] = cv
	}
	return out, nil
}

func copyPayloadValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string,
		int, int32, int64, uint, uint32, uint64,
		float32, float64:
		return t, nil
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			ce, err := copyPayloadValue(e)
			if err != nil {
				return nil, err
			}
			m[k] = ce
		}
		return m, nil
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			ce, err := copyPayloadValue(e)
			if err != nil {
				return nil, err
			}
			l[i] = ce
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported payload value of type %T", v)
	}
}

func (c *Command) ID() string                             { return c.id }
func (c *Command) Type() string                           { return c.commandType }
func (c *Command) BusinessID() string                     { return c.businessID }
func (c *Command) BranchID() string                       { return c.branchID }
func (c *Command) ActorKind() tenancy.ActorKind           { return c.actorKind }
func (c *Command) ActorID() string                        { return c.actorID }
func (c *Command) IssuedAt() time.Time                    { return c.issuedAt }
func (c *Command) CorrelationID() string                  { return c.correlationID }
func (c *Command) SourceEngine() string                   { return c.sourceEngine }
func (c *Command) ScopeRequirement() tenancy.ScopeRequirement { return c.scopeReq }
func (c *Command) ActorRequirement() tenancy.ActorRequirement { return c.actorReq }

// Payload returns a copy; the command's own payload never changes.
func (c *Command) Payload() map[string]any {
	cp, _ := validatePayload(c.payload)
	return cp
}

// PayloadField reads one payload field without copying the whole map.
func (c *Command) PayloadField(key string) (any, bool) {
	v, ok := c.payload[key]
	return v, ok
}

// Info projects the command fields the event factory stamps on envelopes.
func (c *Command) Info() event.CommandInfo {
	return event.CommandInfo{
		CommandID:     c.id,
		TenantID:      c.businessID,
		BranchID:      c.branchID,
		CorrelationID: c.correlationID,
		ActorID:       c.actorID,
		ActorKind:     c.actorKind,
	}
}

// IsRead reports whether the intent's action segment names a read-only
// operation. Reads bypass resilience gating.
func (c *Command) IsRead() bool {
	segs := strings.Split(c.commandType, ".")
	action := segs[len(segs)-2]
	switch action {
	case "query", "list", "get", "view", "report", "export":
		return true
	}
	return false
}
