// Package audit records the immutable execution trail and data-processing
// consent. Entries are append-only: nothing in this package mutates or
// deletes a written record.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bosworks/bos/core/pkg/kernel"
)

// Status classifies how a dispatch terminated.
type Status string

const (
	StatusExecuted Status = "EXECUTED"
	StatusRejected Status = "REJECTED"
	StatusError    Status = "ERROR"
)

func (s Status) Valid() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusError:
		return true
	}
	return false
}

// Entry is one immutable audit record. Every dispatched command produces
// exactly one, whatever its outcome.
type Entry struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	BranchID      string         `json:"branch_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	ActorKind     string         `json:"actor_kind"`
	CommandID     string         `json:"command_id"`
	CommandType   string         `json:"command_type"`
	CorrelationID string         `json:"correlation_id"`
	Status        Status         `json:"status"`
	EventID       string         `json:"event_id,omitempty"`
	EventType     string         `json:"event_type,omitempty"`
	RejectionCode string         `json:"rejection_code,omitempty"`
	PolicyName    string         `json:"policy_name,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

// Trail is the append-only audit sink, writing one JSON object per line.
type Trail struct {
	mu      sync.Mutex
	writer  io.Writer
	clock   kernel.Clock
	ids     kernel.IDProvider
	entries []Entry
	retain  bool
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithWriter redirects trail output. Defaults to os.Stdout.
func WithWriter(w io.Writer) TrailOption {
	return func(t *Trail) {
		if w != nil {
			t.writer = w
		}
	}
}

// WithRetention keeps written entries in memory for querying. Intended
// for embedded deployments and tests; production queries go to the
// persisted stream.
func WithRetention() TrailOption {
	return func(t *Trail) { t.retain = true }
}

func NewTrail(clock kernel.Clock, ids kernel.IDProvider, opts ...TrailOption) *Trail {
	t := &Trail{writer: os.Stdout, clock: clock, ids: ids}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record stamps identity and time onto the entry and appends it. The
// caller's entry is not retained; the stamped copy is returned.
func (t *Trail) Record(e Entry) (Entry, error) {
	if !e.Status.Valid() {
		return Entry{}, fmt.Errorf("audit: unknown status %q", e.Status)
	}
	if e.TenantID == "" || e.CommandID == "" {
		return Entry{}, fmt.Errorf("audit: entry missing identity")
	}
	e.ID = t.ids.NewID()
	e.RecordedAt = t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := t.writer.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("audit: write entry: %w", err)
	}
	if t.retain {
		t.entries = append(t.entries, e)
	}
	return e, nil
}

// EntriesForTenant returns retained entries for one tenant in write order.
// Empty unless the trail was built with WithRetention.
func (t *Trail) EntriesForTenant(tenantID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for _, e := range t.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out
}
