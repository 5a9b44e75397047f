// Package store persists the event stream in SQL. One append-only table
// holds every envelope with a per-tenant hash chain; the event id primary
// key gives command idempotency at the storage boundary.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bosworks/bos/core/pkg/canonicalize"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// Dialect selects placeholder style and schema for the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLSink is an event.Sink over database/sql. It serialises appends per
// process through the database transaction; the unique event_id column
// enforces idempotency across processes.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	sequence INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	branch_id TEXT NOT NULL DEFAULT '',
	payload JSON NOT NULL,
	correlation_id TEXT NOT NULL,
	command_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	actor_kind TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	chain_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_tenant ON events (tenant_id, sequence);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	sequence BIGSERIAL PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	branch_id TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL,
	correlation_id TEXT NOT NULL,
	command_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	actor_kind TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	chain_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_tenant ON events (tenant_id, sequence);
`

// NewSQLSink wraps an open database handle. Call Init before first use.
func NewSQLSink(db *sql.DB, dialect Dialect) (*SQLSink, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("store: unknown dialect %q", dialect)
	}
	return &SQLSink{db: db, dialect: dialect}, nil
}

// Init creates the events table.
func (s *SQLSink) Init(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// placeholder renders the n-th bind marker for the dialect.
func (s *SQLSink) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Persist appends the envelope. A replayed event id is refused with
// DUPLICATE_REQUEST; infrastructure failures are errors.
func (s *SQLSink) Persist(ctx context.Context, env event.Envelope) (event.PersistResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.PersistResult{}, fmt.Errorf("store: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM events WHERE event_id = "+s.placeholder(1),
		env.EventID).Scan(&exists)
	if err != nil {
		return event.PersistResult{}, fmt.Errorf("store: check event id: %w", err)
	}
	if exists > 0 {
		r := reject.New(reject.CodeDuplicateRequest, "event id already persisted", "event_sink")
		return event.PersistResult{Accepted: false, Rejection: &r}, nil
	}

	var prev sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT chain_hash FROM events WHERE tenant_id = "+s.placeholder(1)+
			" ORDER BY sequence DESC LIMIT 1",
		env.TenantID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return event.PersistResult{}, fmt.Errorf("store: load chain head: %w", err)
	}

	eventHash, err := canonicalize.CanonicalHash(env)
	if err != nil {
		return event.PersistResult{}, fmt.Errorf("store: hash envelope: %w", err)
	}
	chained := canonicalize.ChainHash(prev.String, eventHash)

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return event.PersistResult{}, fmt.Errorf("store: marshal payload: %w", err)
	}

	insert := fmt.Sprintf(`INSERT INTO events (
		event_id, event_type, tenant_id, branch_id, payload,
		correlation_id, command_id, actor_id, actor_kind, occurred_at, chain_hash
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8),
		s.placeholder(9), s.placeholder(10), s.placeholder(11))
	if _, err := tx.ExecContext(ctx, insert,
		env.EventID, env.EventType, env.TenantID, env.BranchID, string(payload),
		env.CorrelationID, env.CommandID, env.ActorID, string(env.ActorKind),
		env.OccurredAt.UTC().Format(time.RFC3339Nano), chained,
	); err != nil {
		return event.PersistResult{}, fmt.Errorf("store: insert event: %w", err)
	}

	var seq uint64
	err = tx.QueryRowContext(ctx,
		"SELECT sequence FROM events WHERE event_id = "+s.placeholder(1),
		env.EventID).Scan(&seq)
	if err != nil {
		return event.PersistResult{}, fmt.Errorf("store: read sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.PersistResult{}, fmt.Errorf("store: commit append: %w", err)
	}
	return event.PersistResult{Accepted: true, Sequence: seq, ChainHash: chained}, nil
}

// EventsForTenant streams the tenant's envelopes in append order, for
// projection rebuild and audit export.
func (s *SQLSink) EventsForTenant(ctx context.Context, tenantID string) ([]event.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_type, tenant_id, branch_id, payload,
			correlation_id, command_id, actor_id, actor_kind, occurred_at
		FROM events WHERE tenant_id = `+s.placeholder(1)+" ORDER BY sequence",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: query tenant stream: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []event.Envelope
	for rows.Next() {
		var env event.Envelope
		var payload, actorKind, occurredAt string
		if err := rows.Scan(&env.EventID, &env.EventType, &env.TenantID, &env.BranchID,
			&payload, &env.CorrelationID, &env.CommandID, &env.ActorID,
			&actorKind, &occurredAt); err != nil {
			return nil, fmt.Errorf("store: scan event row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &env.Payload); err != nil {
			return nil, fmt.Errorf("store: unmarshal payload for %s: %w", env.EventID, err)
		}
		env.ActorKind = tenancy.ActorKind(actorKind)
		if env.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("store: parse occurred_at for %s: %w", env.EventID, err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate tenant stream: %w", err)
	}
	return out, nil
}

// ChainHead returns the tenant's current chain hash, empty for a fresh
// tenant.
func (s *SQLSink) ChainHead(ctx context.Context, tenantID string) (string, error) {
	var head sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT chain_hash FROM events WHERE tenant_id = "+s.placeholder(1)+
			" ORDER BY sequence DESC LIMIT 1",
		tenantID).Scan(&head)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: load chain head: %w", err)
	}
	return head.String, nil
}
