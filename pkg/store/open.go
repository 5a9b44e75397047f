package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) a SQLite-backed sink at path. Use
// ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string) (*SQLSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	// SQLite serialises writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	return initSink(ctx, db, DialectSQLite)
}

// OpenPostgres connects to a Postgres-backed sink.
func OpenPostgres(ctx context.Context, dsn string) (*SQLSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return initSink(ctx, db, DialectPostgres)
}

func initSink(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLSink, error) {
	sink, err := NewSQLSink(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := sink.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// Close releases the underlying database handle.
func (s *SQLSink) Close() error { return s.db.Close() }
