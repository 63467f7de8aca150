package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Postgres is a Store backed by PostgreSQL through lib/pq.
type Postgres struct {
	sqlStore
}

// NewPostgres wraps an existing connection. The schema is not applied;
// call Init for that.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{sqlStore{db: db, d: postgresDialect, uniqueKey: postgresUniqueKey}}
}

// OpenPostgres connects to dsn, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := NewPostgres(db)
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the facts table and indexes if they don't exist.
func (s *Postgres) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// postgresUniqueKey maps a unique_violation to the violated column using the
// constraint name Postgres generated for it (facts_pkey, facts_<col>_key).
func postgresUniqueKey(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pgUniqueViolation {
		return ""
	}
	switch {
	case strings.Contains(pqErr.Constraint, KeyIdempotencyKey):
		return KeyIdempotencyKey
	case strings.Contains(pqErr.Constraint, KeyChainSeq):
		return KeyChainSeq
	case strings.HasSuffix(pqErr.Constraint, "_pkey"):
		return KeyID
	}
	return ""
}
