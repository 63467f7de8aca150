package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/ledgerline/internal/ir"
)

// sqlStore implements Store over database/sql for a given dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect

	// uniqueKey maps a driver error to the violated key, or "" when err is
	// not a unique-constraint violation.
	uniqueKey func(err error) string
}

// Insert writes a record into the facts table.
// Unlike the read paths there is no ON CONFLICT clause: callers need to know
// which unique key rejected the row, so conflicts surface as *UniqueViolation.
func (s *sqlStore) Insert(ctx context.Context, rec ir.Record) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}

	var idemKey sql.NullString
	if rec.IdempotencyKey != "" {
		idemKey = sql.NullString{String: rec.IdempotencyKey, Valid: true}
	}

	b := &queryBuilder{d: s.d}
	values := []any{
		rec.ID,
		rec.ChainSeq,
		rec.OutcomeType,
		rec.EntityID,
		rec.EntityType,
		string(rec.Tier),
		rec.Weight,
		metaJSON,
		toMicros(rec.OccurredAt),
		idemKey,
		rec.RuleVersion,
		rec.PrevHash,
		rec.Hash,
		toMicros(rec.CreatedAt),
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = b.bind(v)
	}

	query := fmt.Sprintf("INSERT INTO facts (%s) VALUES (%s)", factColumns, strings.Join(phs, ", "))
	if _, err := s.db.ExecContext(ctx, query, b.args...); err != nil {
		if key := s.uniqueKey(err); key != "" {
			return &UniqueViolation{Key: key, Err: err}
		}
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}
