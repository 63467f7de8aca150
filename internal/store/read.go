package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/ledgerline/internal/ir"
)

// Select returns records matching f.
// Results are ordered deterministically: occurred_at then id, or chain_seq.
//
// Returns an empty slice (not nil) if no records match.
func (s *sqlStore) Select(ctx context.Context, f Filter) ([]ir.Record, error) {
	query, args := buildSelect(s.d, f)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}

	return records, nil
}

// Count returns the number of records matching f.
func (s *sqlStore) Count(ctx context.Context, f Filter) (int64, error) {
	query, args := buildCount(s.d, f)

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a single facts row in factColumns order.
func scanRecord(row rowScanner) (ir.Record, error) {
	var (
		rec        ir.Record
		tier       string
		metaJSON   string
		occurredUS int64
		createdUS  int64
		idemKey    sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.ChainSeq,
		&rec.OutcomeType,
		&rec.EntityID,
		&rec.EntityType,
		&tier,
		&rec.Weight,
		&metaJSON,
		&occurredUS,
		&idemKey,
		&rec.RuleVersion,
		&rec.PrevHash,
		&rec.Hash,
		&createdUS,
	)
	if err != nil {
		return ir.Record{}, fmt.Errorf("scan fact: %w", err)
	}

	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return ir.Record{}, fmt.Errorf("scan fact %s: %w", rec.ID, err)
	}

	rec.Tier = ir.Tier(tier)
	rec.Metadata = meta
	rec.OccurredAt = fromMicros(occurredUS)
	rec.CreatedAt = fromMicros(createdUS)
	rec.IdempotencyKey = idemKey.String
	return rec, nil
}
