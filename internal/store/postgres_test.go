package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerline/internal/ir"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgres_Insert(t *testing.T) {
	s, mock := newMockPostgres(t)
	rec := createTestRecord(1, "PAYMENT_FAILED", "c1", 0)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO facts (")).
		WithArgs(rec.ID, rec.ChainSeq, rec.OutcomeType, rec.EntityID, rec.EntityType, "A", 0.5,
			"{}", toMicros(rec.OccurredAt), sqlmock.AnyArg(), "1.0.0", rec.PrevHash, rec.Hash, toMicros(rec.CreatedAt)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertUniqueViolation(t *testing.T) {
	cases := map[string]string{
		"facts_idempotency_key_key": KeyIdempotencyKey,
		"facts_chain_seq_key":       KeyChainSeq,
		"facts_pkey":                KeyID,
	}
	for constraint, key := range cases {
		t.Run(constraint, func(t *testing.T) {
			s, mock := newMockPostgres(t)
			mock.ExpectExec("INSERT INTO facts").
				WillReturnError(&pq.Error{Code: pgUniqueViolation, Constraint: constraint})

			err := s.Insert(context.Background(), createTestRecord(1, "NO_SHOW", "c1", 0))
			uv, ok := AsUniqueViolation(err)
			require.True(t, ok, "expected UniqueViolation, got %v", err)
			assert.Equal(t, key, uv.Key)
		})
	}
}

func TestPostgres_InsertOtherError(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO facts").WillReturnError(errors.New("connection reset"))

	err := s.Insert(context.Background(), createTestRecord(1, "NO_SHOW", "c1", 0))
	require.Error(t, err)
	_, ok := AsUniqueViolation(err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "insert fact")
}

func TestPostgres_Select(t *testing.T) {
	s, mock := newMockPostgres(t)
	rec := createTestRecord(1, "PAYMENT_FAILED", "c1", 0)

	rows := sqlmock.NewRows([]string{"id", "chain_seq", "outcome_type", "entity_id", "entity_type", "tier",
		"weight", "metadata", "occurred_at", "idempotency_key", "rule_version", "prev_hash", "hash", "created_at"}).
		AddRow(rec.ID, rec.ChainSeq, rec.OutcomeType, rec.EntityID, rec.EntityType, "S",
			-0.8, `{"amount":10}`, toMicros(rec.OccurredAt), "evt-1", "1.0.0", rec.PrevHash, rec.Hash, toMicros(rec.CreatedAt))

	mock.ExpectQuery(regexp.QuoteMeta("FROM facts WHERE entity_id = $1 AND tier IN ($2) ORDER BY occurred_at ASC, id ASC LIMIT 5")).
		WithArgs("c1", "S").
		WillReturnRows(rows)

	got, err := s.Select(context.Background(), Filter{EntityID: "c1", Tiers: []ir.Tier{ir.TierS}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ir.TierS, got[0].Tier)
	assert.Equal(t, "evt-1", got[0].IdempotencyKey)
	assert.Equal(t, float64(10), got[0].Metadata["amount"])
	assert.True(t, got[0].OccurredAt.Equal(rec.OccurredAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Count(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM facts WHERE substr(idempotency_key, 1, 10) = $1")).
		WithArgs("processed:").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.Count(context.Background(), Filter{KeyPrefix: "processed:"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPostgres_Init(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS facts").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
