package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerline/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_facts_outcome'").Scan(&name)
	if err != nil {
		t.Errorf("migration index not found after idempotent opens: %v", err)
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, expected %d", version, currentSchemaVersion)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestOpenWithDriver_Unknown(t *testing.T) {
	_, err := OpenWithDriver("bogus", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
}

func TestInsertSelect_RoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := createTestRecord(1, "PAYMENT_FAILED", "c1", 0)
			rec.Tier = ir.TierS
			rec.Weight = -0.8
			rec.IdempotencyKey = "evt-1"
			rec.Metadata = map[string]any{"amount": 120.5, "note": "<b>late</b>", "tags": []any{"x"}}
			rec.OccurredAt = testEpoch.Add(1500 * time.Nanosecond)

			require.NoError(t, s.Insert(ctx, rec))

			got, err := s.Select(ctx, Filter{})
			require.NoError(t, err)
			require.Len(t, got, 1)

			assert.Equal(t, rec.ID, got[0].ID)
			assert.Equal(t, ir.TierS, got[0].Tier)
			assert.Equal(t, -0.8, got[0].Weight)
			assert.Equal(t, "evt-1", got[0].IdempotencyKey)
			assert.Equal(t, "<b>late</b>", got[0].Metadata["note"])
			assert.Equal(t, 120.5, got[0].Metadata["amount"])
			assert.Equal(t, []any{"x"}, got[0].Metadata["tags"])
			assert.True(t, got[0].OccurredAt.Equal(testEpoch.Add(time.Microsecond)), "truncated to microseconds")
			assert.Equal(t, time.UTC, got[0].OccurredAt.Location())
			assert.Equal(t, rec.Hash, got[0].Hash)
			assert.Equal(t, rec.PrevHash, got[0].PrevHash)
		})
	}
}

func TestInsert_UniqueViolations(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := createTestRecord(1, "NO_SHOW", "c1", 0)
			first.IdempotencyKey = "k1"
			require.NoError(t, s.Insert(ctx, first))

			dupKey := createTestRecord(2, "NO_SHOW", "c1", time.Second)
			dupKey.IdempotencyKey = "k1"
			uv, ok := AsUniqueViolation(s.Insert(ctx, dupKey))
			require.True(t, ok)
			assert.Equal(t, KeyIdempotencyKey, uv.Key)

			dupSeq := createTestRecord(3, "NO_SHOW", "c1", time.Second)
			dupSeq.ChainSeq = 1
			uv, ok = AsUniqueViolation(s.Insert(ctx, dupSeq))
			require.True(t, ok)
			assert.Equal(t, KeyChainSeq, uv.Key)

			dupID := createTestRecord(4, "NO_SHOW", "c1", time.Second)
			dupID.ID = first.ID
			uv, ok = AsUniqueViolation(s.Insert(ctx, dupID))
			require.True(t, ok)
			assert.Equal(t, KeyID, uv.Key)

			n, err := s.Count(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "rejected inserts leave the store unchanged")
		})
	}
}

func TestInsert_EmptyIdempotencyKeysDoNotCollide(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Insert(ctx, createTestRecord(1, "NO_SHOW", "c1", 0)))
			require.NoError(t, s.Insert(ctx, createTestRecord(2, "NO_SHOW", "c1", 0)))

			got, err := s.Select(ctx, Filter{})
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.Empty(t, got[0].IdempotencyKey)
		})
	}
}

func TestSelect_OrderingAndPaging(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// Chain order differs from occurrence order: record 3 is back-dated.
			require.NoError(t, s.Insert(ctx, createTestRecord(1, "A", "c1", 2*time.Hour)))
			require.NoError(t, s.Insert(ctx, createTestRecord(2, "A", "c1", 3*time.Hour)))
			require.NoError(t, s.Insert(ctx, createTestRecord(3, "A", "c1", time.Hour)))

			byTime, err := s.Select(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []string{"fact-003", "fact-001", "fact-002"}, ids(byTime))

			byChain, err := s.Select(ctx, Filter{Order: OrderChain})
			require.NoError(t, err)
			assert.Equal(t, []string{"fact-001", "fact-002", "fact-003"}, ids(byChain))

			head, err := s.Select(ctx, Filter{Order: OrderChain, Desc: true, Limit: 1})
			require.NoError(t, err)
			assert.Equal(t, []string{"fact-003"}, ids(head))

			page, err := s.Select(ctx, Filter{Offset: 1, Limit: 1})
			require.NoError(t, err)
			assert.Equal(t, []string{"fact-001"}, ids(page))

			tail, err := s.Select(ctx, Filter{Offset: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"fact-002"}, ids(tail))

			past, err := s.Select(ctx, Filter{Offset: 10})
			require.NoError(t, err)
			assert.NotNil(t, past)
			assert.Empty(t, past)
		})
	}
}

func TestSelect_TieBreaksOnID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := createTestRecord(1, "A", "c1", 0)
			b.ID = "b"
			a := createTestRecord(2, "A", "c1", 0)
			a.ID = "a"
			require.NoError(t, s.Insert(ctx, b))
			require.NoError(t, s.Insert(ctx, a))

			got, err := s.Select(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids(got))

			desc, err := s.Select(ctx, Filter{Desc: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a"}, ids(desc))
		})
	}
}

func TestSelect_Filters(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r1 := createTestRecord(1, "PAYMENT_FAILED", "c1", 0)
			r1.Tier = ir.TierS
			r2 := createTestRecord(2, "PAYMENT_SUCCEEDED", "c2", time.Hour)
			r3 := createTestRecord(3, "PAYMENT_FAILED.processed", "c1", 2*time.Hour)
			r3.IdempotencyKey = "processed:fact-001"
			r4 := createTestRecord(4, "CONTRACT_INTAKE", "c3", 3*time.Hour)
			r4.EntityType = "customer"
			for _, r := range []ir.Record{r1, r2, r3, r4} {
				require.NoError(t, s.Insert(ctx, r))
			}

			cases := []struct {
				name   string
				filter Filter
				want   []string
			}{
				{"entity", Filter{EntityID: "c1"}, []string{"fact-001", "fact-003"}},
				{"entity type", Filter{EntityType: "customer"}, []string{"fact-004"}},
				{"outcome types", Filter{OutcomeTypes: []string{"PAYMENT_FAILED", "CONTRACT_INTAKE"}}, []string{"fact-001", "fact-004"}},
				{"tier", Filter{Tiers: []ir.Tier{ir.TierS}}, []string{"fact-001"}},
				{"key", Filter{IdempotencyKey: "processed:fact-001"}, []string{"fact-003"}},
				{"key prefix", Filter{KeyPrefix: "processed:"}, []string{"fact-003"}},
				{"ids", Filter{IDs: []string{"fact-002", "fact-004", "missing"}}, []string{"fact-002", "fact-004"}},
				{"since", Filter{Since: testEpoch.Add(time.Hour)}, []string{"fact-002", "fact-003", "fact-004"}},
				{"until", Filter{Until: testEpoch.Add(time.Hour)}, []string{"fact-001"}},
				{"chain", Filter{MinChainSeq: 3}, []string{"fact-003", "fact-004"}},
			}
			for _, tc := range cases {
				got, err := s.Select(ctx, tc.filter)
				require.NoError(t, err, tc.name)
				assert.Equal(t, tc.want, ids(got), tc.name)

				n, err := s.Count(ctx, tc.filter)
				require.NoError(t, err, tc.name)
				assert.Equal(t, int64(len(tc.want)), n, tc.name)
			}
		})
	}
}

func ids(recs []ir.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
