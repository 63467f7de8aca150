package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/ledgerline/internal/ir"
)

// createTestStore creates a new SQLite store in a temp directory.
func createTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns one instance of every locally runnable Store.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	modernc, err := OpenWithDriver(DriverModernc, filepath.Join(t.TempDir(), "modernc.db"))
	if err != nil {
		t.Fatalf("OpenWithDriver(modernc) failed: %v", err)
	}
	t.Cleanup(func() { modernc.Close() })

	return map[string]Store{
		"sqlite":  createTestStore(t),
		"modernc": modernc,
		"memory":  NewMemory(),
	}
}

var testEpoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

// createTestRecord creates a record with minimal required fields.
// The hash fields are placeholders; the store does not verify them.
func createTestRecord(seq int64, outcomeType, entityID string, offset time.Duration) ir.Record {
	return ir.Record{
		Fact: ir.Fact{
			ID:          fmt.Sprintf("fact-%03d", seq),
			OutcomeType: outcomeType,
			EntityID:    entityID,
			EntityType:  "contract",
			Tier:        ir.TierA,
			Weight:      0.5,
			Metadata:    map[string]any{},
			OccurredAt:  testEpoch.Add(offset),
			RuleVersion: "1.0.0",
		},
		ChainSeq:  seq,
		PrevHash:  fmt.Sprintf("prev-%d", seq),
		Hash:      fmt.Sprintf("hash-%d", seq),
		CreatedAt: testEpoch.Add(time.Duration(seq) * time.Second),
	}
}
