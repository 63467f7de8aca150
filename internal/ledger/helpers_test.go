package ledger

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/store"
	"github.com/roach88/ledgerline/internal/testutil"
)

var epoch = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T, s store.Store) *Ledger {
	t.Helper()
	return New(s, Options{
		Clock:  testutil.NewDeterministicClock(epoch, time.Second),
		NewID:  testutil.NewSequentialIDs("fact").Next,
		Logger: quietLogger(),
	})
}

func newSQLiteLedger(t *testing.T) (*Ledger, *store.SQLite) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newTestLedger(t, s), s
}

func newMemoryLedger(t *testing.T) (*Ledger, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	return newTestLedger(t, s), s
}

func testFact(outcomeType, entityID string, offset time.Duration) ir.Fact {
	return ir.Fact{
		OutcomeType: outcomeType,
		EntityID:    entityID,
		EntityType:  "contract",
		Tier:        ir.TierA,
		Weight:      0.4,
		Metadata:    map[string]any{"source": "test"},
		OccurredAt:  epoch.Add(offset),
		RuleVersion: "1.0.0",
	}
}

func urgentFact(outcomeType, entityID string, offset time.Duration) ir.Fact {
	f := testFact(outcomeType, entityID, offset)
	f.Tier = ir.TierS
	f.Weight = -0.8
	return f
}

func newMemStore() store.Store { return store.NewMemory() }
