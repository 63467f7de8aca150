package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
)

func chainEntries(t *testing.T, l *Ledger) []ir.Entry {
	t.Helper()
	entries, err := l.Replay(context.Background(), 1)
	require.NoError(t, err)
	return entries
}

func TestVerifyIntegrity_ValidChain(t *testing.T) {
	l, _ := newMemoryLedger(t)
	appendN(t, l, 6)

	v := VerifyIntegrity(chainEntries(t, l))
	assert.True(t, v.Valid)
	assert.Equal(t, 6, v.Checked)
	assert.Empty(t, v.BrokenAtID)
}

func TestVerifyIntegrity_Empty(t *testing.T) {
	v := VerifyIntegrity(nil)
	assert.True(t, v.Valid)
	assert.Zero(t, v.Checked)
}

func TestVerifyIntegrity_DetectsFieldMutation(t *testing.T) {
	l, _ := newMemoryLedger(t)
	facts := appendN(t, l, 5)
	entries := chainEntries(t, l)

	mutations := map[string]func(*ir.Entry){
		"weight":      func(e *ir.Entry) { e.Fact.Weight = 0.99 },
		"tier":        func(e *ir.Entry) { e.Fact.Tier = ir.TierS },
		"metadata":    func(e *ir.Entry) { e.Fact.Metadata = map[string]any{"source": "forged"} },
		"occurred_at": func(e *ir.Entry) { e.Fact.OccurredAt = e.Fact.OccurredAt.Add(time.Second) },
		"entity":      func(e *ir.Entry) { e.Fact.EntityID = "c9" },
		"prev_hash":   func(e *ir.Entry) { e.PrevHash = "0000" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tampered := make([]ir.Entry, len(entries))
			copy(tampered, entries)
			mutate(&tampered[2])

			v := VerifyIntegrity(tampered)
			assert.False(t, v.Valid)
			assert.Equal(t, facts[2].ID, v.BrokenAtID)
			assert.Equal(t, 2, v.Checked)
		})
	}
}

func TestVerifyIntegrity_RehashedTamperBreaksNextLink(t *testing.T) {
	l, _ := newMemoryLedger(t)
	facts := appendN(t, l, 4)
	entries := chainEntries(t, l)

	entries[1].Fact.Weight = -1
	entries[1].Hash = ir.MustFactHash(entries[1].Fact, entries[1].ChainSeq, entries[1].PrevHash)

	v := VerifyIntegrity(entries)
	assert.False(t, v.Valid)
	assert.Equal(t, facts[2].ID, v.BrokenAtID)
	assert.Equal(t, "prev_hash does not match previous record", v.Reason)
}

func TestVerifyIntegrity_SubsetWithGaps(t *testing.T) {
	l, _ := newMemoryLedger(t)
	appendN(t, l, 6)
	entries := chainEntries(t, l)

	subset := []ir.Entry{entries[5], entries[1], entries[3]} // unordered, non-adjacent
	v := VerifyIntegrity(subset)
	assert.True(t, v.Valid)
	assert.Equal(t, 3, v.Checked)
}

func TestVerifyIntegrity_FirstMustLinkToGenesis(t *testing.T) {
	l, _ := newMemoryLedger(t)
	facts := appendN(t, l, 2)
	entries := chainEntries(t, l)

	entries[0].PrevHash = "not-genesis"
	entries[0].Hash = ir.MustFactHash(entries[0].Fact, 1, "not-genesis")

	v := VerifyIntegrity(entries)
	assert.False(t, v.Valid)
	assert.Equal(t, facts[0].ID, v.BrokenAtID)
}

func TestVerifyAll_SQLiteTamper(t *testing.T) {
	l, s := newSQLiteLedger(t)
	ctx := context.Background()
	facts := appendN(t, l, 5)

	v, err := l.VerifyAll(ctx)
	require.NoError(t, err)
	require.True(t, v.Valid)

	_, err = s.DB().Exec("UPDATE facts SET weight = 0.95 WHERE id = ?", facts[3].ID)
	require.NoError(t, err)

	v, err = l.VerifyAll(ctx)
	require.Error(t, err)
	assert.True(t, failure.IsIntegrity(err))
	assert.False(t, v.Valid)
	assert.Equal(t, facts[3].ID, v.BrokenAtID)
	assert.Equal(t, 3, v.Checked)
}

func TestVerifyAll_DetectsDeletion(t *testing.T) {
	l, s := newSQLiteLedger(t)
	ctx := context.Background()
	facts := appendN(t, l, 4)

	_, err := s.DB().Exec("DELETE FROM facts WHERE id = ?", facts[1].ID)
	require.NoError(t, err)

	v, err := l.VerifyAll(ctx)
	require.Error(t, err)
	assert.Equal(t, facts[2].ID, v.BrokenAtID)
	assert.Equal(t, "missing chain position 2", v.Reason)
}

func TestVerifyAll_AcrossPages(t *testing.T) {
	l, m := newMemoryLedger(t)
	l.pageSize = 3
	facts := appendN(t, l, 8)
	ctx := context.Background()

	v, err := l.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, v.Checked)

	m.Tamper(facts[6].ID, func(r *ir.Record) { r.OutcomeType = "FORGED" })
	v, err = l.VerifyAll(ctx)
	require.Error(t, err)
	assert.Equal(t, facts[6].ID, v.BrokenAtID)
}

// Property: any appended chain verifies, and mutating any single entry's
// weight is caught at exactly that entry.
func TestVerifyIntegrity_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("tamper is detected at the tampered entry", prop.ForAll(
		func(n int, pick int, weights []float64) bool {
			l := newTestLedger(t, newMemStore())
			ctx := context.Background()
			for i := 0; i < n; i++ {
				f := testFact("SESSION_COMPLETED", "c1", time.Duration(i)*time.Second)
				f.Weight = weights[i%len(weights)]
				if _, err := l.Append(ctx, f); err != nil {
					return false
				}
			}
			entries, err := l.Replay(ctx, 1)
			if err != nil || !VerifyIntegrity(entries).Valid {
				return false
			}

			idx := pick % n
			entries[idx].Fact.Weight = entries[idx].Fact.Weight/2 + 0.25
			if entries[idx].Fact.Weight == weights[idx%len(weights)] {
				return true // mutation was a no-op
			}
			v := VerifyIntegrity(entries)
			return !v.Valid && v.BrokenAtID == entries[idx].Fact.ID
		},
		gen.IntRange(1, 25),
		gen.IntRange(0, 1000),
		gen.SliceOfN(5, gen.Float64Range(-1, 1)),
	))

	properties.TestingRun(t)
}
