package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
)

func appendN(t *testing.T, l *Ledger, n int) []ir.Fact {
	t.Helper()
	out := make([]ir.Fact, n)
	for i := 0; i < n; i++ {
		res, err := l.Append(context.Background(), testFact("SESSION_COMPLETED", "c1", time.Duration(i)*time.Minute))
		require.NoError(t, err)
		out[i] = res.Fact
	}
	return out
}

func TestReplay_PositionalSequence(t *testing.T) {
	l, _ := newSQLiteLedger(t)
	ctx := context.Background()

	appendN(t, l, 3)
	// Back-dated fact occurs first but is chained last.
	late, err := l.Append(ctx, testFact("REVIEW_POSITIVE", "c2", -time.Hour))
	require.NoError(t, err)

	entries, err := l.Replay(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, late.Fact.ID, entries[0].Fact.ID)
	assert.Equal(t, int64(4), entries[0].ChainSeq)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestReplay_Continuity(t *testing.T) {
	l, _ := newMemoryLedger(t)
	ctx := context.Background()
	l.pageSize = 4 // force several pages

	appendN(t, l, 7)
	first, err := l.Replay(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 7)

	appendN(t, l, 5)
	rest, err := l.Replay(ctx, int64(len(first))+1)
	require.NoError(t, err)

	full, err := l.Replay(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, full, append(first, rest...), "no gaps, no duplicates")
}

func TestReplayPage(t *testing.T) {
	l, _ := newSQLiteLedger(t)
	ctx := context.Background()
	facts := appendN(t, l, 5)

	page, err := l.ReplayPage(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Sequence)
	assert.Equal(t, facts[1].ID, page[0].Fact.ID)
	assert.Equal(t, facts[2].ID, page[1].Fact.ID)

	empty, err := l.ReplayPage(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReplay_InvalidArguments(t *testing.T) {
	l, _ := newMemoryLedger(t)
	ctx := context.Background()

	_, err := l.Replay(ctx, 0)
	assert.True(t, failure.IsValidation(err))

	_, err = l.ReplayPage(ctx, 1, 0)
	assert.True(t, failure.IsValidation(err))
}

func TestReplay_Cancelled(t *testing.T) {
	l, _ := newMemoryLedger(t)
	appendN(t, l, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Replay(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReplayEach_StopsOnError(t *testing.T) {
	l, _ := newMemoryLedger(t)
	appendN(t, l, 3)

	stop := failure.Validation("test", "stop")
	seen := 0
	err := l.ReplayEach(context.Background(), 1, func(ir.Entry) error {
		seen++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestQuery(t *testing.T) {
	l, _ := newMemoryLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, urgentFact("PAYMENT_FAILED", "c1", 0))
	require.NoError(t, err)
	_, err = l.Append(ctx, testFact("PAYMENT_SUCCEEDED", "c1", time.Hour))
	require.NoError(t, err)
	_, err = l.Append(ctx, testFact("PAYMENT_SUCCEEDED", "c2", 2*time.Hour))
	require.NoError(t, err)

	byEntity, err := l.FactsByEntity(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)
	assert.Equal(t, "PAYMENT_FAILED", byEntity[0].OutcomeType)

	urgent, err := l.Query(ctx, Query{Tier: ir.TierS})
	require.NoError(t, err)
	assert.Len(t, urgent, 1)

	recent, err := l.RecentFacts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c2", recent[0].EntityID, "newest first")

	windowed, err := l.Query(ctx, Query{Since: epoch.Add(30 * time.Minute), Until: epoch.Add(90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, windowed, 1)

	_, err = l.Query(ctx, Query{Tier: "X"})
	assert.True(t, failure.IsValidation(err))

	_, err = l.FactsByEntity(ctx, "")
	assert.True(t, failure.IsValidation(err))
}

func TestGet(t *testing.T) {
	l, _ := newMemoryLedger(t)
	ctx := context.Background()

	res, err := l.Append(ctx, testFact("NO_SHOW", "c1", 0))
	require.NoError(t, err)

	rec, err := l.Get(ctx, res.Fact.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.Hash, rec.Hash)

	_, err = l.Get(ctx, "missing")
	assert.True(t, failure.IsNotFound(err))
}

func TestWalk_ChainOrder(t *testing.T) {
	l, _ := newSQLiteLedger(t)
	ctx := context.Background()

	// Appended out of occurrence order.
	for _, offset := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		_, err := l.Append(ctx, testFact("SESSION_COMPLETED", "c1", offset))
		require.NoError(t, err)
	}
	_, err := l.Append(ctx, testFact("SESSION_COMPLETED", "c2", 0))
	require.NoError(t, err)

	var seqs []int64
	err = l.Walk(ctx, Query{EntityID: "c1", Newest: true, Limit: 1}, func(rec ir.Record) error {
		seqs = append(seqs, rec.ChainSeq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}
