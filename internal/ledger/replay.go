package ledger

import (
	"context"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/store"
)

// Replay returns every entry from position fromSeq (1-based, inclusive) to
// the end of the ledger in (occurred_at, id) order.
//
// Positions are derived from the ordering at read time. A back-dated append
// shifts the positions of later-occurring entries; ChainSeq does not move.
func (l *Ledger) Replay(ctx context.Context, fromSeq int64) ([]ir.Entry, error) {
	entries := []ir.Entry{}
	err := l.ReplayEach(ctx, fromSeq, func(e ir.Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplayPage returns at most limit entries starting at position fromSeq.
func (l *Ledger) ReplayPage(ctx context.Context, fromSeq int64, limit int) ([]ir.Entry, error) {
	const op = "ledger.ReplayPage"
	if fromSeq < 1 {
		return nil, failure.Validation(op, "from sequence must be >= 1, got %d", fromSeq)
	}
	if limit <= 0 {
		return nil, failure.Validation(op, "limit must be positive, got %d", limit)
	}

	recs, err := l.store.Select(ctx, store.Filter{
		Order:  store.OrderOccurred,
		Offset: int(fromSeq - 1),
		Limit:  limit,
	})
	if err != nil {
		return nil, failure.Transient(op, err)
	}

	entries := make([]ir.Entry, len(recs))
	for i, rec := range recs {
		entries[i] = rec.ToEntry(fromSeq + int64(i))
	}
	return entries, nil
}

// ReplayEach streams entries from position fromSeq to fn in replay order.
// Returning an error from fn stops the replay with that error. The context
// is checked between pages.
func (l *Ledger) ReplayEach(ctx context.Context, fromSeq int64, fn func(ir.Entry) error) error {
	if fromSeq < 1 {
		return failure.Validation("ledger.Replay", "from sequence must be >= 1, got %d", fromSeq)
	}

	seq := fromSeq
	return l.scan(ctx, store.Filter{Order: store.OrderOccurred, Offset: int(fromSeq - 1)}, func(rec ir.Record) error {
		e := rec.ToEntry(seq)
		seq++
		return fn(e)
	})
}
