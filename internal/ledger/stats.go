package ledger

import (
	"context"
	"time"

	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/store"
)

// Stats summarizes the ledger.
type Stats struct {
	Total          int64             `json:"total"`
	ByTier         map[ir.Tier]int64 `json:"by_tier"`
	ByOutcome      map[string]int64  `json:"by_outcome"`
	Unprocessed    int               `json:"unprocessed"`
	LastOccurredAt *time.Time        `json:"last_occurred_at,omitempty"`
	HeadHash       string            `json:"head_hash"`
	ChainLength    int64             `json:"chain_length"`
}

// Stats scans the ledger and returns its summary.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByTier:    map[ir.Tier]int64{},
		ByOutcome: map[string]int64{},
		HeadHash:  ir.GenesisHash,
	}

	err := l.scan(ctx, store.Filter{Order: store.OrderChain}, func(rec ir.Record) error {
		st.Total++
		st.ByTier[rec.Tier]++
		st.ByOutcome[rec.OutcomeType]++
		if st.LastOccurredAt == nil || rec.OccurredAt.After(*st.LastOccurredAt) {
			t := rec.OccurredAt
			st.LastOccurredAt = &t
		}
		st.HeadHash = rec.Hash
		st.ChainLength = rec.ChainSeq
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	unprocessed, err := l.UnprocessedTriggers(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Unprocessed = len(unprocessed)
	return st, nil
}
