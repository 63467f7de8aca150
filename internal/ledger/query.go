package ledger

import (
	"context"
	"time"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/store"
)

// Query filters facts. Zero-valued fields do not constrain the result.
type Query struct {
	EntityID     string
	EntityType   string
	OutcomeTypes []string
	Tier         ir.Tier

	// Since is inclusive, Until is exclusive.
	Since time.Time
	Until time.Time

	// Newest orders by occurred_at descending instead of ascending.
	Newest bool

	Limit  int
	Offset int
}

func (q Query) filter() store.Filter {
	f := store.Filter{
		EntityID:     q.EntityID,
		EntityType:   q.EntityType,
		OutcomeTypes: q.OutcomeTypes,
		Since:        q.Since,
		Until:        q.Until,
		Desc:         q.Newest,
		Limit:        q.Limit,
		Offset:       q.Offset,
	}
	if q.Tier != "" {
		f.Tiers = []ir.Tier{q.Tier}
	}
	return f
}

// Query returns facts matching q.
func (l *Ledger) Query(ctx context.Context, q Query) ([]ir.Fact, error) {
	recs, err := l.QueryRecords(ctx, q)
	if err != nil {
		return nil, err
	}
	return facts(recs), nil
}

// QueryRecords is like Query but returns the stored records.
func (l *Ledger) QueryRecords(ctx context.Context, q Query) ([]ir.Record, error) {
	if q.Tier != "" && !q.Tier.Valid() {
		return nil, failure.Validation("ledger.Query", "invalid tier %q", q.Tier)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, failure.Validation("ledger.Query", "limit and offset must be non-negative")
	}
	recs, err := l.store.Select(ctx, q.filter())
	if err != nil {
		return nil, failure.Transient("ledger.Query", err)
	}
	return recs, nil
}

// FactsByEntity returns every fact about an entity, oldest first.
func (l *Ledger) FactsByEntity(ctx context.Context, entityID string) ([]ir.Fact, error) {
	if entityID == "" {
		return nil, failure.Validation("ledger.FactsByEntity", "entity_id is required")
	}
	return l.Query(ctx, Query{EntityID: entityID})
}

// RecentFacts returns the latest facts by occurrence, newest first.
func (l *Ledger) RecentFacts(ctx context.Context, limit int) ([]ir.Fact, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return l.Query(ctx, Query{Newest: true, Limit: limit})
}

// Count returns the number of facts matching q, ignoring Limit and Offset.
func (l *Ledger) Count(ctx context.Context, q Query) (int64, error) {
	n, err := l.store.Count(ctx, q.filter())
	if err != nil {
		return 0, failure.Transient("ledger.Count", err)
	}
	return n, nil
}

func facts(recs []ir.Record) []ir.Fact {
	out := make([]ir.Fact, len(recs))
	for i, r := range recs {
		out[i] = r.Fact
	}
	return out
}

// Walk visits every record matching q in append (chain) order.
// Newest, Limit and Offset are ignored. Derived views rebuild from Walk so
// they observe writes in the order they were committed.
func (l *Ledger) Walk(ctx context.Context, q Query, fn func(ir.Record) error) error {
	if q.Tier != "" && !q.Tier.Valid() {
		return failure.Validation("ledger.Walk", "invalid tier %q", q.Tier)
	}
	f := q.filter()
	f.Order = store.OrderChain
	f.Offset = 0
	return l.scan(ctx, f, fn)
}
