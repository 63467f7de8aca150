package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/store"
	"github.com/roach88/ledgerline/internal/telemetry"
)

const (
	// DefaultMaxAppendAttempts bounds chain-position retries per append.
	DefaultMaxAppendAttempts = 32

	// DefaultPageSize is the number of records read per store round trip during scans.
	DefaultPageSize = 500

	// DefaultRecentLimit is used by RecentFacts when no limit is given.
	DefaultRecentLimit = 50
)

// Clock supplies wall time for created_at stamps and defaulted occurred_at values.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewID returns a UUIDv7 string.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Options configures a Ledger. Zero values select defaults.
type Options struct {
	Clock             Clock
	NewID             func() string
	MaxAppendAttempts int
	PageSize          int
	Logger            *slog.Logger
	Metrics           *telemetry.Metrics
}

// Ledger is the append-only fact log.
// Safe for concurrent use; coordination happens in the store.
type Ledger struct {
	store       store.Store
	clock       Clock
	newID       func() string
	maxAttempts int
	pageSize    int
	log         *slog.Logger
	metrics     *telemetry.Metrics
}

// New creates a Ledger over s.
func New(s store.Store, opts Options) *Ledger {
	l := &Ledger{
		store:       s,
		clock:       opts.Clock,
		newID:       opts.NewID,
		maxAttempts: opts.MaxAppendAttempts,
		pageSize:    opts.PageSize,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
	if l.clock == nil {
		l.clock = systemClock{}
	}
	if l.newID == nil {
		l.newID = NewID
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = DefaultMaxAppendAttempts
	}
	if l.pageSize <= 0 {
		l.pageSize = DefaultPageSize
	}
	if l.log == nil {
		l.log = slog.Default().With("component", "ledger")
	}
	return l
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time {
	return l.clock.Now()
}

// Head returns the record at the end of the hash chain.
// ok is false for an empty ledger.
func (l *Ledger) Head(ctx context.Context) (rec ir.Record, ok bool, err error) {
	recs, err := l.store.Select(ctx, store.Filter{Order: store.OrderChain, Desc: true, Limit: 1})
	if err != nil {
		return ir.Record{}, false, failure.Transient("ledger.Head", err)
	}
	if len(recs) == 0 {
		return ir.Record{}, false, nil
	}
	return recs[0], true, nil
}

// Get returns the record with the given fact id.
func (l *Ledger) Get(ctx context.Context, id string) (ir.Record, error) {
	recs, err := l.store.Select(ctx, store.Filter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return ir.Record{}, failure.Transient("ledger.Get", err)
	}
	if len(recs) == 0 {
		return ir.Record{}, failure.NotFound("ledger.Get", "fact %s not found", id)
	}
	return recs[0], nil
}

// byKey returns the record carrying an idempotency key.
func (l *Ledger) byKey(ctx context.Context, key string) (ir.Record, bool, error) {
	recs, err := l.store.Select(ctx, store.Filter{IdempotencyKey: key, Limit: 1})
	if err != nil {
		return ir.Record{}, false, err
	}
	if len(recs) == 0 {
		return ir.Record{}, false, nil
	}
	return recs[0], true, nil
}

// scan visits every record matching f in f's order, one page at a time.
// Chain-ordered scans page by key (chain_seq) so concurrent appends cannot
// shift the window; occurrence-ordered scans page by offset.
func (l *Ledger) scan(ctx context.Context, f store.Filter, fn func(ir.Record) error) error {
	f.Limit = l.pageSize
	f.Desc = false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := l.store.Select(ctx, f)
		if err != nil {
			return failure.Transient("ledger.scan", err)
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < l.pageSize {
			return nil
		}
		if f.Order == store.OrderChain {
			f.MinChainSeq = page[len(page)-1].ChainSeq + 1
		} else {
			f.Offset += len(page)
		}
	}
}
