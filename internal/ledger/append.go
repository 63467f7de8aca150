package ledger

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/store"
)

// AppendResult reports the outcome of an Append.
//
// Accepted is true whenever the call succeeded. Skipped is true when the
// idempotency key was already present and nothing new was written; Fact and
// Record are then the originally stored values.
type AppendResult struct {
	Accepted bool      `json:"accepted"`
	Skipped  bool      `json:"skipped"`
	Fact     ir.Fact   `json:"fact"`
	Record   ir.Record `json:"-"`
}

// Append adds a classified fact to the end of the chain.
//
// The fact must already carry its tier and weight. A missing ID is assigned
// (UUIDv7) and a zero OccurredAt defaults to the ledger clock. The append is
// all-or-nothing: any store failure returns a TransientStore error and leaves
// no partial record, so the identical call can be retried.
func (l *Ledger) Append(ctx context.Context, f ir.Fact) (AppendResult, error) {
	const op = "ledger.Append"
	start := time.Now()

	f, err := l.prepare(op, f)
	if err != nil {
		return AppendResult{}, err
	}

	if f.IdempotencyKey != "" {
		existing, ok, err := l.byKey(ctx, f.IdempotencyKey)
		if err != nil {
			return AppendResult{}, failure.Transient(op, err)
		}
		if ok {
			return l.skipped(ctx, existing, start), nil
		}
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		head, ok, err := l.Head(ctx)
		if err != nil {
			return AppendResult{}, err
		}

		rec := ir.Record{
			Fact:      f,
			ChainSeq:  1,
			PrevHash:  ir.GenesisHash,
			CreatedAt: ir.NormalizeTime(l.clock.Now()),
		}
		if ok {
			rec.ChainSeq = head.ChainSeq + 1
			rec.PrevHash = head.Hash
		}
		rec.Hash, err = ir.RecordHash(rec)
		if err != nil {
			return AppendResult{}, &failure.Error{Kind: failure.KindValidation, Op: op, Message: "fact is not hashable", Err: err}
		}

		err = l.store.Insert(ctx, rec)
		if err == nil {
			l.log.Debug("fact appended",
				"fact_id", rec.ID,
				"outcome_type", rec.OutcomeType,
				"entity_id", rec.EntityID,
				"chain_seq", rec.ChainSeq,
			)
			l.metrics.Append(ctx, rec.OutcomeType, false, time.Since(start))
			return AppendResult{Accepted: true, Fact: rec.Fact, Record: rec}, nil
		}

		uv, isUnique := store.AsUniqueViolation(err)
		if !isUnique {
			return AppendResult{}, failure.Transient(op, err)
		}

		switch uv.Key {
		case store.KeyIdempotencyKey:
			// Lost a race with an append carrying the same key.
			existing, found, err := l.byKey(ctx, f.IdempotencyKey)
			if err != nil {
				return AppendResult{}, failure.Transient(op, err)
			}
			if !found {
				return AppendResult{}, failure.Transient(op, uv)
			}
			return l.skipped(ctx, existing, start), nil

		case store.KeyChainSeq:
			l.metrics.ChainRetry(ctx)
			l.log.Debug("chain position taken, retrying",
				"chain_seq", rec.ChainSeq,
				"attempt", attempt,
			)
			if err := backoff(ctx, attempt); err != nil {
				return AppendResult{}, failure.Transient(op, err)
			}

		default:
			return AppendResult{}, failure.Validation(op, "fact id %s already exists", f.ID)
		}
	}

	return AppendResult{}, &failure.Error{
		Kind:    failure.KindTransientStore,
		Op:      op,
		Message: "chain contention: no free chain position after retries",
	}
}

func (l *Ledger) skipped(ctx context.Context, existing ir.Record, start time.Time) AppendResult {
	l.log.Debug("idempotent append skipped",
		"fact_id", existing.ID,
		"idempotency_key", existing.IdempotencyKey,
	)
	l.metrics.Append(ctx, existing.OutcomeType, true, time.Since(start))
	return AppendResult{Accepted: true, Skipped: true, Fact: existing.Fact, Record: existing}
}

// prepare validates f and fills defaults.
func (l *Ledger) prepare(op string, f ir.Fact) (ir.Fact, error) {
	switch {
	case f.OutcomeType == "":
		return f, failure.Validation(op, "outcome_type is required")
	case f.EntityID == "":
		return f, failure.Validation(op, "entity_id is required")
	case f.EntityType == "":
		return f, failure.Validation(op, "entity_type is required")
	case !f.Tier.Valid():
		return f, failure.Validation(op, "invalid tier %q", f.Tier)
	case math.IsNaN(f.Weight) || f.Weight < -1 || f.Weight > 1:
		return f, failure.Validation(op, "weight %v outside [-1, 1]", f.Weight)
	}

	if f.ID == "" {
		f.ID = l.newID()
	}
	if f.OccurredAt.IsZero() {
		f.OccurredAt = l.clock.Now()
	}
	f.OccurredAt = ir.NormalizeTime(f.OccurredAt)
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	return f, nil
}

// backoff sleeps a short, jittered, attempt-scaled interval.
func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(rand.IntN(attempt*200)+50) * time.Microsecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
