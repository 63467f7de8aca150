package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/ledgerline/internal/ir"
)

// Store is the durable append target consumed by the ledger.
type Store interface {
	// Insert appends a record. A unique-key conflict returns *UniqueViolation
	// and leaves the store unchanged.
	Insert(ctx context.Context, rec ir.Record) error

	// Select returns records matching f in the order f requests.
	Select(ctx context.Context, f Filter) ([]ir.Record, error)

	// Count returns the number of records matching f, ignoring Limit and Offset.
	Count(ctx context.Context, f Filter) (int64, error)

	// Close releases the store's resources.
	Close() error
}

// Unique key names reported in UniqueViolation.Key.
const (
	KeyID             = "id"
	KeyChainSeq       = "chain_seq"
	KeyIdempotencyKey = "idempotency_key"
)

// UniqueViolation reports an Insert rejected by a unique constraint.
type UniqueViolation struct {
	// Key is the violated column: KeyID, KeyChainSeq or KeyIdempotencyKey.
	Key string

	// Err is the driver error, if any.
	Err error
}

// Error implements the error interface.
func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique constraint violated on %s", e.Key)
}

// Unwrap returns the driver error.
func (e *UniqueViolation) Unwrap() error {
	return e.Err
}

// AsUniqueViolation extracts a *UniqueViolation from err.
func AsUniqueViolation(err error) (*UniqueViolation, bool) {
	var uv *UniqueViolation
	if errors.As(err, &uv) {
		return uv, true
	}
	return nil, false
}

// Order selects the sort order of Select results.
type Order int

const (
	// OrderOccurred sorts by occurred_at ASC, id ASC. This is the replay order.
	OrderOccurred Order = iota

	// OrderChain sorts by chain_seq ASC.
	OrderChain
)

// Filter selects records. Zero-valued fields do not constrain the result.
type Filter struct {
	IDs            []string
	EntityID       string
	EntityType     string
	OutcomeTypes   []string
	Tiers          []ir.Tier
	IdempotencyKey string

	// KeyPrefix matches records whose idempotency key starts with the prefix.
	KeyPrefix string

	// Since is inclusive, Until is exclusive.
	Since time.Time
	Until time.Time

	// MinChainSeq matches chain_seq >= MinChainSeq when positive.
	MinChainSeq int64

	Order Order
	Desc  bool

	// Limit <= 0 means no limit.
	Limit  int
	Offset int
}

// Match reports whether rec satisfies every constraint in f.
// Used by in-process stores; SQL stores translate f into a WHERE clause.
func (f Filter) Match(rec ir.Record) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, rec.ID) {
		return false
	}
	if f.EntityID != "" && rec.EntityID != f.EntityID {
		return false
	}
	if f.EntityType != "" && rec.EntityType != f.EntityType {
		return false
	}
	if len(f.OutcomeTypes) > 0 && !contains(f.OutcomeTypes, rec.OutcomeType) {
		return false
	}
	if len(f.Tiers) > 0 && !contains(f.Tiers, rec.Tier) {
		return false
	}
	if f.IdempotencyKey != "" && rec.IdempotencyKey != f.IdempotencyKey {
		return false
	}
	if f.KeyPrefix != "" && !strings.HasPrefix(rec.IdempotencyKey, f.KeyPrefix) {
		return false
	}
	if !f.Since.IsZero() && rec.OccurredAt.Before(ir.NormalizeTime(f.Since)) {
		return false
	}
	if !f.Until.IsZero() && !rec.OccurredAt.Before(ir.NormalizeTime(f.Until)) {
		return false
	}
	if f.MinChainSeq > 0 && rec.ChainSeq < f.MinChainSeq {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
