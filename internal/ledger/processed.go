package ledger

import (
	"context"
	"strings"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/store"
)

// Idempotency key namespaces written by the system itself. External events
// may not use them.
const (
	ProcessedKeyPrefix = "processed:"
	PolicyKeyPrefix    = "policy:"
	ContractKeyPrefix  = "contract:"
)

var reservedKeyPrefixes = []string{ProcessedKeyPrefix, PolicyKeyPrefix, ContractKeyPrefix}

// IsReservedKey reports whether key falls in a system namespace.
func IsReservedKey(key string) bool {
	for _, prefix := range reservedKeyPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// ProcessedKey returns the idempotency key of the marker for factID.
// At most one marker can exist per trigger.
func ProcessedKey(factID string) string {
	return ProcessedKeyPrefix + factID
}

// Holds reports whether the result carries f itself or an earlier append of
// the same system fact. A skipped result holding another outcome type or
// entity means a different fact owns the idempotency key.
func (r AppendResult) Holds(f ir.Fact) bool {
	return r.Fact.OutcomeType == f.OutcomeType &&
		r.Fact.EntityID == f.EntityID &&
		r.Fact.EntityType == f.EntityType
}

// MarkProcessed records that a trigger fact was handled by processName by
// appending a "<type>.processed" companion fact. The trigger itself is never
// modified. Marking twice is an idempotent success.
func (l *Ledger) MarkProcessed(ctx context.Context, factID, processName string) (AppendResult, error) {
	const op = "ledger.MarkProcessed"

	trigger, err := l.Get(ctx, factID)
	if err != nil {
		return AppendResult{}, err
	}
	if _, isMarker := ir.ProcessedBase(trigger.OutcomeType); isMarker {
		return AppendResult{}, failure.Validation(op, "fact %s is itself a processed marker", factID)
	}

	marker := ir.Fact{
		OutcomeType: ir.ProcessedType(trigger.OutcomeType),
		EntityID:    trigger.EntityID,
		EntityType:  trigger.EntityType,
		Tier:        ir.TierA,
		Weight:      0,
		Metadata: map[string]any{
			"fact_id": factID,
			"process": processName,
		},
		IdempotencyKey: ProcessedKey(factID),
		RuleVersion:    trigger.RuleVersion,
	}
	res, err := l.Append(ctx, marker)
	if err != nil {
		return AppendResult{}, err
	}
	if res.Skipped && !res.Holds(marker) {
		return AppendResult{}, failure.Integrity(op, "processed key for %s is held by %s fact %s", factID, res.Fact.OutcomeType, res.Fact.ID)
	}
	return res, nil
}

// ProcessedSet returns the ids of every fact that has a processed marker.
// The set is derived from a ledger scan; nothing is stored separately. Only
// "<type>.processed" facts whose fact_id matches their key count as markers.
func (l *Ledger) ProcessedSet(ctx context.Context) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	err := l.scan(ctx, store.Filter{Order: store.OrderChain, KeyPrefix: ProcessedKeyPrefix}, func(rec ir.Record) error {
		if _, isMarker := ir.ProcessedBase(rec.OutcomeType); !isMarker {
			return nil
		}
		id, _ := rec.Metadata["fact_id"].(string)
		if id == "" || rec.IdempotencyKey != ProcessedKey(id) {
			return nil
		}
		set[id] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// UnprocessedTriggers returns S-tier facts lacking a processed marker,
// oldest first.
func (l *Ledger) UnprocessedTriggers(ctx context.Context) ([]ir.Fact, error) {
	processed, err := l.ProcessedSet(ctx)
	if err != nil {
		return nil, err
	}

	out := []ir.Fact{}
	err = l.scan(ctx, store.Filter{Order: store.OrderOccurred, Tiers: []ir.Tier{ir.TierS}}, func(rec ir.Record) error {
		if _, done := processed[rec.ID]; !done {
			out = append(out, rec.Fact)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
