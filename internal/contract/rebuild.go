package contract

import (
	"context"
	"fmt"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/ledger"
)

// EntityType is the entity type of contract facts.
const EntityType = "contract"

// Outcome types the index is derived from.
const (
	intakeOutcome     = "CONTRACT_INTAKE"
	transitionOutcome = "STATE_TRANSITION"
)

// Source walks ledger records in append order. Implemented by *ledger.Ledger.
type Source interface {
	Walk(ctx context.Context, q ledger.Query, fn func(ir.Record) error) error
}

// IntakeMetadata is the metadata of the CONTRACT_INTAKE fact for c.
func IntakeMetadata(c Contract) map[string]any {
	return map[string]any{
		"slot_id":       c.SlotID,
		"producer_id":   c.ProducerID,
		"customer_id":   c.CustomerID,
		"monthly_value": c.MonthlyValue,
		"state":         string(c.State),
	}
}

// TransitionMetadata is the metadata of the STATE_TRANSITION fact for t.
func TransitionMetadata(t Transition, br BlastRadius) map[string]any {
	return map[string]any{
		"from":         string(t.From),
		"to":           string(t.To),
		"actor":        t.Actor,
		"reason":       t.Reason,
		"blast_radius": br.Summary(),
	}
}

// Rebuild replaces the index contents with the contracts described by the
// intake and transition facts in src.
func (ix *Index) Rebuild(ctx context.Context, src Source) error {
	const op = "contract.Rebuild"

	fresh := NewIndex()
	err := src.Walk(ctx, ledger.Query{
		EntityType:   EntityType,
		OutcomeTypes: []string{intakeOutcome, transitionOutcome},
	}, func(rec ir.Record) error {
		switch rec.OutcomeType {
		case intakeOutcome:
			c, err := contractFromIntake(rec)
			if err != nil {
				return failure.Integrity(op, "intake fact %s: %v", rec.ID, err)
			}
			if err := fresh.Add(c); err != nil {
				return failure.Integrity(op, "intake fact %s: %v", rec.ID, err)
			}
		case transitionOutcome:
			if err := fresh.applyTransition(rec); err != nil {
				return failure.Integrity(op, "transition fact %s: %v", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.contracts, ix.bySlot, ix.byProducer, ix.byCustomer = fresh.contracts, fresh.bySlot, fresh.byProducer, fresh.byCustomer
	ix.mu.Unlock()
	return nil
}

func contractFromIntake(rec ir.Record) (Contract, error) {
	m := rec.Metadata
	value, ok := m["monthly_value"].(float64)
	if !ok {
		return Contract{}, fmt.Errorf("monthly_value is %T", m["monthly_value"])
	}
	return Contract{
		ID:           rec.EntityID,
		State:        State(str(m, "state")),
		SlotID:       str(m, "slot_id"),
		ProducerID:   str(m, "producer_id"),
		CustomerID:   str(m, "customer_id"),
		MonthlyValue: value,
		CreatedAt:    rec.OccurredAt,
	}, nil
}

func (ix *Index) applyTransition(rec ir.Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	c, ok := ix.contracts[rec.EntityID]
	if !ok {
		return fmt.Errorf("unknown contract %s", rec.EntityID)
	}
	from, to := State(str(rec.Metadata, "from")), State(str(rec.Metadata, "to"))
	if from != c.State {
		return fmt.Errorf("contract %s is in %s, fact moves it from %s", c.ID, c.State, from)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown state %q", to)
	}
	c.State = to
	c.History = append(c.History, Transition{
		From:   from,
		To:     to,
		Actor:  str(rec.Metadata, "actor"),
		Reason: str(rec.Metadata, "reason"),
		At:     rec.OccurredAt,
		FactID: rec.ID,
	})
	return nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
