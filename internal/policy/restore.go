package policy

import (
	"context"
	"fmt"

	"github.com/roach88/ledgerline/internal/classify"
	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/ledger"
)

// auditOutcomes are the fact types the policy engine writes.
var auditOutcomes = []string{
	string(classify.PolicyRegistered),
	string(classify.PolicyObserved),
	string(classify.PolicyExecuted),
	string(classify.PolicyActualRecorded),
	string(classify.PolicyPromoted),
	string(classify.PolicyKilled),
}

// Restore rebuilds the policy table from the policy audit facts in the
// ledger, replacing whatever the engine held. Facts are applied in append
// order, so the result matches the state at the time of the last write.
func (e *Engine) Restore(ctx context.Context) error {
	const op = "policy.Restore"

	entries := make(map[string]*entry)
	var order []string

	err := e.ledger.Walk(ctx, ledger.Query{EntityType: EntityType, OutcomeTypes: auditOutcomes}, func(rec ir.Record) error {
		id, _ := rec.Metadata["policy_id"].(string)
		if id == "" {
			id = rec.EntityID
		}

		if classify.OutcomeType(rec.OutcomeType) == classify.PolicyRegistered {
			spec := Spec{
				ID:        id,
				Trigger:   str(rec.Metadata, "trigger"),
				Action:    str(rec.Metadata, "action"),
				Condition: str(rec.Metadata, "condition"),
			}
			prg, err := e.conds.compile(spec.Condition)
			if err != nil {
				return failure.Integrity(op, "policy %s has an invalid stored condition: %v", id, err)
			}
			entries[id] = &entry{
				policy: Policy{
					ID:        id,
					Trigger:   spec.Trigger,
					Action:    spec.Action,
					Condition: spec.Condition,
					Mode:      ModeShadow,
					CreatedAt: rec.OccurredAt,
				},
				prg: prg,
				obs: make(map[string]*Observation),
			}
			order = append(order, id)
			return nil
		}

		ent, ok := entries[id]
		if !ok {
			return failure.Integrity(op, "fact %s references unregistered policy %s", rec.ID, id)
		}
		return ent.apply(rec)
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.entries = entries
	e.order = order
	e.mu.Unlock()

	e.log.Info("policies restored", "count", len(order))
	return nil
}

// apply replays one audit fact onto the entry.
func (ent *entry) apply(rec ir.Record) error {
	meta := rec.Metadata
	switch classify.OutcomeType(rec.OutcomeType) {
	case classify.PolicyObserved:
		ent.addObservation(Observation{
			PolicyID:    ent.policy.ID,
			FactID:      str(meta, "fact_id"),
			Prediction:  str(meta, "prediction"),
			PredictedAt: rec.OccurredAt,
		})

	case classify.PolicyActualRecorded:
		o, ok := ent.obs[str(meta, "fact_id")]
		if !ok {
			return fmt.Errorf("policy %s: actual for unobserved fact %s", ent.policy.ID, str(meta, "fact_id"))
		}
		actual := str(meta, "actual")
		correct, _ := meta["correct"].(bool)
		o.Actual, o.Correct = &actual, &correct

		p := &ent.policy
		p.EvaluatedCount++
		if correct {
			p.CorrectPredictions++
		}
		p.Confidence = confidence(p.CorrectPredictions, p.EvaluatedCount)

	case classify.PolicyExecuted:
		ent.policy.ExecutionCount++

	case classify.PolicyPromoted, classify.PolicyKilled:
		to := Mode(str(meta, "to"))
		if !to.Valid() {
			return fmt.Errorf("policy %s: invalid mode %q in fact %s", ent.policy.ID, to, rec.ID)
		}
		applyMode(&ent.policy, to, str(meta, "reason"), rec.OccurredAt)
	}
	return nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
