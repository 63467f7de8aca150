package contract

import (
	"github.com/roach88/ledgerline/internal/failure"
)

// RiskLevel grades a blast radius by the number of affected contracts.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// StateChange is the from/to pair a blast radius is computed for.
type StateChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// BlastRadius is the downstream impact of moving one contract to a new state.
// It is computed on demand and never stored on its own.
type BlastRadius struct {
	ContractID          string      `json:"contract_id"`
	Transition          StateChange `json:"transition"`
	AffectedContractIDs []string    `json:"affected_contract_ids"`
	AffectedCount       int         `json:"affected_count"`
	UniqueCustomers     int         `json:"unique_customers"`
	RevenueImpact       float64     `json:"revenue_impact"`
	RiskLevel           RiskLevel   `json:"risk_level"`
}

// revenueWeights multiplies affected revenue by target state. Others are 1.0.
var revenueWeights = map[State]float64{
	Intervention: 1.5,
	Monitor:      1.2,
	Stable:       0.5,
	Closed:       2.0,
}

// RevenueWeight returns the revenue multiplier for moving into s.
func RevenueWeight(s State) float64 {
	if w, ok := revenueWeights[s]; ok {
		return w
	}
	return 1.0
}

// Risk grades an affected-contract count.
func Risk(affected int) RiskLevel {
	switch {
	case affected > 10:
		return RiskHigh
	case affected > 5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// BlastRadius reports every other contract that shares the subject's slot
// or producer, and the revenue exposed by moving the subject into newState.
// It reads the index only.
func (ix *Index) BlastRadius(contractID string, newState State) (BlastRadius, error) {
	const op = "contract.BlastRadius"
	if !newState.Valid() {
		return BlastRadius{}, failure.Validation(op, "unknown state %q", newState)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	subject, ok := ix.contracts[contractID]
	if !ok {
		return BlastRadius{}, failure.NotFound(op, "contract %s not found", contractID)
	}

	affected := make(map[string]struct{})
	for id := range ix.bySlot[subject.SlotID] {
		affected[id] = struct{}{}
	}
	for id := range ix.byProducer[subject.ProducerID] {
		affected[id] = struct{}{}
	}
	delete(affected, subject.ID)

	ids := sortedKeys(affected)
	customers := make(map[string]struct{})
	var revenue float64
	for _, id := range ids {
		c := ix.contracts[id]
		customers[c.CustomerID] = struct{}{}
		revenue += c.MonthlyValue
	}

	return BlastRadius{
		ContractID:          subject.ID,
		Transition:          StateChange{From: subject.State, To: newState},
		AffectedContractIDs: ids,
		AffectedCount:       len(ids),
		UniqueCustomers:     len(customers),
		RevenueImpact:       revenue * RevenueWeight(newState),
		RiskLevel:           Risk(len(ids)),
	}, nil
}

// Summary is the form of a blast radius embedded in transition facts.
func (b BlastRadius) Summary() map[string]any {
	ids := make([]any, len(b.AffectedContractIDs))
	for i, id := range b.AffectedContractIDs {
		ids[i] = id
	}
	return map[string]any{
		"affected_contract_ids": ids,
		"affected_count":        b.AffectedCount,
		"unique_customers":      b.UniqueCustomers,
		"revenue_impact":        b.RevenueImpact,
		"risk_level":            string(b.RiskLevel),
	}
}
